package interfaces

import (
	"context"
	"time"

	"celeste/internal/models"
)

type UserRepository interface {
	// Basic operations
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetManyByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)

	// Referral code lookups. GetByReferralCodeField is the legacy scan path,
	// kept for codes issued before the dedicated index existed.
	SetReferralCode(ctx context.Context, id string, code string) error
	GetByReferralCodeField(ctx context.Context, code string) (*models.User, error)

	// Stats
	UpdateStats(ctx context.Context, id string, stats *models.ReferralStats) error

	// Leaderboard queries. GetTopReferrers relies on store-side ordering;
	// GetReferrerSample returns an unordered superset for the local-sort
	// fallback.
	GetTopReferrers(ctx context.Context, limit int) ([]*models.User, error)
	GetReferrerSample(ctx context.Context, limit int) ([]*models.User, error)

	// CountUsersWithMoreReferrals scans at most scanLimit users; the bool
	// result reports whether the scan was truncated.
	CountUsersWithMoreReferrals(ctx context.Context, referrals int, scanLimit int) (int64, bool, error)

	// Billing store contract: premium time lives on the user document.
	GetPremiumExpiry(ctx context.Context, id string) (*time.Time, error)
	GrantPremiumDays(ctx context.Context, id string, newExpiry time.Time) error
}
