package interfaces

import (
	"context"
	"time"

	"celeste/internal/models"
)

type ReferralRepository interface {
	// CreateCompleted inserts the referral record and increments the
	// referrer's total in one transaction. Returns ErrAlreadyReferred when a
	// record with the same deterministic id exists, ErrMaxReferralsReached
	// when the referrer is at maxReferrals.
	CreateCompleted(ctx context.Context, referral *models.Referral, maxReferrals int) error

	GetByID(ctx context.Context, id string) (*models.Referral, error)
	SetRewardClaimed(ctx context.Context, id string) error

	// CountCompletedByReferrer is the authoritative count behind milestone
	// detection. The implementation may fall back to an unindexed scan; the
	// result must be identical either way.
	CountCompletedByReferrer(ctx context.Context, referrerID string) (int, error)
	CountPendingByReferrer(ctx context.Context, referrerID string) (int, error)

	// ListByReferrer pages history by creation time descending from the
	// given cursor position (zero time means from the top).
	ListByReferrer(ctx context.Context, referrerID string, limit int, before time.Time, beforeID string) ([]*models.Referral, error)
}
