package interfaces

import (
	"context"

	"celeste/internal/models"
)

type RewardRepository interface {
	// Append adds a grant to the append-only ledger.
	Append(ctx context.Context, grant *models.RewardGrant) error

	// Has reports whether a successful grant with the given idempotency key
	// already exists.
	Has(ctx context.Context, userID, reason, referralID string) (bool, error)
}
