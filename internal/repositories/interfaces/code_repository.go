package interfaces

import (
	"context"

	"celeste/internal/models"
)

type CodeRepository interface {
	// Reserve creates the code->owner index entry; the create is
	// unconditional and returns ErrCodeTaken when the code already exists.
	Reserve(ctx context.Context, code *models.ReferralCode) error

	Get(ctx context.Context, code string) (*models.ReferralCode, error)
}
