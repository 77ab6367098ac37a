package interfaces

import (
	"context"

	"celeste/internal/models"
)

type AuditRepository interface {
	SaveFraudAssessment(ctx context.Context, assessment *models.FraudAssessment) error

	SaveMilestoneAchievement(ctx context.Context, achievement *models.MilestoneAchievement) error
	HasMilestoneAchievement(ctx context.Context, userID, milestoneID string) (bool, error)
}
