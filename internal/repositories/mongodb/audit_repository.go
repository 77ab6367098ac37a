package mongodb

import (
	"context"
	"fmt"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type auditRepository struct {
	assessments  *mongo.Collection
	achievements *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) interfaces.AuditRepository {
	return &auditRepository{
		assessments:  db.Collection("fraud_assessments"),
		achievements: db.Collection("milestone_achievements"),
	}
}

func (r *auditRepository) SaveFraudAssessment(ctx context.Context, assessment *models.FraudAssessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}

	_, err := r.assessments.InsertOne(ctx, assessment)
	if err != nil {
		return fmt.Errorf("failed to save fraud assessment: %w", err)
	}

	return nil
}

func (r *auditRepository) SaveMilestoneAchievement(ctx context.Context, achievement *models.MilestoneAchievement) error {
	if achievement.ID == "" {
		achievement.ID = uuid.NewString()
	}

	_, err := r.achievements.InsertOne(ctx, achievement)
	if err != nil {
		// The unique (user, milestone) index makes re-appends harmless.
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to save milestone achievement: %w", err)
	}

	return nil
}

func (r *auditRepository) HasMilestoneAchievement(ctx context.Context, userID, milestoneID string) (bool, error) {
	count, err := r.achievements.CountDocuments(ctx, bson.M{
		"user_id":      userID,
		"milestone_id": milestoneID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check milestone achievement: %w", err)
	}

	return count > 0, nil
}
