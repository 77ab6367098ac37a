package mongodb

import (
	"context"
	"fmt"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type rewardRepository struct {
	collection *mongo.Collection
}

func NewRewardRepository(db *mongo.Database) interfaces.RewardRepository {
	return &rewardRepository{
		collection: db.Collection("reward_grants"),
	}
}

func (r *rewardRepository) Append(ctx context.Context, grant *models.RewardGrant) error {
	_, err := r.collection.InsertOne(ctx, grant)
	if err != nil {
		return fmt.Errorf("failed to append reward grant: %w", err)
	}

	return nil
}

func (r *rewardRepository) Has(ctx context.Context, userID, reason, referralID string) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"user_id":     userID,
		"reason":      reason,
		"referral_id": referralID,
		"success":     true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check reward grant: %w", err)
	}

	return count > 0, nil
}
