package mongodb

import (
	"context"
	"fmt"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type codeRepository struct {
	collection *mongo.Collection
}

func NewCodeRepository(db *mongo.Database) interfaces.CodeRepository {
	return &codeRepository{
		collection: db.Collection("referral_codes"),
	}
}

// Reserve inserts the index entry keyed by the code itself, so two
// generators picking the same code cannot both succeed.
func (r *codeRepository) Reserve(ctx context.Context, code *models.ReferralCode) error {
	_, err := r.collection.InsertOne(ctx, code)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrCodeTaken
		}
		return fmt.Errorf("failed to reserve referral code: %w", err)
	}

	return nil
}

func (r *codeRepository) Get(ctx context.Context, code string) (*models.ReferralCode, error) {
	var entry models.ReferralCode
	err := r.collection.FindOne(ctx, bson.M{"_id": code}).Decode(&entry)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}

	return &entry, nil
}
