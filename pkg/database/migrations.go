package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the referral engine depends on. The
// referrals (referrer_user_id, status) index backs the authoritative count
// query; when it is missing the stats engine falls back to an unindexed scan.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := map[string][]mongo.IndexModel{
		"referrals": {
			{
				Keys: bson.D{
					{Key: "referrer_user_id", Value: 1},
					{Key: "status", Value: 1},
				},
			},
			{
				Keys: bson.D{
					{Key: "referrer_user_id", Value: 1},
					{Key: "created_at", Value: -1},
				},
			},
		},
		"users": {
			{
				Keys: bson.D{{Key: "stats.total_referrals", Value: -1}},
			},
			{
				Keys:    bson.D{{Key: "stats.referral_code", Value: 1}},
				Options: options.Index().SetSparse(true),
			},
		},
		"reward_grants": {
			{
				Keys: bson.D{
					{Key: "user_id", Value: 1},
					{Key: "reason", Value: 1},
					{Key: "referral_id", Value: 1},
				},
			},
		},
		"milestone_achievements": {
			{
				Keys: bson.D{
					{Key: "user_id", Value: 1},
					{Key: "milestone_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		"fraud_assessments": {
			{
				Keys: bson.D{{Key: "new_user_id", Value: 1}},
			},
		},
	}

	for collection, models := range indexes {
		_, err := m.Database.Collection(collection).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
		}
	}

	return nil
}
