package mongodb

import (
	"context"
	"fmt"
	"time"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type referralRepository struct {
	collection      *mongo.Collection
	usersCollection *mongo.Collection
}

func NewReferralRepository(db *mongo.Database) interfaces.ReferralRepository {
	return &referralRepository{
		collection:      db.Collection("referrals"),
		usersCollection: db.Collection("users"),
	}
}

// CreateCompleted runs the record-creation step as a single transaction:
// duplicate guard, cap guard, referral insert and counter increment commit
// together or not at all. A reader never observes the record without the
// increment, or vice versa.
func (r *referralRepository) CreateCompleted(ctx context.Context, referral *models.Referral, maxReferrals int) error {
	session, err := r.collection.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	callback := func(sessCtx mongo.SessionContext) (interface{}, error) {
		// Duplicate guard on the deterministic id. Retried requests for the
		// same (referrer, referred) pair land here.
		err := r.collection.FindOne(sessCtx, bson.M{"_id": referral.ID}).Err()
		if err == nil {
			return nil, models.ErrAlreadyReferred
		}
		if err != mongo.ErrNoDocuments {
			return nil, fmt.Errorf("failed to check existing referral: %w", err)
		}

		// Cap guard against the referrer's current count, re-read inside the
		// transaction so concurrent signups cannot both pass it.
		var referrer struct {
			Stats struct {
				TotalReferrals int `bson:"total_referrals"`
			} `bson:"stats"`
		}
		err = r.usersCollection.FindOne(sessCtx, bson.M{
			"_id":        referral.ReferrerUserID,
			"deleted_at": nil,
		}).Decode(&referrer)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				return nil, models.ErrUserNotFound
			}
			return nil, fmt.Errorf("failed to read referrer: %w", err)
		}
		if referrer.Stats.TotalReferrals >= maxReferrals {
			return nil, models.ErrMaxReferralsReached
		}

		if _, err := r.collection.InsertOne(sessCtx, referral); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, models.ErrAlreadyReferred
			}
			return nil, fmt.Errorf("failed to insert referral: %w", err)
		}

		_, err = r.usersCollection.UpdateOne(sessCtx,
			bson.M{"_id": referral.ReferrerUserID},
			bson.M{
				"$inc": bson.M{"stats.total_referrals": 1},
				"$set": bson.M{"updated_at": time.Now()},
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to increment referral count: %w", err)
		}

		return nil, nil
	}

	_, err = session.WithTransaction(ctx, callback)
	return err
}

func (r *referralRepository) GetByID(ctx context.Context, id string) (*models.Referral, error) {
	var referral models.Referral
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&referral)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}

	return &referral, nil
}

func (r *referralRepository) SetRewardClaimed(ctx context.Context, id string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"reward_claimed": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark reward claimed: %w", err)
	}

	return nil
}

func (r *referralRepository) CountCompletedByReferrer(ctx context.Context, referrerID string) (int, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"referrer_user_id": referrerID,
		"status":           models.ReferralStatusCompleted,
	})
	if err == nil {
		return int(count), nil
	}

	// Fallback for deployments missing the composite index: scan the
	// referrer's records and filter locally. Identical result, only slower.
	cursor, ferr := r.collection.Find(ctx, bson.M{"referrer_user_id": referrerID})
	if ferr != nil {
		return 0, fmt.Errorf("failed to count completed referrals: %w", err)
	}
	defer cursor.Close(ctx)

	completed := 0
	for cursor.Next(ctx) {
		var referral models.Referral
		if derr := cursor.Decode(&referral); derr != nil {
			return 0, fmt.Errorf("failed to decode referral: %w", derr)
		}
		if referral.Status == models.ReferralStatusCompleted {
			completed++
		}
	}

	return completed, nil
}

func (r *referralRepository) CountPendingByReferrer(ctx context.Context, referrerID string) (int, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"referrer_user_id": referrerID,
		"status":           models.ReferralStatusPending,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending referrals: %w", err)
	}

	return int(count), nil
}

func (r *referralRepository) ListByReferrer(ctx context.Context, referrerID string, limit int, before time.Time, beforeID string) ([]*models.Referral, error) {
	filter := bson.M{"referrer_user_id": referrerID}
	if !before.IsZero() {
		// Tuple comparison on (created_at, _id) keeps pages stable when
		// records share a timestamp.
		filter["$or"] = []bson.M{
			{"created_at": bson.M{"$lt": before}},
			{"created_at": before, "_id": bson.M{"$lt": beforeID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer cursor.Close(ctx)

	var referrals []*models.Referral
	for cursor.Next(ctx) {
		var referral models.Referral
		if err := cursor.Decode(&referral); err != nil {
			return nil, fmt.Errorf("failed to decode referral: %w", err)
		}
		referrals = append(referrals, &referral)
	}

	return referrals, nil
}
