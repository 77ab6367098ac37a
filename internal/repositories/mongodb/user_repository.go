package mongodb

import (
	"context"
	"fmt"
	"time"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"
	"celeste/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userRepository struct {
	collection *mongo.Collection
	cache      CacheService
}

func NewUserRepository(db *mongo.Database, cache CacheService) interfaces.UserRepository {
	return &userRepository{
		collection: db.Collection("users"),
		cache:      cache,
	}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	if user.Stats == nil {
		user.Stats = &models.ReferralStats{}
	}

	_, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.cacheUser(ctx, user)

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	// Try cache first
	if user := r.getUserFromCache(ctx, id); user != nil {
		return user, nil
	}

	var user models.User
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "deleted_at": nil}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	r.cacheUser(ctx, &user)

	return &user, nil
}

// GetManyByIDs looks users up in $in batches capped at the store's query
// budget, never one query per id.
func (r *userRepository) GetManyByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(ids))

	for start := 0; start < len(ids); start += utils.UserBatchLookupLimit {
		end := start + utils.UserBatchLookupLimit
		if end > len(ids) {
			end = len(ids)
		}

		cursor, err := r.collection.Find(ctx, bson.M{
			"_id":        bson.M{"$in": ids[start:end]},
			"deleted_at": nil,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to batch-load users: %w", err)
		}

		for cursor.Next(ctx) {
			var user models.User
			if err := cursor.Decode(&user); err != nil {
				cursor.Close(ctx)
				return nil, fmt.Errorf("failed to decode user: %w", err)
			}
			result[user.ID] = &user
		}
		cursor.Close(ctx)
	}

	return result, nil
}

func (r *userRepository) SetReferralCode(ctx context.Context, id string, code string) error {
	return r.update(ctx, id, bson.M{"stats.referral_code": code})
}

func (r *userRepository) GetByReferralCodeField(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, bson.M{
		"stats.referral_code": code,
		"deleted_at":          nil,
	}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get user by referral code: %w", err)
	}

	return &user, nil
}

func (r *userRepository) UpdateStats(ctx context.Context, id string, stats *models.ReferralStats) error {
	return r.update(ctx, id, bson.M{"stats": stats})
}

func (r *userRepository) GetTopReferrers(ctx context.Context, limit int) ([]*models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "stats.total_referrals", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{
		"stats.total_referrals": bson.M{"$gt": 0},
		"deleted_at":            nil,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query top referrers: %w", err)
	}
	defer cursor.Close(ctx)

	return r.decodeUsers(ctx, cursor)
}

func (r *userRepository) GetReferrerSample(ctx context.Context, limit int) ([]*models.User, error) {
	opts := options.Find().SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{
		"stats.total_referrals": bson.M{"$gt": 0},
		"deleted_at":            nil,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to sample referrers: %w", err)
	}
	defer cursor.Close(ctx)

	return r.decodeUsers(ctx, cursor)
}

func (r *userRepository) CountUsersWithMoreReferrals(ctx context.Context, referrals int, scanLimit int) (int64, bool, error) {
	opts := options.Count().SetLimit(int64(scanLimit))

	count, err := r.collection.CountDocuments(ctx, bson.M{
		"stats.total_referrals": bson.M{"$gt": referrals},
		"deleted_at":            nil,
	}, opts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to count users with more referrals: %w", err)
	}

	return count, count >= int64(scanLimit), nil
}

func (r *userRepository) GetPremiumExpiry(ctx context.Context, id string) (*time.Time, error) {
	var user struct {
		PremiumExpiresAt *time.Time `bson:"premium_expires_at"`
	}

	err := r.collection.FindOne(ctx, bson.M{"_id": id, "deleted_at": nil}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get premium expiry: %w", err)
	}

	return user.PremiumExpiresAt, nil
}

func (r *userRepository) GrantPremiumDays(ctx context.Context, id string, newExpiry time.Time) error {
	return r.update(ctx, id, bson.M{"premium_expires_at": newExpiry})
}

// Helper methods
func (r *userRepository) update(ctx context.Context, id string, updates bson.M) error {
	updates["updated_at"] = time.Now()

	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id, "deleted_at": nil},
		bson.M{"$set": updates},
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrUserNotFound
	}

	r.invalidateUserCache(ctx, id)

	return nil
}

func (r *userRepository) decodeUsers(ctx context.Context, cursor *mongo.Cursor) ([]*models.User, error) {
	var users []*models.User
	for cursor.Next(ctx) {
		var user models.User
		if err := cursor.Decode(&user); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, &user)
	}
	return users, nil
}

// Cache operations
func (r *userRepository) cacheUser(ctx context.Context, user *models.User) {
	if r.cache != nil {
		cacheKey := fmt.Sprintf("user:%s", user.ID)
		r.cache.Set(ctx, cacheKey, user, 15*time.Minute)
	}
}

func (r *userRepository) getUserFromCache(ctx context.Context, userID string) *models.User {
	if r.cache == nil {
		return nil
	}

	cacheKey := fmt.Sprintf("user:%s", userID)
	var user models.User
	if err := r.cache.Get(ctx, cacheKey, &user); err != nil {
		return nil
	}

	return &user
}

func (r *userRepository) invalidateUserCache(ctx context.Context, userID string) {
	if r.cache != nil {
		cacheKey := fmt.Sprintf("user:%s", userID)
		r.cache.Delete(ctx, cacheKey)
	}
}
