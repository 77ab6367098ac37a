package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"celeste/internal/models"
	"celeste/pkg/logger"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "text"})
	return log
}

// memoryCache is an in-process CacheBackend for tests. Values round-trip
// through JSON like the Redis backend does.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

var errMiss = errors.New("cache miss")

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return errMiss
	}
	return json.Unmarshal(data, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*models.User
	topErr error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		if u.Stats == nil {
			u.Stats = &models.ReferralStats{}
		}
		repo.users[u.ID] = u
	}
	return repo
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.Stats == nil {
		user.Stats = &models.ReferralStats{}
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	clone := *user
	stats := *user.Stats
	clone.Stats = &stats
	return &clone, nil
}

func (r *fakeUserRepo) GetManyByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]*models.User)
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			result[id] = user
		}
	}
	return result, nil
}

func (r *fakeUserRepo) SetReferralCode(ctx context.Context, id string, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	user.Stats.ReferralCode = code
	return nil
}

func (r *fakeUserRepo) GetByReferralCodeField(ctx context.Context, code string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Stats != nil && user.Stats.ReferralCode == code {
			return user, nil
		}
	}
	return nil, models.ErrCodeNotFound
}

func (r *fakeUserRepo) UpdateStats(ctx context.Context, id string, stats *models.ReferralStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	clone := *stats
	user.Stats = &clone
	return nil
}

func (r *fakeUserRepo) GetTopReferrers(ctx context.Context, limit int) ([]*models.User, error) {
	if r.topErr != nil {
		return nil, r.topErr
	}
	users, err := r.GetReferrerSample(ctx, limit*2)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Stats.TotalReferrals > users[j].Stats.TotalReferrals
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (r *fakeUserRepo) GetReferrerSample(ctx context.Context, limit int) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var users []*models.User
	for _, user := range r.users {
		if user.Stats.TotalReferrals > 0 {
			users = append(users, user)
		}
		if len(users) == limit {
			break
		}
	}
	return users, nil
}

func (r *fakeUserRepo) CountUsersWithMoreReferrals(ctx context.Context, referrals int, scanLimit int) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, user := range r.users {
		if user.Stats.TotalReferrals > referrals {
			count++
		}
		if count >= int64(scanLimit) {
			return count, true, nil
		}
	}
	return count, false, nil
}

func (r *fakeUserRepo) GetPremiumExpiry(ctx context.Context, id string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return user.PremiumExpiresAt, nil
}

func (r *fakeUserRepo) GrantPremiumDays(ctx context.Context, id string, newExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	user.PremiumExpiresAt = &newExpiry
	return nil
}

type fakeReferralRepo struct {
	mu        sync.Mutex
	referrals map[string]*models.Referral
	users     *fakeUserRepo
}

func newFakeReferralRepo(users *fakeUserRepo) *fakeReferralRepo {
	return &fakeReferralRepo{
		referrals: make(map[string]*models.Referral),
		users:     users,
	}
}

func (r *fakeReferralRepo) CreateCompleted(ctx context.Context, referral *models.Referral, maxReferrals int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.referrals[referral.ID]; exists {
		return models.ErrAlreadyReferred
	}

	r.users.mu.Lock()
	referrer, ok := r.users.users[referral.ReferrerUserID]
	if !ok {
		r.users.mu.Unlock()
		return models.ErrUserNotFound
	}
	if referrer.Stats.TotalReferrals >= maxReferrals {
		r.users.mu.Unlock()
		return models.ErrMaxReferralsReached
	}
	referrer.Stats.TotalReferrals++
	r.users.mu.Unlock()

	clone := *referral
	r.referrals[referral.ID] = &clone
	return nil
}

func (r *fakeReferralRepo) GetByID(ctx context.Context, id string) (*models.Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	referral, ok := r.referrals[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return referral, nil
}

func (r *fakeReferralRepo) SetRewardClaimed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if referral, ok := r.referrals[id]; ok {
		referral.RewardClaimed = true
	}
	return nil
}

func (r *fakeReferralRepo) CountCompletedByReferrer(ctx context.Context, referrerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, referral := range r.referrals {
		if referral.ReferrerUserID == referrerID && referral.Status == models.ReferralStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (r *fakeReferralRepo) CountPendingByReferrer(ctx context.Context, referrerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, referral := range r.referrals {
		if referral.ReferrerUserID == referrerID && referral.Status == models.ReferralStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *fakeReferralRepo) ListByReferrer(ctx context.Context, referrerID string, limit int, before time.Time, beforeID string) ([]*models.Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*models.Referral
	for _, referral := range r.referrals {
		if referral.ReferrerUserID != referrerID {
			continue
		}
		if !before.IsZero() {
			if referral.CreatedAt.After(before) {
				continue
			}
			if referral.CreatedAt.Equal(before) && referral.ID >= beforeID {
				continue
			}
		}
		all = append(all, referral)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type fakeCodeRepo struct {
	mu          sync.Mutex
	codes       map[string]*models.ReferralCode
	failInserts int
}

func newFakeCodeRepo() *fakeCodeRepo {
	return &fakeCodeRepo{codes: make(map[string]*models.ReferralCode)}
}

func (r *fakeCodeRepo) Reserve(ctx context.Context, code *models.ReferralCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInserts > 0 {
		r.failInserts--
		return models.ErrCodeTaken
	}
	if _, exists := r.codes[code.Code]; exists {
		return models.ErrCodeTaken
	}
	clone := *code
	r.codes[code.Code] = &clone
	return nil
}

func (r *fakeCodeRepo) Get(ctx context.Context, code string) (*models.ReferralCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.codes[code]
	if !ok {
		return nil, models.ErrCodeNotFound
	}
	return entry, nil
}

type fakeRewardRepo struct {
	mu     sync.Mutex
	grants []*models.RewardGrant
}

func (r *fakeRewardRepo) Append(ctx context.Context, grant *models.RewardGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *grant
	r.grants = append(r.grants, &clone)
	return nil
}

func (r *fakeRewardRepo) Has(ctx context.Context, userID, reason, referralID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, grant := range r.grants {
		if grant.UserID == userID && grant.Reason == reason && grant.ReferralID == referralID && grant.Success {
			return true, nil
		}
	}
	return false, nil
}

type fakeAuditRepo struct {
	mu           sync.Mutex
	assessments  []*models.FraudAssessment
	achievements map[string]bool
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{achievements: make(map[string]bool)}
}

func (r *fakeAuditRepo) SaveFraudAssessment(ctx context.Context, assessment *models.FraudAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments = append(r.assessments, assessment)
	return nil
}

func (r *fakeAuditRepo) SaveMilestoneAchievement(ctx context.Context, achievement *models.MilestoneAchievement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.achievements[achievement.UserID+"/"+achievement.MilestoneID] = true
	return nil
}

func (r *fakeAuditRepo) HasMilestoneAchievement(ctx context.Context, userID, milestoneID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.achievements[userID+"/"+milestoneID], nil
}

// flakyBilling fails its first failures calls, then delegates to the user
// repo. Used to exercise the reward retry path.
type flakyBilling struct {
	users    *fakeUserRepo
	failures int
	calls    int
}

func (b *flakyBilling) GetPremiumExpiry(ctx context.Context, id string) (*time.Time, error) {
	return b.users.GetPremiumExpiry(ctx, id)
}

func (b *flakyBilling) GrantPremiumDays(ctx context.Context, id string, newExpiry time.Time) error {
	b.calls++
	if b.calls <= b.failures {
		return errors.New("billing store unavailable")
	}
	return b.users.GrantPremiumDays(ctx, id, newExpiry)
}
