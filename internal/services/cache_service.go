package services

import (
	"context"
	"fmt"
	"time"

	"celeste/internal/models"
	"celeste/pkg/logger"
)

// CacheBackend is the slice of the cache layer the services use. Nil is
// allowed and turns every read into a miss.
type CacheBackend interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// ReferralCacheService wraps the cache backend with the typed entries the
// referral read paths use. Cache failures are absorbed: a broken cache
// degrades to the store, it never fails a request.
type ReferralCacheService struct {
	backend        CacheBackend
	logger         *logger.Logger
	statsTTL       time.Duration
	leaderboardTTL time.Duration
	codeTTL        time.Duration
}

func NewReferralCacheService(backend CacheBackend, log *logger.Logger, statsTTL, leaderboardTTL, codeTTL time.Duration) *ReferralCacheService {
	return &ReferralCacheService{
		backend:        backend,
		logger:         log,
		statsTTL:       statsTTL,
		leaderboardTTL: leaderboardTTL,
		codeTTL:        codeTTL,
	}
}

// CodeValidation is the cached result of a code-validity probe. Caching the
// negative result too keeps hot invalid codes from hammering the store.
type CodeValidation struct {
	Valid       bool   `json:"valid"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
}

func (s *ReferralCacheService) GetStats(ctx context.Context, userID string) *models.ReferralStats {
	var stats models.ReferralStats
	if !s.get(ctx, statsKey(userID), &stats) {
		return nil
	}
	return &stats
}

func (s *ReferralCacheService) SetStats(ctx context.Context, userID string, stats *models.ReferralStats) {
	s.set(ctx, statsKey(userID), stats, s.statsTTL)
}

func (s *ReferralCacheService) InvalidateStats(ctx context.Context, userID string) {
	if s.backend == nil {
		return
	}
	if err := s.backend.Delete(ctx, statsKey(userID)); err != nil {
		s.logger.WithError(err).WithUserID(userID).Debug("Failed to invalidate stats cache")
	}
}

// The leaderboard lives under a single key holding the full ranked list;
// read paths slice it to the requested limit. One key keeps invalidation on
// signup a single delete.
func (s *ReferralCacheService) GetLeaderboard(ctx context.Context) []*models.LeaderboardEntry {
	var entries []*models.LeaderboardEntry
	if !s.get(ctx, leaderboardKey, &entries) {
		return nil
	}
	return entries
}

func (s *ReferralCacheService) SetLeaderboard(ctx context.Context, entries []*models.LeaderboardEntry) {
	s.set(ctx, leaderboardKey, entries, s.leaderboardTTL)
}

func (s *ReferralCacheService) InvalidateLeaderboard(ctx context.Context) {
	if s.backend == nil {
		return
	}
	if err := s.backend.Delete(ctx, leaderboardKey); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate leaderboard cache")
	}
}

func (s *ReferralCacheService) GetCodeValidation(ctx context.Context, code string) *CodeValidation {
	var validation CodeValidation
	if !s.get(ctx, codeKey(code), &validation) {
		return nil
	}
	return &validation
}

func (s *ReferralCacheService) SetCodeValidation(ctx context.Context, code string, validation *CodeValidation) {
	s.set(ctx, codeKey(code), validation, s.codeTTL)
}

func (s *ReferralCacheService) get(ctx context.Context, key string, dest interface{}) bool {
	if s.backend == nil {
		return false
	}
	if err := s.backend.Get(ctx, key, dest); err != nil {
		return false
	}
	s.logger.WithField("cache_key", key).Debug("Cache hit")
	return true
}

func (s *ReferralCacheService) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.backend == nil {
		return
	}
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		s.logger.WithError(err).WithField("cache_key", key).Debug("Failed to set cache key")
	}
}

func statsKey(userID string) string {
	return fmt.Sprintf("referral_stats:%s", userID)
}

const leaderboardKey = "referral_leaderboard"

func codeKey(code string) string {
	return fmt.Sprintf("referral_code:%s", code)
}
