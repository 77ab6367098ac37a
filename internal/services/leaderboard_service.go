package services

import (
	"context"
	"fmt"
	"sort"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"
	"celeste/internal/utils"
	"celeste/pkg/logger"
)

// LeaderboardService serves the ranked read paths: the public leaderboard,
// per-user stats with rank, and referral history pages.
type LeaderboardService struct {
	userRepo     interfaces.UserRepository
	referralRepo interfaces.ReferralRepository
	cache        *ReferralCacheService
	logger       *logger.Logger
}

func NewLeaderboardService(
	userRepo interfaces.UserRepository,
	referralRepo interfaces.ReferralRepository,
	cache *ReferralCacheService,
	log *logger.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		userRepo:     userRepo,
		referralRepo: referralRepo,
		cache:        cache,
		logger:       log,
	}
}

// FetchLeaderboard returns the top referrers ranked by completed referrals.
// forceRefresh bypasses the cache; the scheduled warm job uses it so regular
// traffic keeps hitting a fresh entry.
func (s *LeaderboardService) FetchLeaderboard(ctx context.Context, limit int, forceRefresh bool) ([]*models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = utils.DefaultLeaderboardLimit
	}
	if limit > utils.MaxLeaderboardLimit {
		limit = utils.MaxLeaderboardLimit
	}

	if !forceRefresh {
		if cached := s.cache.GetLeaderboard(ctx); cached != nil {
			return trimLeaderboard(cached, limit), nil
		}
	}

	// The full board is fetched and cached once; requests slice it to their
	// limit. Ranks are therefore stable across different limits.
	users, err := s.userRepo.GetTopReferrers(ctx, utils.MaxLeaderboardLimit)
	if err != nil {
		// Store-side ordering unavailable; rank an unordered sample locally.
		// Same contract, degraded source.
		s.logger.WithError(err).Warn("Ordered leaderboard query failed, using sampled fallback")
		users, err = s.userRepo.GetReferrerSample(ctx, utils.RankScanLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load leaderboard: %w", err)
		}
		sort.SliceStable(users, func(i, j int) bool {
			return totalReferrals(users[i]) > totalReferrals(users[j])
		})
		if len(users) > utils.MaxLeaderboardLimit {
			users = users[:utils.MaxLeaderboardLimit]
		}
	}

	entries := make([]*models.LeaderboardEntry, 0, len(users))
	for i, user := range users {
		entries = append(entries, &models.LeaderboardEntry{
			Rank:           i + 1,
			UserID:         user.ID,
			DisplayName:    user.DisplayName,
			PhotoURL:       user.PhotoURL,
			TotalReferrals: totalReferrals(user),
		})
	}

	s.cache.SetLeaderboard(ctx, entries)

	return trimLeaderboard(entries, limit), nil
}

func trimLeaderboard(entries []*models.LeaderboardEntry, limit int) []*models.LeaderboardEntry {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// GetStats returns the user's referral stats with rank derived on read.
// forceRefresh bypasses the stats cache. On a miss the pending count comes
// from a live query, not the persisted counter; rank is RankApproximate when
// the user places beyond the bounded rank scan.
func (s *LeaderboardService) GetStats(ctx context.Context, userID string, forceRefresh bool) (*models.ReferralStats, error) {
	if !forceRefresh {
		if cached := s.cache.GetStats(ctx, userID); cached != nil {
			return cached, nil
		}
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.ReferralStats{}
	if user.Stats != nil {
		*stats = *user.Stats
	}

	pending, err := s.referralRepo.CountPendingByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending referrals: %w", err)
	}
	stats.PendingReferrals = pending

	stats.ReferralRank = s.deriveRank(ctx, userID, stats.TotalReferrals)

	s.cache.SetStats(ctx, userID, stats)

	return stats, nil
}

func (s *LeaderboardService) deriveRank(ctx context.Context, userID string, referrals int) int {
	if referrals == 0 {
		return models.RankUnknown
	}

	// The cached leaderboard answers for anyone on it without a scan.
	for _, entry := range s.cache.GetLeaderboard(ctx) {
		if entry.UserID == userID {
			return entry.Rank
		}
	}

	ahead, truncated, err := s.userRepo.CountUsersWithMoreReferrals(ctx, referrals, utils.RankScanLimit)
	if err != nil {
		s.logger.WithError(err).WithUserID(userID).Warn("Rank derivation failed")
		return models.RankUnknown
	}
	if truncated {
		return models.RankApproximate
	}

	return int(ahead) + 1
}

// FetchUserReferrals pages the user's referral history newest first, each
// entry enriched with a summary of the referred user via batched lookups.
func (s *LeaderboardService) FetchUserReferrals(ctx context.Context, userID string, params *utils.CursorParams) (*models.ReferralHistoryPage, error) {
	before, beforeID, err := utils.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	// Fetch one extra record to learn whether another page exists.
	referrals, err := s.referralRepo.ListByReferrer(ctx, userID, params.PageSize+1, before, beforeID)
	if err != nil {
		return nil, err
	}

	hasMore := len(referrals) > params.PageSize
	if hasMore {
		referrals = referrals[:params.PageSize]
	}

	ids := make([]string, 0, len(referrals))
	for _, r := range referrals {
		ids = append(ids, r.ReferredUserID)
	}

	users, err := s.userRepo.GetManyByIDs(ctx, ids)
	if err != nil {
		// History stays useful without the enrichment.
		s.logger.WithError(err).WithUserID(userID).Warn("Failed to enrich referral history")
		users = map[string]*models.User{}
	}

	page := &models.ReferralHistoryPage{
		Entries: make([]*models.ReferralHistoryEntry, 0, len(referrals)),
	}
	for _, r := range referrals {
		entry := &models.ReferralHistoryEntry{Referral: r}
		if u, ok := users[r.ReferredUserID]; ok {
			entry.ReferredUser = &models.ReferredUserSummary{
				UserID:      u.ID,
				DisplayName: u.DisplayName,
				PhotoURL:    u.PhotoURL,
			}
		}
		page.Entries = append(page.Entries, entry)
	}

	if hasMore && len(referrals) > 0 {
		last := referrals[len(referrals)-1]
		page.NextCursor = utils.EncodeCursor(last.CreatedAt, last.ID)
	}

	return page, nil
}

func totalReferrals(u *models.User) int {
	if u.Stats == nil {
		return 0
	}
	return u.Stats.TotalReferrals
}
