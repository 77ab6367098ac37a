package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"celeste/internal/models"
	"celeste/internal/utils"

	"github.com/matryer/is"
)

func newLeaderboardFixture(t *testing.T, users ...*models.User) (*LeaderboardService, *fakeUserRepo, *fakeReferralRepo) {
	t.Helper()

	userRepo := newFakeUserRepo(users...)
	referralRepo := newFakeReferralRepo(userRepo)
	cache := NewReferralCacheService(newMemoryCache(), testLogger(), time.Minute, time.Minute, time.Minute)
	svc := NewLeaderboardService(userRepo, referralRepo, cache, testLogger())

	return svc, userRepo, referralRepo
}

func referrerUser(id string, referrals int) *models.User {
	return &models.User{
		ID:          id,
		DisplayName: "User " + id,
		Stats:       &models.ReferralStats{TotalReferrals: referrals},
	}
}

func TestFetchLeaderboardRanks(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, _, _ := newLeaderboardFixture(t,
		referrerUser("a", 3),
		referrerUser("b", 10),
		referrerUser("c", 7),
		referrerUser("d", 0), // never referred, never listed
	)

	entries, err := svc.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)
	is.Equal(len(entries), 3)
	is.Equal(entries[0].UserID, "b")
	is.Equal(entries[0].Rank, 1)
	is.Equal(entries[1].UserID, "c")
	is.Equal(entries[2].UserID, "a")
	is.Equal(entries[2].Rank, 3)
}

func TestFetchLeaderboardFallbackMatchesOrderedQuery(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, users, _ := newLeaderboardFixture(t,
		referrerUser("a", 3),
		referrerUser("b", 10),
		referrerUser("c", 7),
	)

	ordered, err := svc.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)

	// Break the ordered query; the sampled fallback must produce the same
	// ranking.
	users.topErr = errors.New("index unavailable")
	fallback, err := svc.FetchLeaderboard(ctx, 10, true)
	is.NoErr(err)

	is.Equal(len(fallback), len(ordered))
	for i := range ordered {
		is.Equal(fallback[i].UserID, ordered[i].UserID)
		is.Equal(fallback[i].Rank, ordered[i].Rank)
	}
}

func TestFetchLeaderboardServesCache(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, users, _ := newLeaderboardFixture(t, referrerUser("a", 3))

	first, err := svc.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)
	is.Equal(len(first), 1)

	// A store change is invisible until refresh while the cache holds.
	users.users["a"].Stats.TotalReferrals = 99
	cached, err := svc.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)
	is.Equal(cached[0].TotalReferrals, 3)

	fresh, err := svc.FetchLeaderboard(ctx, 10, true)
	is.NoErr(err)
	is.Equal(fresh[0].TotalReferrals, 99)
}

func TestGetStatsDerivesRank(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, _, _ := newLeaderboardFixture(t,
		referrerUser("a", 3),
		referrerUser("b", 10),
		referrerUser("c", 7),
	)

	stats, err := svc.GetStats(ctx, "c", false)
	is.NoErr(err)
	is.Equal(stats.ReferralRank, 2) // one user ahead

	stats, err = svc.GetStats(ctx, "b", false)
	is.NoErr(err)
	is.Equal(stats.ReferralRank, 1)
}

func TestGetStatsForceRefreshRequeries(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, users, _ := newLeaderboardFixture(t, referrerUser("a", 3))

	first, err := svc.GetStats(ctx, "a", false)
	is.NoErr(err)
	is.Equal(first.TotalReferrals, 3)

	users.users["a"].Stats.TotalReferrals = 8

	// Within the TTL a plain read serves the cached copy.
	cached, err := svc.GetStats(ctx, "a", false)
	is.NoErr(err)
	is.Equal(cached.TotalReferrals, 3)

	fresh, err := svc.GetStats(ctx, "a", true)
	is.NoErr(err)
	is.Equal(fresh.TotalReferrals, 8)
}

func TestGetStatsRankFromCachedLeaderboard(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, users, _ := newLeaderboardFixture(t,
		referrerUser("a", 3),
		referrerUser("b", 10),
		referrerUser("c", 7),
	)

	_, err := svc.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)

	// A newcomer overtaking c is invisible to rank derivation while the
	// cached board still lists c second.
	users.Create(ctx, referrerUser("z", 50))

	stats, err := svc.GetStats(ctx, "c", false)
	is.NoErr(err)
	is.Equal(stats.ReferralRank, 2)
}

func TestGetStatsRecomputesPendingFromRecords(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	user := referrerUser("a", 1)
	user.Stats.PendingReferrals = 5 // stale persisted counter
	svc, _, referrals := newLeaderboardFixture(t, user)

	id := models.ReferralID("a", "waiting")
	referrals.referrals[id] = &models.Referral{
		ID:             id,
		ReferrerUserID: "a",
		ReferredUserID: "waiting",
		Status:         models.ReferralStatusPending,
		CreatedAt:      time.Now(),
	}

	stats, err := svc.GetStats(ctx, "a", false)
	is.NoErr(err)
	is.Equal(stats.PendingReferrals, 1) // live count, not the stored 5
}

func TestGetStatsRankUnknownWithoutReferrals(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, _, _ := newLeaderboardFixture(t, referrerUser("a", 0))

	stats, err := svc.GetStats(ctx, "a", false)
	is.NoErr(err)
	is.Equal(stats.ReferralRank, models.RankUnknown)
}

func TestGetStatsUserNotFound(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, _, _ := newLeaderboardFixture(t)

	_, err := svc.GetStats(ctx, "ghost", false)
	is.Equal(err, models.ErrUserNotFound)
}

func TestFetchUserReferralsPagination(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, users, referrals := newLeaderboardFixture(t, referrerUser("referrer", 0))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		referredID := fmt.Sprintf("friend-%d", i)
		users.Create(ctx, &models.User{ID: referredID, DisplayName: "Friend " + referredID})
		id := models.ReferralID("referrer", referredID)
		referrals.referrals[id] = &models.Referral{
			ID:             id,
			ReferrerUserID: "referrer",
			ReferredUserID: referredID,
			Status:         models.ReferralStatusCompleted,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
	}

	page, err := svc.FetchUserReferrals(ctx, "referrer", &utils.CursorParams{PageSize: 3})
	is.NoErr(err)
	is.Equal(len(page.Entries), 3)
	is.True(page.NextCursor != "")
	is.Equal(page.Entries[0].Referral.ReferredUserID, "friend-4") // newest first
	is.True(page.Entries[0].ReferredUser != nil)
	is.Equal(page.Entries[0].ReferredUser.DisplayName, "Friend friend-4")

	second, err := svc.FetchUserReferrals(ctx, "referrer", &utils.CursorParams{PageSize: 3, Cursor: page.NextCursor})
	is.NoErr(err)
	is.Equal(len(second.Entries), 2)
	is.Equal(second.NextCursor, "") // last page

	// The two pages cover all five records with no overlap.
	seen := map[string]bool{}
	for _, entry := range append(page.Entries, second.Entries...) {
		is.True(!seen[entry.Referral.ID])
		seen[entry.Referral.ID] = true
	}
	is.Equal(len(seen), 5)
}

func TestFetchUserReferralsInvalidCursor(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	svc, _, _ := newLeaderboardFixture(t, referrerUser("referrer", 0))

	_, err := svc.FetchUserReferrals(ctx, "referrer", &utils.CursorParams{PageSize: 3, Cursor: "not-base64!"})
	is.True(err != nil)
}
