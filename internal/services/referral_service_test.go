package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"celeste/internal/models"
	"celeste/pkg/fraud"

	"github.com/matryer/is"
)

type stubScorer struct {
	response *fraud.AssessmentResponse
	err      error
	calls    int
}

func (s *stubScorer) Assess(ctx context.Context, request *fraud.AssessmentRequest) (*fraud.AssessmentResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.response != nil {
		return s.response, nil
	}
	return &fraud.AssessmentResponse{Decision: fraud.DecisionAllow, RiskLevel: "very_low"}, nil
}

type recordingAttribution struct {
	mu    sync.Mutex
	calls int
}

func (a *recordingAttribution) Attribute(ctx context.Context, referrerID, referredID, code string) (*models.AttributionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return &models.AttributionResult{Model: "last_touch", Confidence: 1.0}, nil
}

type referralFixture struct {
	users       *fakeUserRepo
	referrals   *fakeReferralRepo
	codes       *fakeCodeRepo
	rewards     *fakeRewardRepo
	audit       *fakeAuditRepo
	cache       *ReferralCacheService
	codeSvc     *CodeService
	limiter     *RateLimitService
	attribution *recordingAttribution
	svc         *ReferralService
}

func newReferralFixture(t *testing.T, scorer FraudScorer, maxReferrals int, users ...*models.User) *referralFixture {
	t.Helper()

	userRepo := newFakeUserRepo(users...)
	referralRepo := newFakeReferralRepo(userRepo)
	codeRepo := newFakeCodeRepo()
	rewardRepo := &fakeRewardRepo{}
	auditRepo := newFakeAuditRepo()

	log := testLogger()
	cache := NewReferralCacheService(newMemoryCache(), log, time.Minute, time.Minute, time.Minute)
	notifier := NewNotificationService(nil, log, 4, time.Second)
	t.Cleanup(notifier.Close)

	limiter := NewRateLimitService(time.Hour, 10, log)
	codeSvc := NewCodeService(codeRepo, userRepo, cache, log, "CEL-")
	rewardSvc := newRewardServiceForTest(userRepo, rewardRepo, nil)
	statsSvc := NewStatsService(
		userRepo, referralRepo, auditRepo,
		rewardSvc, notifier, cache, log,
		models.DefaultMilestones, 3,
	)

	attribution := &recordingAttribution{}
	svc := NewReferralService(
		referralRepo, userRepo, auditRepo,
		codeSvc, limiter, rewardSvc, statsSvc, notifier,
		scorer,
		attribution,
		NewStaticRewardConfig(3, 3),
		NewHashSegmentAssigner(),
		log, maxReferrals,
	)

	return &referralFixture{
		users:       userRepo,
		referrals:   referralRepo,
		codes:       codeRepo,
		rewards:     rewardRepo,
		audit:       auditRepo,
		cache:       cache,
		codeSvc:     codeSvc,
		limiter:     limiter,
		attribution: attribution,
		svc:         svc,
	}
}

func TestProcessSignupHappyPath(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer", DisplayName: "Ada"},
		&models.User{ID: "referred", DisplayName: "Grace", CreatedAt: time.Now().AddDate(0, 0, -30)},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	result, err := f.svc.ProcessSignup(ctx, &SignupRequest{
		ReferredUserID: "referred",
		ReferralCode:   code,
		Email:          "grace@example.com",
		IPAddress:      "203.0.113.9",
	})
	is.NoErr(err)
	is.Equal(result.Referral.ID, models.ReferralID("referrer", "referred"))
	is.Equal(result.Referral.Status, models.ReferralStatusCompleted)
	is.Equal(result.Referral.Segment, "control")
	is.True(!result.ManualReview)
	is.Equal(result.Stats.TotalReferrals, 1)

	// Both sides got premium days.
	referrerExpiry, err := f.users.GetPremiumExpiry(ctx, "referrer")
	is.NoErr(err)
	is.True(referrerExpiry != nil)
	referredExpiry, err := f.users.GetPremiumExpiry(ctx, "referred")
	is.NoErr(err)
	is.True(referredExpiry != nil)

	// The record is marked claimed after both grants landed.
	stored, err := f.referrals.GetByID(ctx, result.Referral.ID)
	is.NoErr(err)
	is.True(stored.RewardClaimed)
}

func TestProcessSignupValidation(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "", ReferralCode: code})
	is.Equal(err, models.ErrInvalidUser)

	// A blank code is rejected the same way as a blank user id.
	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: ""})
	is.Equal(err, models.ErrInvalidUser)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: "CEL-NOPE1234"})
	is.Equal(err, models.ErrInvalidCode)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "ghost", ReferralCode: code})
	is.Equal(err, models.ErrInvalidUser)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referrer", ReferralCode: code})
	is.Equal(err, models.ErrSelfReferral)

	// Nothing was written.
	count, err := f.referrals.CountCompletedByReferrer(ctx, "referrer")
	is.NoErr(err)
	is.Equal(count, 0)
}

func TestProcessSignupAlreadyReferred(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	req := &SignupRequest{ReferredUserID: "referred", ReferralCode: code}
	_, err = f.svc.ProcessSignup(ctx, req)
	is.NoErr(err)

	_, err = f.svc.ProcessSignup(ctx, req)
	is.Equal(err, models.ErrAlreadyReferred)

	// Premium was not stacked by the retry.
	is.Equal(countSuccessfulGrants(f.rewards, "referrer"), 1)

	// The touchpoint is recorded ahead of the create, so even the refused
	// retry left one.
	is.Equal(f.attribution.calls, 2)
}

func TestProcessSignupMaxReferralsReached(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 2,
		&models.User{ID: "referrer", Stats: &models.ReferralStats{TotalReferrals: 2}},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: code})
	is.Equal(err, models.ErrMaxReferralsReached)
}

func TestProcessSignupFraudBlock(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	scorer := &stubScorer{response: &fraud.AssessmentResponse{
		RiskScore: 0.9,
		RiskLevel: "very_high",
		Decision:  fraud.DecisionBlock,
	}}
	f := newReferralFixture(t, scorer, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: code})
	is.Equal(err, models.ErrRateLimitExceeded) // blocked signups look like throttling

	// No record, no rewards, but the assessment is on file.
	count, err := f.referrals.CountCompletedByReferrer(ctx, "referrer")
	is.NoErr(err)
	is.Equal(count, 0)
	is.Equal(len(f.rewards.grants), 0)
	is.Equal(len(f.audit.assessments), 1)
	is.Equal(f.audit.assessments[0].Decision, models.RiskDecisionBlock)
}

func TestProcessSignupFraudFlagMarksManualReview(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	scorer := &stubScorer{response: &fraud.AssessmentResponse{
		RiskScore: 0.6,
		RiskLevel: "high",
		Decision:  fraud.DecisionFlag,
	}}
	f := newReferralFixture(t, scorer, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	result, err := f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: code})
	is.NoErr(err)
	is.True(result.ManualReview)
	is.True(result.Referral.ManualReview)
	is.Equal(len(f.audit.assessments), 1)
}

func TestProcessSignupScorerOutageAllows(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	scorer := &stubScorer{err: context.DeadlineExceeded}
	f := newReferralFixture(t, scorer, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	result, err := f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: code})
	is.NoErr(err)
	is.True(!result.ManualReview)
}

func TestProcessSignupRateLimitedPerNewUser(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer-a"},
		&models.User{ID: "referrer-b"},
		&models.User{ID: "newcomer"},
	)
	f.limiter.maxAttempts = 1

	codeA, err := f.codeSvc.Generate(ctx, "referrer-a")
	is.NoErr(err)
	codeB, err := f.codeSvc.Generate(ctx, "referrer-b")
	is.NoErr(err)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "newcomer", ReferralCode: codeA})
	is.NoErr(err)

	// Switching referrers does not reset the budget: the limit follows the
	// signing-up user.
	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "newcomer", ReferralCode: codeB})
	is.Equal(err, models.ErrRateLimitExceeded)
}

func TestProcessSignupThrottlesCodeGuessing(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "guesser"},
	)
	f.limiter.maxAttempts = 2

	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	// Invalid guesses consume the guesser's budget too.
	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "guesser", ReferralCode: "CEL-WRONG234"})
	is.Equal(err, models.ErrInvalidCode)
	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "guesser", ReferralCode: "CEL-WRONG235"})
	is.Equal(err, models.ErrInvalidCode)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "guesser", ReferralCode: code})
	is.Equal(err, models.ErrRateLimitExceeded)
}

func TestProcessSignupReferrerNotThrottledByFriends(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "friend-1"},
		&models.User{ID: "friend-2"},
	)
	f.limiter.maxAttempts = 1

	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	// Distinct new users each bring their own budget; a popular code keeps
	// working.
	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "friend-1", ReferralCode: code})
	is.NoErr(err)
	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "friend-2", ReferralCode: code})
	is.NoErr(err)
}

func TestProcessSignupDeadReferrerAborts(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	scorer := &stubScorer{}
	f := newReferralFixture(t, scorer, 100,
		&models.User{ID: "referrer"},
		&models.User{ID: "referred"},
	)
	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	// The code owner's account is gone by the time the signup arrives.
	f.users.mu.Lock()
	delete(f.users.users, "referrer")
	f.users.mu.Unlock()

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "referred", ReferralCode: code})
	is.Equal(err, models.ErrInvalidUser)

	// The collaborators were skipped for the dead referrer.
	is.Equal(scorer.calls, 0)
	is.Equal(f.attribution.calls, 0)
}

func TestProcessSignupInvalidatesLeaderboardCache(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	f := newReferralFixture(t, &stubScorer{}, 100,
		&models.User{ID: "referrer", DisplayName: "Ada"},
		&models.User{ID: "friend-1"},
		&models.User{ID: "friend-2"},
	)
	leaderboard := NewLeaderboardService(f.users, f.referrals, f.cache, testLogger())

	code, err := f.codeSvc.Generate(ctx, "referrer")
	is.NoErr(err)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "friend-1", ReferralCode: code})
	is.NoErr(err)

	// Prime the cache, then complete another signup.
	entries, err := leaderboard.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)
	is.Equal(entries[0].TotalReferrals, 1)

	_, err = f.svc.ProcessSignup(ctx, &SignupRequest{ReferredUserID: "friend-2", ReferralCode: code})
	is.NoErr(err)

	// A plain read reflects the new signup; the primed entry was dropped.
	entries, err = leaderboard.FetchLeaderboard(ctx, 10, false)
	is.NoErr(err)
	is.Equal(entries[0].TotalReferrals, 2)
}

func countSuccessfulGrants(rewards *fakeRewardRepo, userID string) int {
	rewards.mu.Lock()
	defer rewards.mu.Unlock()
	count := 0
	for _, grant := range rewards.grants {
		if grant.UserID == userID && grant.Reason == models.RewardReasonSuccessfulReferral && grant.Success {
			count++
		}
	}
	return count
}
