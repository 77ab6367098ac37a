package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"
	"celeste/pkg/fraud"
	"celeste/pkg/logger"
	"celeste/pkg/push"
)

// SignupRequest is the untrusted signal that a new user signed up with a
// referral code.
type SignupRequest struct {
	ReferredUserID string `json:"referred_user_id"`
	ReferralCode   string `json:"referral_code"`
	Email          string `json:"email"`
	IPAddress      string `json:"ip_address"`
}

// SignupResult reports what the engine did with the signal.
type SignupResult struct {
	Referral     *models.Referral      `json:"referral"`
	ReferrerDays int                   `json:"referrer_days"`
	ReferredDays int                   `json:"referred_days"`
	ManualReview bool                  `json:"manual_review"`
	Stats        *models.ReferralStats `json:"stats,omitempty"`
}

// ReferralService runs the signup pipeline: validate, rate limit, fraud
// check, create the record transactionally, grant rewards, refresh stats and
// notify. Validation failures abort before any write.
type ReferralService struct {
	referralRepo interfaces.ReferralRepository
	userRepo     interfaces.UserRepository
	auditRepo    interfaces.AuditRepository
	codes        *CodeService
	rateLimiter  *RateLimitService
	rewards      *RewardService
	stats        *StatsService
	notifier     *NotificationService
	fraudScorer  FraudScorer
	attribution  AttributionService
	rewardConfig RewardConfigProvider
	segments     SegmentAssigner
	logger       *logger.Logger
	maxReferrals int
	now          func() time.Time
}

func NewReferralService(
	referralRepo interfaces.ReferralRepository,
	userRepo interfaces.UserRepository,
	auditRepo interfaces.AuditRepository,
	codes *CodeService,
	rateLimiter *RateLimitService,
	rewards *RewardService,
	stats *StatsService,
	notifier *NotificationService,
	fraudScorer FraudScorer,
	attribution AttributionService,
	rewardConfig RewardConfigProvider,
	segments SegmentAssigner,
	log *logger.Logger,
	maxReferrals int,
) *ReferralService {
	return &ReferralService{
		referralRepo: referralRepo,
		userRepo:     userRepo,
		auditRepo:    auditRepo,
		codes:        codes,
		rateLimiter:  rateLimiter,
		rewards:      rewards,
		stats:        stats,
		notifier:     notifier,
		fraudScorer:  fraudScorer,
		attribution:  attribution,
		rewardConfig: rewardConfig,
		segments:     segments,
		logger:       log,
		maxReferrals: maxReferrals,
		now:          time.Now,
	}
}

// ProcessSignup drives a referral signup end to end. Error identity encodes
// the refusal reason; callers map it onto their transport.
func (s *ReferralService) ProcessSignup(ctx context.Context, req *SignupRequest) (*SignupResult, error) {
	req.ReferredUserID = strings.TrimSpace(req.ReferredUserID)
	req.ReferralCode = strings.TrimSpace(req.ReferralCode)

	if req.ReferredUserID == "" || req.ReferralCode == "" {
		return nil, models.ErrInvalidUser
	}

	// The limiter is keyed on the new user and runs before code resolution,
	// so code guessing burns the guesser's own budget.
	if err := s.rateLimiter.Allow(req.ReferredUserID); err != nil {
		return nil, err
	}

	referrerID, err := s.codes.ResolveOwner(ctx, req.ReferralCode)
	if err != nil {
		return nil, err
	}
	if referrerID == req.ReferredUserID {
		return nil, models.ErrSelfReferral
	}

	referred, err := s.userRepo.GetByID(ctx, req.ReferredUserID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidUser
		}
		return nil, err
	}

	// A code whose owner account is gone aborts here; the fraud and
	// attribution collaborators are not consulted for a dead referrer.
	if _, err := s.userRepo.GetByID(ctx, referrerID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidUser
		}
		return nil, err
	}

	assessment, err := s.assessFraud(ctx, req, referrerID, referred)
	if err != nil {
		return nil, err
	}
	manualReview := assessment != nil && assessment.Decision == fraud.DecisionFlag

	// The conversion touchpoint is recorded before the atomic create, so it
	// lands even when the create is refused by a concurrency guard.
	if _, err := s.attribution.Attribute(ctx, referrerID, req.ReferredUserID, req.ReferralCode); err != nil {
		s.logger.WithError(err).Debug("Attribution failed")
	}

	now := s.now()
	referral := &models.Referral{
		ID:             models.ReferralID(referrerID, req.ReferredUserID),
		ReferrerUserID: referrerID,
		ReferredUserID: req.ReferredUserID,
		ReferralCode:   req.ReferralCode,
		Status:         models.ReferralStatusCompleted,
		Segment:        s.segments.Segment(req.ReferredUserID),
		ManualReview:   manualReview,
		CreatedAt:      now,
		CompletedAt:    &now,
	}

	if err := s.referralRepo.CreateCompleted(ctx, referral, s.maxReferrals); err != nil {
		// The referrer vanished between the pre-check and the transaction.
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidUser
		}
		return nil, err
	}

	s.logger.LogReferralEvent(referral.ID, "referral_created", map[string]interface{}{
		"referrer_user_id": referrerID,
		"referred_user_id": req.ReferredUserID,
		"segment":          referral.Segment,
		"manual_review":    manualReview,
	})

	config, err := s.rewardConfig.RewardConfig(ctx, referrerID, req.ReferredUserID)
	if err != nil {
		s.logger.WithError(err).Warn("Reward config lookup failed, using defaults")
		config = &models.RewardConfig{
			ReferrerDays: 3,
			ReferredDays: 3,
		}
	}

	result := &SignupResult{
		Referral:     referral,
		ReferrerDays: config.ReferrerDays,
		ReferredDays: config.ReferredDays,
		ManualReview: manualReview,
	}

	s.grantRewards(ctx, referral, config)

	// Stats refresh detects milestones; its failure never unwinds the
	// referral, the next refresh reconciles.
	stats, err := s.stats.Refresh(ctx, referrerID)
	if err != nil {
		s.logger.WithError(err).WithUserID(referrerID).Error("Failed to refresh referrer stats")
	} else {
		result.Stats = stats
	}

	s.notifyReferrer(ctx, referrerID, referred.DisplayName, config.ReferrerDays)

	return result, nil
}

// assessFraud scores the signup. A block verdict refuses processing with the
// generic rate-limit error so callers cannot distinguish fraud refusals from
// throttling; flag verdicts mark the record for manual review. Both are
// persisted for audit.
func (s *ReferralService) assessFraud(ctx context.Context, req *SignupRequest, referrerID string, referred *models.User) (*fraud.AssessmentResponse, error) {
	accountAge := int(s.now().Sub(referred.CreatedAt).Hours() / 24)

	assessment, err := s.fraudScorer.Assess(ctx, &fraud.AssessmentRequest{
		NewUserID:      req.ReferredUserID,
		ReferrerUserID: referrerID,
		ReferralCode:   req.ReferralCode,
		Email:          req.Email,
		IPAddress:      req.IPAddress,
		SignupTime:     s.now(),
		AccountAgeDays: accountAge,
	})
	if err != nil {
		// Fraud scoring is advisory; an unavailable scorer does not refuse
		// legitimate signups.
		s.logger.WithError(err).Warn("Fraud assessment unavailable, allowing signup")
		return nil, nil
	}

	if assessment.Decision != fraud.DecisionAllow {
		audit := &models.FraudAssessment{
			NewUserID:      req.ReferredUserID,
			ReferrerUserID: referrerID,
			ReferralCode:   req.ReferralCode,
			IPAddress:      req.IPAddress,
			RiskScore:      assessment.RiskScore,
			RiskLevel:      assessment.RiskLevel,
			Decision:       models.RiskDecision(assessment.Decision),
			AssessedAt:     s.now(),
		}
		if err := s.auditRepo.SaveFraudAssessment(ctx, audit); err != nil {
			s.logger.WithError(err).Error("Failed to persist fraud assessment")
		}
	}

	if assessment.Decision == fraud.DecisionBlock {
		s.logger.WithFields(map[string]interface{}{
			"new_user_id": req.ReferredUserID,
			"risk_score":  assessment.RiskScore,
			"rules":       assessment.TriggeredRules,
		}).Warn("Referral signup blocked by fraud check")
		return nil, models.ErrRateLimitExceeded
	}

	return assessment, nil
}

func (s *ReferralService) grantRewards(ctx context.Context, referral *models.Referral, config *models.RewardConfig) {
	referrerOK := true
	if _, err := s.rewards.AwardDays(ctx, referral.ReferrerUserID, config.ReferrerDays, models.RewardReasonSuccessfulReferral, referral.ID); err != nil {
		referrerOK = false
		s.logger.WithError(err).WithUserID(referral.ReferrerUserID).Error("Failed to grant referrer reward")
	}

	referredOK := true
	if _, err := s.rewards.AwardDays(ctx, referral.ReferredUserID, config.ReferredDays, models.RewardReasonReferralSignup, referral.ID); err != nil {
		referredOK = false
		s.logger.WithError(err).WithUserID(referral.ReferredUserID).Error("Failed to grant referred reward")
	}

	if referrerOK && referredOK {
		if err := s.referralRepo.SetRewardClaimed(ctx, referral.ID); err != nil {
			s.logger.WithError(err).WithReferralID(referral.ID).Error("Failed to mark reward claimed")
		}
	}
}

func (s *ReferralService) notifyReferrer(ctx context.Context, referrerID, referredName string, days int) {
	referrer, err := s.userRepo.GetByID(ctx, referrerID)
	if err != nil || referrer.FCMToken == "" {
		return
	}

	if referredName == "" {
		referredName = "A friend"
	}

	s.notifier.Enqueue(&push.NotificationRequest{
		Token: referrer.FCMToken,
		Title: "Your referral paid off!",
		Body:  fmt.Sprintf("%s joined with your code. You earned %d premium days.", referredName, days),
		Data: map[string]string{
			"type": "referral_completed",
		},
	})
}
