package services

import (
	"context"
	"fmt"
	"time"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"
	"celeste/pkg/logger"

	"github.com/google/uuid"
)

// RewardService grants premium days against the billing store, exactly once
// per (user, reason, referral) triple, with bounded retries on store failure.
type RewardService struct {
	billing       BillingStore
	rewardRepo    interfaces.RewardRepository
	logger        *logger.Logger
	retryAttempts int
	retryDelay    time.Duration
	now           func() time.Time
	sleep         func(time.Duration)
}

func NewRewardService(
	billing BillingStore,
	rewardRepo interfaces.RewardRepository,
	log *logger.Logger,
	retryAttempts int,
	retryDelay time.Duration,
) *RewardService {
	return &RewardService{
		billing:       billing,
		rewardRepo:    rewardRepo,
		logger:        log,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

// AwardDays extends the user's premium expiry by days. A grant already in
// the ledger for the same (user, reason, referral) triple is not re-issued;
// the call returns nil, nil in that case.
//
// The new expiry is computed from max(now, current expiry): a lapsed
// subscription restarts from now, an active one stacks.
func (s *RewardService) AwardDays(ctx context.Context, userID string, days int, reason, referralID string) (*models.RewardGrant, error) {
	granted, err := s.rewardRepo.Has(ctx, userID, reason, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to check reward ledger: %w", err)
	}
	if granted {
		s.logger.WithUserID(userID).
			WithField("reason", reason).
			WithReferralID(referralID).
			Debug("Reward already granted, skipping")
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		grant, err := s.grantOnce(ctx, userID, days, reason, referralID)
		if err == nil {
			s.logger.LogRewardEvent(userID, reason, days, true)
			return grant, nil
		}

		lastErr = err
		s.logger.WithError(err).
			WithUserID(userID).
			WithField("attempt", attempt).
			Warn("Reward grant attempt failed")

		if attempt < s.retryAttempts {
			s.sleep(s.retryDelay * time.Duration(attempt))
		}
	}

	s.logger.LogRewardEvent(userID, reason, days, false)
	s.logger.LogOperationalAlert("reward_grant_exhausted", map[string]interface{}{
		"user_id":     userID,
		"reason":      reason,
		"referral_id": referralID,
		"days":        days,
		"error":       lastErr.Error(),
	})

	return nil, fmt.Errorf("reward grant exhausted after %d attempts: %w", s.retryAttempts, lastErr)
}

func (s *RewardService) grantOnce(ctx context.Context, userID string, days int, reason, referralID string) (*models.RewardGrant, error) {
	current, err := s.billing.GetPremiumExpiry(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	newExpiry := base.AddDate(0, 0, days)

	if err := s.billing.GrantPremiumDays(ctx, userID, newExpiry); err != nil {
		return nil, err
	}

	grant := &models.RewardGrant{
		ID:              uuid.NewString(),
		UserID:          userID,
		Days:            days,
		Reason:          reason,
		ReferralID:      referralID,
		AwardedAt:       now,
		ResultingExpiry: newExpiry,
		Success:         true,
	}

	// The grant took effect in billing; a ledger write failure is logged but
	// does not unwind it.
	if err := s.rewardRepo.Append(ctx, grant); err != nil {
		s.logger.WithError(err).WithUserID(userID).Error("Failed to append reward grant to ledger")
	}

	return grant, nil
}
