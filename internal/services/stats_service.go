package services

import (
	"context"
	"fmt"
	"time"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"
	"celeste/pkg/logger"
	"celeste/pkg/push"

	"github.com/google/uuid"
)

// StatsService reconciles a referrer's stats from the referral records and
// fires milestone bonuses crossed by the update.
type StatsService struct {
	userRepo     interfaces.UserRepository
	referralRepo interfaces.ReferralRepository
	auditRepo    interfaces.AuditRepository
	rewards      *RewardService
	notifier     *NotificationService
	cache        *ReferralCacheService
	logger       *logger.Logger
	milestones   []models.Milestone
	referrerDays int
	events       chan *models.MilestoneEvent
	now          func() time.Time
}

func NewStatsService(
	userRepo interfaces.UserRepository,
	referralRepo interfaces.ReferralRepository,
	auditRepo interfaces.AuditRepository,
	rewards *RewardService,
	notifier *NotificationService,
	cache *ReferralCacheService,
	log *logger.Logger,
	milestones []models.Milestone,
	referrerDays int,
) *StatsService {
	return &StatsService{
		userRepo:     userRepo,
		referralRepo: referralRepo,
		auditRepo:    auditRepo,
		rewards:      rewards,
		notifier:     notifier,
		cache:        cache,
		logger:       log,
		milestones:   milestones,
		referrerDays: referrerDays,
		events:       make(chan *models.MilestoneEvent, 16),
		now:          time.Now,
	}
}

// MilestoneEvents exposes the one-shot milestone signals for UI consumers.
func (s *StatsService) MilestoneEvents() <-chan *models.MilestoneEvent {
	return s.events
}

// Refresh recounts the referrer's stats from the referral records, persists
// them and fires any milestone the transition crossed. The milestone check
// compares the persisted count before the refresh with the authoritative
// recount, so each threshold fires exactly once no matter how often Refresh
// runs.
func (s *StatsService) Refresh(ctx context.Context, userID string) (*models.ReferralStats, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldCount := 0
	stats := &models.ReferralStats{}
	if user.Stats != nil {
		oldCount = user.Stats.TotalReferrals
		*stats = *user.Stats
	}

	completed, err := s.referralRepo.CountCompletedByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed referrals: %w", err)
	}
	pending, err := s.referralRepo.CountPendingByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending referrals: %w", err)
	}

	stats.TotalReferrals = completed
	stats.PendingReferrals = pending
	stats.PremiumDaysEarned = s.earnedDays(completed)

	if err := s.userRepo.UpdateStats(ctx, userID, stats); err != nil {
		return nil, fmt.Errorf("failed to persist stats: %w", err)
	}
	s.cache.InvalidateStats(ctx, userID)
	s.cache.InvalidateLeaderboard(ctx)

	if milestone := models.NewlyAchievedMilestone(s.milestones, oldCount, completed); milestone != nil {
		s.fireMilestone(ctx, user, milestone, completed)
	}

	return stats, nil
}

// earnedDays is the display total: per-referral bonus for every completed
// referral plus every milestone bonus at or below the count.
func (s *StatsService) earnedDays(completed int) int {
	days := completed * s.referrerDays
	for _, m := range s.milestones {
		if m.RequiredReferrals <= completed {
			days += m.BonusDays
		}
	}
	return days
}

func (s *StatsService) fireMilestone(ctx context.Context, user *models.User, milestone *models.Milestone, completed int) {
	// The achievement record is the trigger-once guard across restarts and
	// concurrent refreshes.
	achieved, err := s.auditRepo.HasMilestoneAchievement(ctx, user.ID, milestone.ID)
	if err != nil {
		s.logger.WithError(err).WithUserID(user.ID).Error("Failed to check milestone achievement")
		return
	}
	if achieved {
		return
	}

	if _, err := s.rewards.AwardDays(ctx, user.ID, milestone.BonusDays, models.MilestoneReason(milestone.ID), ""); err != nil {
		s.logger.WithError(err).WithUserID(user.ID).
			WithField("milestone", milestone.ID).
			Error("Failed to award milestone bonus")
		return
	}

	now := s.now()
	err = s.auditRepo.SaveMilestoneAchievement(ctx, &models.MilestoneAchievement{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		MilestoneID: milestone.ID,
		Referrals:   completed,
		BonusDays:   milestone.BonusDays,
		AchievedAt:  now,
	})
	if err != nil {
		s.logger.WithError(err).WithUserID(user.ID).Error("Failed to save milestone achievement")
	}

	s.logger.WithUserID(user.ID).
		WithField("milestone", milestone.ID).
		WithField("bonus_days", milestone.BonusDays).
		Info("Milestone achieved")

	event := &models.MilestoneEvent{
		UserID:    user.ID,
		Milestone: *milestone,
		At:        now,
	}
	select {
	case s.events <- event:
	default:
		s.logger.WithUserID(user.ID).Debug("Milestone event channel full, dropping")
	}

	if user.FCMToken != "" {
		s.notifier.Enqueue(&push.NotificationRequest{
			Token: user.FCMToken,
			Title: "Milestone unlocked!",
			Body:  fmt.Sprintf("You reached %d referrals and earned %d bonus premium days.", milestone.RequiredReferrals, milestone.BonusDays),
			Data: map[string]string{
				"type":         "referral_milestone",
				"milestone_id": milestone.ID,
			},
		})
	}
}
