package services

import (
	"context"
	"time"

	"celeste/internal/models"
	"celeste/pkg/fraud"
	"celeste/pkg/logger"
)

// The referral engine treats fraud scoring, attribution, reward
// configuration and billing as pluggable collaborators. Defaults below are
// what a standalone deployment runs with; hosted deployments swap them for
// service-backed implementations.

// FraudScorer assesses an untrusted signup before any state is written.
type FraudScorer interface {
	Assess(ctx context.Context, request *fraud.AssessmentRequest) (*fraud.AssessmentResponse, error)
}

// AttributionService reports which touchpoint gets credit for a conversion.
// The engine records the answer; it never changes processing based on it.
type AttributionService interface {
	Attribute(ctx context.Context, referrerID, referredID, code string) (*models.AttributionResult, error)
}

// RewardConfigProvider resolves the bonus-day pair for a signup. The segment
// assigner feeds it so experiments can vary rewards per user cohort.
type RewardConfigProvider interface {
	RewardConfig(ctx context.Context, referrerID, referredID string) (*models.RewardConfig, error)
}

// SegmentAssigner buckets a user for experimentation.
type SegmentAssigner interface {
	Segment(userID string) string
}

// BillingStore is where premium time actually lives. The user repository
// implements it against the user document.
type BillingStore interface {
	GetPremiumExpiry(ctx context.Context, id string) (*time.Time, error)
	GrantPremiumDays(ctx context.Context, id string, newExpiry time.Time) error
}

// staticRewardConfig returns the configured bonus-day pair for every signup.
type staticRewardConfig struct {
	config models.RewardConfig
}

func NewStaticRewardConfig(referrerDays, referredDays int) RewardConfigProvider {
	return &staticRewardConfig{
		config: models.RewardConfig{
			ReferrerDays: referrerDays,
			ReferredDays: referredDays,
		},
	}
}

func (p *staticRewardConfig) RewardConfig(ctx context.Context, referrerID, referredID string) (*models.RewardConfig, error) {
	config := p.config
	return &config, nil
}

// loggingAttribution credits every conversion to the referral link itself.
type loggingAttribution struct {
	logger *logger.Logger
}

func NewLoggingAttribution(log *logger.Logger) AttributionService {
	return &loggingAttribution{logger: log}
}

func (a *loggingAttribution) Attribute(ctx context.Context, referrerID, referredID, code string) (*models.AttributionResult, error) {
	result := &models.AttributionResult{
		Model:      "last_touch",
		Confidence: 1.0,
	}

	a.logger.WithFields(map[string]interface{}{
		"referrer_user_id": referrerID,
		"referred_user_id": referredID,
		"referral_code":    code,
		"model":            result.Model,
	}).Info("Conversion attributed")

	return result, nil
}

// hashSegmentAssigner buckets users deterministically from their id.
type hashSegmentAssigner struct {
	segments []string
}

func NewHashSegmentAssigner(segments ...string) SegmentAssigner {
	if len(segments) == 0 {
		segments = []string{"control"}
	}
	return &hashSegmentAssigner{segments: segments}
}

func (a *hashSegmentAssigner) Segment(userID string) string {
	var sum uint32
	for _, c := range userID {
		sum = sum*31 + uint32(c)
	}
	return a.segments[int(sum)%len(a.segments)]
}
