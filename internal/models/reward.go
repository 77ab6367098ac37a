package models

import (
	"fmt"
	"time"
)

// Reward grant reasons. Milestone reasons are derived per milestone id via
// MilestoneReason.
const (
	RewardReasonReferralSignup     = "referral_signup"
	RewardReasonSuccessfulReferral = "successful_referral"
)

func MilestoneReason(milestoneID string) string {
	return fmt.Sprintf("milestone_%s", milestoneID)
}

// RewardGrant is an append-only audit record of a premium-days grant. The
// (UserID, Reason, ReferralID) triple is the idempotency key: a grant with
// the same triple is never issued twice.
type RewardGrant struct {
	ID              string    `json:"id" bson:"_id"`
	UserID          string    `json:"user_id" bson:"user_id"`
	Days            int       `json:"days" bson:"days"`
	Reason          string    `json:"reason" bson:"reason"`
	ReferralID      string    `json:"referral_id" bson:"referral_id"`
	AwardedAt       time.Time `json:"awarded_at" bson:"awarded_at"`
	ResultingExpiry time.Time `json:"resulting_expiry" bson:"resulting_expiry"`
	Success         bool      `json:"success" bson:"success"`
}

// RewardConfig is the (referrer, referred) bonus-day pair supplied by the
// experimentation/segmentation collaborators, or the static defaults.
type RewardConfig struct {
	ReferrerDays int `json:"referrer_days"`
	ReferredDays int `json:"referred_days"`
}
