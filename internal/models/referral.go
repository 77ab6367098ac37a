package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// Referral records that ReferredUserID signed up with ReferrerUserID's code.
// The document id is deterministic (see ReferralID), so retried creation for
// the same pair collides on the same record instead of duplicating it.
// Immutable after creation except for RewardClaimed.
type Referral struct {
	ID             string         `json:"id" bson:"_id"`
	ReferrerUserID string         `json:"referrer_user_id" bson:"referrer_user_id"`
	ReferredUserID string         `json:"referred_user_id" bson:"referred_user_id"`
	ReferralCode   string         `json:"referral_code" bson:"referral_code"`
	Status         ReferralStatus `json:"status" bson:"status"`
	Segment        string         `json:"segment,omitempty" bson:"segment,omitempty"`
	ManualReview   bool           `json:"manual_review" bson:"manual_review"`
	RewardClaimed  bool           `json:"reward_claimed" bson:"reward_claimed"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at" bson:"completed_at"`
}

// ReferralID derives the deterministic referral document id for an ordered
// (referrer, referred) pair.
func ReferralID(referrerID, referredID string) string {
	sum := sha256.Sum256([]byte(referrerID + ":" + referredID))
	return hex.EncodeToString(sum[:16])
}

// ReferredUserSummary is the enriched view returned by the history read path.
type ReferredUserSummary struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

type ReferralHistoryEntry struct {
	Referral     *Referral            `json:"referral"`
	ReferredUser *ReferredUserSummary `json:"referred_user,omitempty"`
}

// ReferralHistoryPage is a cursor page of referral history ordered by
// creation time descending. NextCursor is empty on the last page.
type ReferralHistoryPage struct {
	Entries    []*ReferralHistoryEntry `json:"entries"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	PhotoURL       string `json:"photo_url"`
	TotalReferrals int    `json:"total_referrals"`
}
