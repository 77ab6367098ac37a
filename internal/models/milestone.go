package models

import "time"

// Milestone is a referral-count threshold that unlocks a one-time bonus.
type Milestone struct {
	ID                string `json:"id" bson:"id"`
	RequiredReferrals int    `json:"required_referrals" bson:"required_referrals"`
	BonusDays         int    `json:"bonus_days" bson:"bonus_days"`
}

// DefaultMilestones is ordered ascending by threshold.
var DefaultMilestones = []Milestone{
	{ID: "bronze", RequiredReferrals: 5, BonusDays: 7},
	{ID: "silver", RequiredReferrals: 10, BonusDays: 15},
	{ID: "gold", RequiredReferrals: 25, BonusDays: 30},
	{ID: "platinum", RequiredReferrals: 50, BonusDays: 60},
	{ID: "diamond", RequiredReferrals: 100, BonusDays: 180},
}

// NewlyAchievedMilestone returns the highest milestone whose threshold lies
// in (oldCount, newCount], or nil when the transition crosses none. Running
// it again with oldCount == newCount therefore never re-fires.
func NewlyAchievedMilestone(milestones []Milestone, oldCount, newCount int) *Milestone {
	var achieved *Milestone
	for i := range milestones {
		m := milestones[i]
		if m.RequiredReferrals > oldCount && m.RequiredReferrals <= newCount {
			achieved = &m
		}
	}
	return achieved
}

// MilestoneAchievement is the audit record appended when a milestone bonus
// fires.
type MilestoneAchievement struct {
	ID          string    `json:"id" bson:"_id"`
	UserID      string    `json:"user_id" bson:"user_id"`
	MilestoneID string    `json:"milestone_id" bson:"milestone_id"`
	Referrals   int       `json:"referrals" bson:"referrals"`
	BonusDays   int       `json:"bonus_days" bson:"bonus_days"`
	AchievedAt  time.Time `json:"achieved_at" bson:"achieved_at"`
}

// MilestoneEvent is the one-shot signal emitted for the UI layer when a
// milestone fires.
type MilestoneEvent struct {
	UserID    string    `json:"user_id"`
	Milestone Milestone `json:"milestone"`
	At        time.Time `json:"at"`
}
