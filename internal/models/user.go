package models

import (
	"time"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// RankUnknown and RankApproximate are the two non-positive values
// ReferralRank can take: 0 means the rank has never been computed,
// -1 means the user is ranked beyond the bounded rank scan.
const (
	RankUnknown     = 0
	RankApproximate = -1
)

type User struct {
	ID               string         `json:"id" bson:"_id"`
	DisplayName      string         `json:"display_name" bson:"display_name"`
	Email            string         `json:"email" bson:"email"`
	PhotoURL         string         `json:"photo_url" bson:"photo_url"`
	Status           UserStatus     `json:"status" bson:"status" default:"active"`
	PremiumExpiresAt *time.Time     `json:"premium_expires_at" bson:"premium_expires_at"`
	Stats            *ReferralStats `json:"stats" bson:"stats"`
	FCMToken         string         `json:"-" bson:"fcm_token"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" bson:"updated_at"`
	DeletedAt        *time.Time     `json:"deleted_at" bson:"deleted_at"`
}

// ReferralStats is embedded on the user document. TotalReferrals is
// authoritative: it is only ever reconciled from the count of completed
// referral records, never incremented speculatively.
type ReferralStats struct {
	TotalReferrals    int    `json:"total_referrals" bson:"total_referrals"`
	PendingReferrals  int    `json:"pending_referrals" bson:"pending_referrals"`
	PremiumDaysEarned int    `json:"premium_days_earned" bson:"premium_days_earned"`
	ReferralRank      int    `json:"referral_rank" bson:"referral_rank"`
	ReferralCode      string `json:"referral_code" bson:"referral_code"`
}

func (u *User) IsPremium(now time.Time) bool {
	return u.PremiumExpiresAt != nil && u.PremiumExpiresAt.After(now)
}
