package models

import "time"

// ReferralCode is the dedicated code->owner index entry. The code itself is
// the document id, which makes reservation an unconditional create: a second
// generator picking the same code fails on the unique id instead of racing.
type ReferralCode struct {
	Code        string    `json:"code" bson:"_id"`
	OwnerUserID string    `json:"owner_user_id" bson:"owner_user_id"`
	Active      bool      `json:"active" bson:"active"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}
