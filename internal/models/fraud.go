package models

import "time"

type RiskDecision string

const (
	RiskDecisionAllow RiskDecision = "allow"
	RiskDecisionFlag  RiskDecision = "flag"
	RiskDecisionBlock RiskDecision = "block"
)

// FraudAssessment is the verdict returned by the fraud-scoring collaborator.
// Assessments that flag or block a signup are persisted for audit.
type FraudAssessment struct {
	ID             string       `json:"id" bson:"_id,omitempty"`
	NewUserID      string       `json:"new_user_id" bson:"new_user_id"`
	ReferrerUserID string       `json:"referrer_user_id" bson:"referrer_user_id"`
	ReferralCode   string       `json:"referral_code" bson:"referral_code"`
	IPAddress      string       `json:"ip_address" bson:"ip_address"`
	RiskScore      float64      `json:"risk_score" bson:"risk_score"`
	RiskLevel      string       `json:"risk_level" bson:"risk_level"`
	Decision       RiskDecision `json:"decision" bson:"decision"`
	AssessedAt     time.Time    `json:"assessed_at" bson:"assessed_at"`
}

// AttributionResult is what the attribution collaborator reports for a
// conversion; the engine only logs it.
type AttributionResult struct {
	Model      string  `json:"model"`
	Confidence float64 `json:"confidence"`
}
