package fraud

import (
	"context"
	"math"
	"net"
	"strings"
	"time"
)

// Scorer is a rule-based risk scorer for referral signups. It is the default
// implementation of the engine's fraud collaborator; deployments with a
// dedicated fraud service swap it out behind the same interface.
type Scorer struct {
	blockThreshold float64
	flagThreshold  float64
	rules          []rule
}

type rule struct {
	name   string
	weight float64
	match  func(*AssessmentRequest) bool
}

type AssessmentRequest struct {
	NewUserID        string    `json:"new_user_id"`
	ReferrerUserID   string    `json:"referrer_user_id"`
	ReferralCode     string    `json:"referral_code"`
	Email            string    `json:"email"`
	IPAddress        string    `json:"ip_address"`
	SignupTime       time.Time `json:"signup_time"`
	AccountAgeDays   int       `json:"account_age_days"`
	SignupsFromIP    int       `json:"signups_from_ip"`
	ReferrerVelocity int       `json:"referrer_velocity"` // completed referrals in the last 24h
}

type AssessmentResponse struct {
	RiskScore      float64  `json:"risk_score"`
	RiskLevel      string   `json:"risk_level"`
	Decision       string   `json:"decision"`
	TriggeredRules []string `json:"triggered_rules"`
}

const (
	DecisionAllow = "allow"
	DecisionFlag  = "flag"
	DecisionBlock = "block"
)

func NewScorer(blockThreshold, flagThreshold float64) *Scorer {
	s := &Scorer{
		blockThreshold: blockThreshold,
		flagThreshold:  flagThreshold,
	}

	s.rules = []rule{
		{
			name:   "disposable_email",
			weight: 0.35,
			match: func(r *AssessmentRequest) bool {
				return isDisposableEmail(r.Email)
			},
		},
		{
			name:   "ip_signup_burst",
			weight: 0.3,
			match: func(r *AssessmentRequest) bool {
				return r.SignupsFromIP >= 3
			},
		},
		{
			name:   "referrer_velocity",
			weight: 0.3,
			match: func(r *AssessmentRequest) bool {
				return r.ReferrerVelocity >= 10
			},
		},
		{
			name:   "brand_new_account",
			weight: 0.15,
			match: func(r *AssessmentRequest) bool {
				return r.AccountAgeDays < 1
			},
		},
		{
			name:   "private_range_ip",
			weight: 0.1,
			match: func(r *AssessmentRequest) bool {
				ip := net.ParseIP(r.IPAddress)
				return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
			},
		},
		{
			name:   "off_hours_signup",
			weight: 0.1,
			match: func(r *AssessmentRequest) bool {
				hour := r.SignupTime.Hour()
				return hour >= 2 && hour <= 5
			},
		},
	}

	return s
}

func (s *Scorer) Assess(ctx context.Context, request *AssessmentRequest) (*AssessmentResponse, error) {
	var triggered []string
	score := 0.0

	for _, r := range s.rules {
		if r.match(request) {
			triggered = append(triggered, r.name)
			score += r.weight
		}
	}

	score = math.Min(score, 1.0)

	return &AssessmentResponse{
		RiskScore:      score,
		RiskLevel:      categorizeRisk(score),
		Decision:       s.decide(score),
		TriggeredRules: triggered,
	}, nil
}

func (s *Scorer) decide(score float64) string {
	if score >= s.blockThreshold {
		return DecisionBlock
	}
	if score >= s.flagThreshold {
		return DecisionFlag
	}
	return DecisionAllow
}

func categorizeRisk(score float64) string {
	if score >= 0.8 {
		return "very_high"
	} else if score >= 0.6 {
		return "high"
	} else if score >= 0.4 {
		return "medium"
	} else if score >= 0.2 {
		return "low"
	}
	return "very_low"
}

var disposableEmailDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.dev":      true,
	"throwaway.email":   true,
}

func isDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return disposableEmailDomains[strings.ToLower(email[at+1:])]
}
