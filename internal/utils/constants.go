package utils

import "time"

// Application Constants
const (
	AppName    = "Celeste"
	AppVersion = "1.0.0"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1

	// Referral codes
	ReferralCodePrefix     = "CEL-"
	ReferralCodeLength     = 8
	CodeGenerationAttempts = 5
	CodeValidationCacheTTL = 30 * time.Second

	// Referral limits
	MaxReferralsPerUser  = 100
	RateLimitWindow      = time.Hour
	RateLimitMaxAttempts = 10

	// Caching
	StatsCacheTTL       = 60 * time.Second
	LeaderboardCacheTTL = 300 * time.Second

	// Rewards
	RewardRetryAttempts      = 3
	RewardRetryDelay         = 2 * time.Second
	DefaultReferrerBonusDays = 3
	DefaultReferredBonusDays = 3

	// Leaderboard and ranking
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
	RankScanLimit           = 1000

	// Batched user lookups are capped by the store's $in query budget.
	UserBatchLookupLimit = 10

	// Notifications
	NotificationQueueSize = 256
	NotificationTimeout   = 30 * time.Second
)

// Response Status
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrValidationFailed = "Validation failed"
	ErrInternalServer   = "Internal server error"
	ErrUnauthorized     = "Unauthorized access"
	ErrForbidden        = "Access forbidden"
)
