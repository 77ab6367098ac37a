package config

import (
	"time"
)

type ReferralConfig struct {
	CodePrefix             string        `yaml:"code_prefix"`
	MaxReferralsPerUser    int           `yaml:"max_referrals_per_user"`
	RateLimitWindow        time.Duration `yaml:"rate_limit_window"`
	RateLimitMaxAttempts   int           `yaml:"rate_limit_max_attempts"`
	StatsCacheTTL          time.Duration `yaml:"stats_cache_ttl"`
	LeaderboardCacheTTL    time.Duration `yaml:"leaderboard_cache_ttl"`
	CodeValidationCacheTTL time.Duration `yaml:"code_validation_cache_ttl"`
	RewardRetryAttempts    int           `yaml:"reward_retry_attempts"`
	RewardRetryDelay       time.Duration `yaml:"reward_retry_delay"`
	ReferrerBonusDays      int           `yaml:"referrer_bonus_days"`
	ReferredBonusDays      int           `yaml:"referred_bonus_days"`
	FraudBlockThreshold    float64       `yaml:"fraud_block_threshold"`
	FraudFlagThreshold     float64       `yaml:"fraud_flag_threshold"`
	LeaderboardRefresh     time.Duration `yaml:"leaderboard_refresh"`
	Segments               []string      `yaml:"segments"`
}

func loadReferralConfig() *ReferralConfig {
	return &ReferralConfig{
		CodePrefix:             getEnv("REFERRAL_CODE_PREFIX", "CEL-"),
		MaxReferralsPerUser:    getEnvAsInt("REFERRAL_MAX_PER_USER", 100),
		RateLimitWindow:        getEnvAsDuration("REFERRAL_RATE_LIMIT_WINDOW", time.Hour),
		RateLimitMaxAttempts:   getEnvAsInt("REFERRAL_RATE_LIMIT_ATTEMPTS", 10),
		StatsCacheTTL:          getEnvAsDuration("REFERRAL_STATS_CACHE_TTL", 60*time.Second),
		LeaderboardCacheTTL:    getEnvAsDuration("REFERRAL_LEADERBOARD_CACHE_TTL", 300*time.Second),
		CodeValidationCacheTTL: getEnvAsDuration("REFERRAL_CODE_CACHE_TTL", 30*time.Second),
		RewardRetryAttempts:    getEnvAsInt("REFERRAL_REWARD_RETRY_ATTEMPTS", 3),
		RewardRetryDelay:       getEnvAsDuration("REFERRAL_REWARD_RETRY_DELAY", 2*time.Second),
		ReferrerBonusDays:      getEnvAsInt("REFERRAL_REFERRER_BONUS_DAYS", 3),
		ReferredBonusDays:      getEnvAsInt("REFERRAL_REFERRED_BONUS_DAYS", 3),
		FraudBlockThreshold:    getEnvAsFloat64("REFERRAL_FRAUD_BLOCK_THRESHOLD", 0.8),
		FraudFlagThreshold:     getEnvAsFloat64("REFERRAL_FRAUD_FLAG_THRESHOLD", 0.5),
		LeaderboardRefresh:     getEnvAsDuration("REFERRAL_LEADERBOARD_REFRESH", 5*time.Minute),
		Segments:               getEnvAsSlice("REFERRAL_SEGMENTS", []string{"control"}),
	}
}
