package models

import "errors"

// Referral engine error taxonomy. Validation errors abort before any write;
// AlreadyReferred and MaxReferralsReached are detected inside the
// record-creation transaction and abort it with no partial state.
var (
	ErrInvalidUser         = errors.New("invalid user")
	ErrInvalidCode         = errors.New("invalid referral code")
	ErrSelfReferral        = errors.New("self referral not allowed")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrAlreadyReferred     = errors.New("user already referred")
	ErrMaxReferralsReached = errors.New("maximum referrals reached")

	ErrUserNotFound = errors.New("user not found")
	ErrCodeNotFound = errors.New("referral code not found")
	ErrCodeTaken    = errors.New("referral code already reserved")
)
