package services

import (
	"sync"
	"time"

	"celeste/internal/models"
	"celeste/pkg/logger"
)

type rateLimitWindow struct {
	windowStart time.Time
	attempts    int
}

// RateLimitService bounds signup attempts per new user to maxAttempts per
// fixed window. Keying on the new user is what throttles abuse: one account
// spraying codes across many referrers, or guessing codes that resolve to
// nobody, burns its own budget. The window resets wholesale once it elapses;
// attempts count every processed signup, successful or not.
type RateLimitService struct {
	mu          sync.Mutex
	windows     map[string]*rateLimitWindow
	window      time.Duration
	maxAttempts int
	logger      *logger.Logger
	now         func() time.Time
}

func NewRateLimitService(window time.Duration, maxAttempts int, log *logger.Logger) *RateLimitService {
	return &RateLimitService{
		windows:     make(map[string]*rateLimitWindow),
		window:      window,
		maxAttempts: maxAttempts,
		logger:      log,
		now:         time.Now,
	}
}

// Allow records an attempt for the user and reports whether it is within the
// limit. The attempt is counted even when rejected, so a client retrying into
// a full window keeps extending nothing: the window boundary is fixed at the
// first attempt.
func (s *RateLimitService) Allow(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[userID]
	if !ok || now.Sub(w.windowStart) >= s.window {
		s.windows[userID] = &rateLimitWindow{windowStart: now, attempts: 1}
		return nil
	}

	w.attempts++
	if w.attempts > s.maxAttempts {
		s.logger.WithUserID(userID).
			WithField("attempts", w.attempts).
			Warn("Referral rate limit exceeded")
		return models.ErrRateLimitExceeded
	}

	return nil
}

// Remaining reports how many attempts are left in the user's current window
// without consuming one.
func (s *RateLimitService) Remaining(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[userID]
	if !ok || s.now().Sub(w.windowStart) >= s.window {
		return s.maxAttempts
	}

	remaining := s.maxAttempts - w.attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
