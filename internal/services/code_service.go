package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"celeste/internal/models"
	"celeste/internal/repositories/interfaces"
	"celeste/internal/utils"
	"celeste/pkg/logger"
)

// CodeService owns referral code generation, validation and owner lookup.
type CodeService struct {
	codeRepo interfaces.CodeRepository
	userRepo interfaces.UserRepository
	cache    *ReferralCacheService
	logger   *logger.Logger
	prefix   string
	now      func() time.Time
}

func NewCodeService(
	codeRepo interfaces.CodeRepository,
	userRepo interfaces.UserRepository,
	cache *ReferralCacheService,
	log *logger.Logger,
	prefix string,
) *CodeService {
	return &CodeService{
		codeRepo: codeRepo,
		userRepo: userRepo,
		cache:    cache,
		logger:   log,
		prefix:   prefix,
		now:      time.Now,
	}
}

// Generate mints a referral code for the user and reserves it in the code
// index. A user who already has a code gets the existing one back.
func (s *CodeService) Generate(ctx context.Context, userID string) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.Stats != nil && user.Stats.ReferralCode != "" {
		return user.Stats.ReferralCode, nil
	}

	code, err := s.reserveUnique(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := s.userRepo.SetReferralCode(ctx, userID, code); err != nil {
		return "", fmt.Errorf("failed to attach referral code: %w", err)
	}

	s.logger.WithUserID(userID).WithField("referral_code", code).Info("Referral code generated")

	return code, nil
}

// reserveUnique tries random codes, then falls back to a code derived from
// the owner id and clock. The fallback still goes through Reserve, so even it
// cannot silently collide.
func (s *CodeService) reserveUnique(ctx context.Context, userID string) (string, error) {
	for attempt := 0; attempt < utils.CodeGenerationAttempts; attempt++ {
		code := s.prefix + utils.GenerateReferralCodeBody()
		err := s.codeRepo.Reserve(ctx, &models.ReferralCode{
			Code:        code,
			OwnerUserID: userID,
			Active:      true,
			CreatedAt:   s.now(),
		})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, models.ErrCodeTaken) {
			return "", err
		}
	}

	code := s.prefix + deriveCodeBody(userID, s.now())
	err := s.codeRepo.Reserve(ctx, &models.ReferralCode{
		Code:        code,
		OwnerUserID: userID,
		Active:      true,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to reserve derived code: %w", err)
	}

	s.logger.WithUserID(userID).Warn("Random code generation exhausted, used derived code")

	return code, nil
}

// Validate reports whether a code exists and is active, without exposing the
// owner. Results are cached briefly; both outcomes are cacheable.
func (s *CodeService) Validate(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	if cached := s.cache.GetCodeValidation(ctx, code); cached != nil {
		return cached.Valid, nil
	}

	entry, err := s.lookup(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrCodeNotFound) {
			s.cache.SetCodeValidation(ctx, code, &CodeValidation{Valid: false})
			return false, nil
		}
		return false, err
	}

	s.cache.SetCodeValidation(ctx, code, &CodeValidation{Valid: entry.Active, OwnerUserID: entry.OwnerUserID})

	return entry.Active, nil
}

// ResolveOwner maps a code to its owning user. This is the signup-path
// lookup: it deliberately skips the validation cache so a just-deactivated
// code cannot admit a referral for up to the cache TTL.
func (s *CodeService) ResolveOwner(ctx context.Context, code string) (string, error) {
	entry, err := s.lookup(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrCodeNotFound) {
			return "", models.ErrInvalidCode
		}
		return "", err
	}
	if !entry.Active {
		return "", models.ErrInvalidCode
	}

	return entry.OwnerUserID, nil
}

// lookup checks the code index first and falls back to scanning the user
// stats field for codes issued before the index existed. Legacy hits are
// migrated into the index on the way out.
func (s *CodeService) lookup(ctx context.Context, code string) (*models.ReferralCode, error) {
	entry, err := s.codeRepo.Get(ctx, code)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, models.ErrCodeNotFound) {
		return nil, err
	}

	owner, err := s.userRepo.GetByReferralCodeField(ctx, code)
	if err != nil {
		return nil, err
	}

	migrated := &models.ReferralCode{
		Code:        code,
		OwnerUserID: owner.ID,
		Active:      true,
		CreatedAt:   s.now(),
	}
	if rerr := s.codeRepo.Reserve(ctx, migrated); rerr != nil && !errors.Is(rerr, models.ErrCodeTaken) {
		s.logger.WithError(rerr).WithField("referral_code", code).Warn("Failed to migrate legacy referral code")
	}

	return migrated, nil
}

func deriveCodeBody(userID string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", userID, now.UnixNano())))

	const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	body := make([]byte, utils.ReferralCodeLength)
	for i := range body {
		body[i] = alphabet[int(sum[i])%len(alphabet)]
	}
	return string(body)
}
