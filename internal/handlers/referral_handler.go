package handlers

import (
	"errors"
	"strconv"

	"celeste/internal/middleware"
	"celeste/internal/models"
	"celeste/internal/services"
	"celeste/internal/utils"
	"celeste/internal/validators"

	"github.com/gin-gonic/gin"
)

type ReferralHandler struct {
	referralService    *services.ReferralService
	codeService        *services.CodeService
	leaderboardService *services.LeaderboardService
}

func NewReferralHandler(
	referralService *services.ReferralService,
	codeService *services.CodeService,
	leaderboardService *services.LeaderboardService,
) *ReferralHandler {
	return &ReferralHandler{
		referralService:    referralService,
		codeService:        codeService,
		leaderboardService: leaderboardService,
	}
}

type signupPayload struct {
	ReferredUserID string `json:"referred_user_id" validate:"required,user_id"`
	ReferralCode   string `json:"referral_code" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
}

// ProcessSignup ingests a referral signup signal from the signup pipeline
func (h *ReferralHandler) ProcessSignup(c *gin.Context) {
	var payload signupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if verrs := validators.ValidateStruct(&payload); verrs != nil {
		utils.ValidationErrorResponse(c, verrs.Fields())
		return
	}

	result, err := h.referralService.ProcessSignup(c.Request.Context(), &services.SignupRequest{
		ReferredUserID: payload.ReferredUserID,
		ReferralCode:   payload.ReferralCode,
		Email:          payload.Email,
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		h.respondReferralError(c, err)
		return
	}

	utils.CreatedResponse(c, "Referral processed successfully", result)
}

// GenerateCode mints (or returns) the authenticated user's referral code
func (h *ReferralHandler) GenerateCode(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}

	code, err := h.codeService.Generate(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			utils.NotFoundResponse(c, "User")
			return
		}
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponse(c, "Referral code ready", gin.H{"referral_code": code})
}

// ValidateCode reports whether a code is usable, without exposing its owner
func (h *ReferralHandler) ValidateCode(c *gin.Context) {
	code := c.Param("code")

	valid, err := h.codeService.Validate(c.Request.Context(), code)
	if err != nil {
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponse(c, "Code validated", gin.H{"valid": valid})
}

// GetStats returns the authenticated user's referral stats with rank
func (h *ReferralHandler) GetStats(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}

	forceRefresh := c.Query("force_refresh") == "true"

	stats, err := h.leaderboardService.GetStats(c.Request.Context(), userID, forceRefresh)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			utils.NotFoundResponse(c, "User")
			return
		}
		utils.InternalServerErrorResponse(c)
		return
	}

	utils.SuccessResponse(c, "Referral stats retrieved", stats)
}

// GetLeaderboard returns the top referrers
func (h *ReferralHandler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(utils.DefaultLeaderboardLimit)))
	forceRefresh := c.Query("force_refresh") == "true"

	entries, err := h.leaderboardService.FetchLeaderboard(c.Request.Context(), limit, forceRefresh)
	if err != nil {
		utils.InternalServerErrorResponse(c)
		return
	}

	meta := &utils.Meta{Count: len(entries)}
	utils.SuccessResponseWithMeta(c, "Leaderboard retrieved", gin.H{"leaderboard": entries}, meta)
}

// GetHistory pages the authenticated user's referral history
func (h *ReferralHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return
	}

	params := utils.GetCursorParams(c)
	if _, _, err := utils.DecodeCursor(params.Cursor); err != nil {
		utils.BadRequestResponse(c, "Invalid cursor")
		return
	}

	page, err := h.leaderboardService.FetchUserReferrals(c.Request.Context(), userID, params)
	if err != nil {
		utils.InternalServerErrorResponse(c)
		return
	}

	meta := &utils.Meta{
		Count:      len(page.Entries),
		NextCursor: page.NextCursor,
	}
	utils.SuccessResponseWithMeta(c, "Referral history retrieved", gin.H{"referrals": page.Entries}, meta)
}

// respondReferralError maps the engine's error taxonomy onto HTTP statuses.
func (h *ReferralHandler) respondReferralError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidUser):
		utils.BadRequestResponse(c, "Invalid user")
	case errors.Is(err, models.ErrInvalidCode):
		utils.BadRequestResponse(c, "Invalid referral code")
	case errors.Is(err, models.ErrSelfReferral):
		utils.BadRequestResponse(c, "Self referral not allowed")
	case errors.Is(err, models.ErrRateLimitExceeded):
		utils.TooManyRequestsResponse(c, "Too many referral attempts")
	case errors.Is(err, models.ErrAlreadyReferred):
		utils.ConflictResponse(c, "ALREADY_REFERRED", "User already referred")
	case errors.Is(err, models.ErrMaxReferralsReached):
		utils.ConflictResponse(c, "MAX_REFERRALS_REACHED", "Referrer reached the referral limit")
	default:
		utils.InternalServerErrorResponse(c)
	}
}
