package routes

import (
	"celeste/internal/handlers"
	"celeste/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupReferralRoutes sets up routes for referral functionality
func SetupReferralRoutes(r *gin.RouterGroup, referralHandler *handlers.ReferralHandler, jwtSecret string) {
	referrals := r.Group("/referrals")

	// Public code validation for signup forms
	referrals.GET("/code/:code/validate", referralHandler.ValidateCode)

	// Signup signal from the signup pipeline (service-to-service)
	signal := referrals.Group("")
	signal.Use(middleware.AuthRequired(jwtSecret), middleware.ServiceRequired())
	{
		signal.POST("/signup", referralHandler.ProcessSignup)
	}

	// User-facing routes (require authentication)
	authed := referrals.Group("")
	authed.Use(middleware.AuthRequired(jwtSecret))
	{
		authed.POST("/code", referralHandler.GenerateCode)
		authed.GET("/stats", referralHandler.GetStats)
		authed.GET("/leaderboard", referralHandler.GetLeaderboard)
		authed.GET("/history", referralHandler.GetHistory)
	}
}
