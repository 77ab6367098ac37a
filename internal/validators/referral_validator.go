package validators

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterValidation("referral_code", validateReferralCode)
	validate.RegisterValidation("user_id", validateUserID)
}

// Referral codes are PREFIX + 8 characters from an alphabet that excludes
// confusing glyphs (0, O, I, L, 1).
var referralCodePattern = regexp.MustCompile(`^[A-Z]{2,6}-[ABCDEFGHJKMNPQRSTUVWXYZ23456789]{8}$`)

// User ids are opaque identity-provider strings; bound the length and
// reject whitespace.
var userIDPattern = regexp.MustCompile(`^[^\s]{1,128}$`)

func validateReferralCode(fl validator.FieldLevel) bool {
	return referralCodePattern.MatchString(fl.Field().String())
}

func validateUserID(fl validator.FieldLevel) bool {
	return userIDPattern.MatchString(fl.Field().String())
}

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// Fields returns the errors as a field->message map for the API envelope.
func (v ValidationErrors) Fields() map[string]string {
	fields := make(map[string]string, len(v))
	for _, err := range v {
		fields[err.Field] = err.Message
	}
	return fields
}

// ValidateStruct validates a struct and returns detailed errors
func ValidateStruct(s interface{}) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors ValidationErrors
	for _, fieldErr := range err.(validator.ValidationErrors) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   strings.ToLower(fieldErr.Field()),
			Tag:     fieldErr.Tag(),
			Message: messageForTag(fieldErr),
		})
	}

	return validationErrors
}

func messageForTag(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "referral_code":
		return "is not a valid referral code"
	case "user_id":
		return "is not a valid user id"
	case "email":
		return "is not a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	default:
		return fmt.Sprintf("failed %s validation", err.Tag())
	}
}
