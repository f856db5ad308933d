package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden ErrCode = "FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation        ErrCode = "VALIDATION_ERROR"
	ErrInvalidID         ErrCode = "INVALID_ID"
	ErrInvalidAccessCode ErrCode = "INVALID_ACCESS_CODE"

	// ─── Assessment / session ──────────────────────────────────────────
	ErrAssessmentNotFound    ErrCode = "ASSESSMENT_NOT_FOUND"
	ErrAssessmentUnavailable ErrCode = "ASSESSMENT_UNAVAILABLE"
	ErrSessionNotFound       ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive      ErrCode = "SESSION_NOT_ACTIVE"
	ErrQuestionNotInSession  ErrCode = "QUESTION_NOT_IN_SESSION"
	ErrReviewNotAllowed      ErrCode = "REVIEW_NOT_ALLOWED"

	// ─── Attempt policy ────────────────────────────────────────────────
	ErrAttemptLimitExceeded ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrCooldownActive       ErrCode = "COOLDOWN_ACTIVE"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRetryLater ErrCode = "RETRY_LATER"
	ErrInternal   ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	case ErrForbidden:
		return "You do not have permission to access this resource."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidAccessCode:
		return "The access code is not valid for this assessment."

	case ErrAssessmentNotFound:
		return "Assessment not found or not published."
	case ErrAssessmentUnavailable:
		return "This assessment cannot be started right now."
	case ErrSessionNotFound:
		return "Session not found."
	case ErrSessionNotActive:
		return "This session is no longer accepting answers."
	case ErrQuestionNotInSession:
		return "The question is not part of this session."
	case ErrReviewNotAllowed:
		return "Review is not available for this session."

	case ErrAttemptLimitExceeded:
		return "You have used all attempts for this assessment."
	case ErrCooldownActive:
		return "Please wait before starting another attempt."

	case ErrRetryLater:
		return "Something went wrong while saving. Your progress is kept, please retry."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
