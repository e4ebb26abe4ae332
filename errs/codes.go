package errs

// Code identifies the category of a failure. The set is closed; the
// transport layer maps codes to wire-level statuses.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeConflict          Code = "CONFLICT"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeModerationBlocked Code = "MODERATION_BLOCKED"
	CodeInternal          Code = "INTERNAL"
)
