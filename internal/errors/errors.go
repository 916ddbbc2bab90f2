package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinel values work
// with errors.Is after being re-wrapped with a different message or cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrInvalidVitals    = &AppError{Code: "VITALS_001", Message: "invalid vital signs"}
	ErrUnknownMetric    = &AppError{Code: "VITALS_002", Message: "unknown metric"}
	ErrUnknownPeriod    = &AppError{Code: "VITALS_003", Message: "unknown trend period"}
	ErrInvalidThreshold = &AppError{Code: "VITALS_004", Message: "invalid threshold table"}

	ErrAlertNotFound = &AppError{Code: "ALERT_001", Message: "alert not found"}

	ErrStoreUnavailable = &AppError{Code: "STORE_001", Message: "store unavailable"}
	ErrSyncFailed       = &AppError{Code: "STORE_002", Message: "remote sync failed"}

	ErrNoSenders       = &AppError{Code: "NOTIFY_001", Message: "no notification senders configured"}
	ErrRateLimited     = &AppError{Code: "NOTIFY_002", Message: "notification rate limit exceeded"}
	ErrDeliveryFailed  = &AppError{Code: "NOTIFY_003", Message: "notification delivery failed"}
	ErrUnknownPlatform = &AppError{Code: "NOTIFY_004", Message: "unknown device platform"}

	ErrReminderNotFound = &AppError{Code: "REMIND_001", Message: "reminder not found"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden    = &AppError{Code: "AUTH_002", Message: "forbidden"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Because derives a new error from a sentinel, keeping its code.
func Because(sentinel *AppError, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...)),
	}
}
