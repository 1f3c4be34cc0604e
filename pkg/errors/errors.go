package errors

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrLoanNotFound        = errors.New("loan not found")
	ErrLoanNotEligible     = errors.New("loan is not eligible for reminders")
	ErrInvalidReminderType = errors.New("invalid reminder type")
	ErrReminderAlreadySent = errors.New("reminder already sent")
	ErrClaimConflict       = errors.New("reminder claim held by another dispatcher")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeLoanNotFound        = "LOAN_NOT_FOUND"
	ErrCodeLoanNotEligible     = "LOAN_NOT_ELIGIBLE"
	ErrCodeInvalidReminderType = "INVALID_REMINDER_TYPE"
	ErrCodeReminderAlreadySent = "REMINDER_ALREADY_SENT"
	ErrCodeClaimConflict       = "CLAIM_CONFLICT"
	ErrCodeDatabaseError       = "DATABASE_ERROR"
	ErrCodeMailerError         = "MAILER_ERROR"
	ErrCodeCacheError          = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapLoanNotFound(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeLoanNotFound,
		fmt.Sprintf("Loan with ID %s not found", loanID),
		ErrLoanNotFound,
	)
}

func WrapInvalidReminderType(reminderType string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidReminderType,
		fmt.Sprintf("Reminder type %q is not valid", reminderType),
		errors.Join(ErrInvalidReminderType, err),
	)
}

func WrapClaimConflict(loanID, key string) *BusinessError {
	return NewBusinessError(
		ErrCodeClaimConflict,
		fmt.Sprintf("Reminder %s for loan %s is being dispatched by another caller", key, loanID),
		ErrClaimConflict,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

func WrapMailerError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeMailerError,
		"email transport operation failed",
		err,
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		err,
	)
}

// CodeOf extracts the business error code, if any.
func CodeOf(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
