package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/watchfix/api/internal/repositories"
)

// Error kinds. Match with errors.Is; the concrete *Error carries a stable code.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrUpstream        = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnavailable     = errors.New("temporarily unavailable")
)

// Error codes surfaced to clients.
const (
	CodeNotFound       = "not_found"
	CodeInvalidStatus  = "invalid_status"
	CodeNoQuote        = "no_quote"
	CodeValidation     = "validation_error"
	CodeInvalidMedia   = "invalid_media"
	CodeInvalidShop    = "invalid_shop"
	CodeNoShop         = "no_shop"
	CodeForbidden      = "forbidden"
	CodeConflict       = "conflict"
	CodePhoneExists    = "phone_exists"
	CodeStorage        = "storage_error"
	CodeFileNotFound   = "file_not_found"
	CodeRateLimited    = "rate_limited"
	CodeInvalidOTP     = "invalid_otp"
	CodeUpstream       = "upstream_error"
	CodeGeocoding      = "geocoding_error"
	CodeUnavailable    = "unavailable"
	CodeInvalidRequest = "invalid_request"
)

// Error is a classified service failure.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func wrapError(kind error, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func notFound(what string) *Error {
	return newError(ErrNotFound, CodeNotFound, what+" not found")
}

func validation(code, message string) *Error {
	return newError(ErrValidation, code, message)
}

func invalidStatus(message string) *Error {
	return newError(ErrInvalidStatus, CodeInvalidStatus, message)
}

// AsError extracts the classified error, if any.
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// mapRepositoryError classifies a repository failure. what names the missing entity for not-found.
func mapRepositoryError(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			e := notFound(what)
			e.Err = err
			return e
		case repoErr.IsConflict():
			return wrapError(ErrConflict, CodeConflict, what+" was modified concurrently", err)
		case repoErr.IsUnavailable():
			return wrapError(ErrUnavailable, CodeUnavailable, "database unavailable", err)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
