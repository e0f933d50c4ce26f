package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Error implements repositories.RepositoryError for PostgreSQL backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a constraint or serialisation conflict.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// SQLSTATE codes and classes the repositories distinguish.
const (
	codeUniqueViolation      = pq.ErrorCode("23505")
	codeForeignKeyViolation  = pq.ErrorCode("23503")
	codeCheckViolation       = pq.ErrorCode("23514")
	codeSerializationFailure = pq.ErrorCode("40001")
	codeDeadlockDetected     = pq.ErrorCode("40P01")
	codeAdminShutdown        = pq.ErrorCode("57P01")
	codeCannotConnectNow     = pq.ErrorCode("57P03")

	classConnectionException  = pq.ErrorClass("08")
	classInsufficientResource = pq.ErrorClass("53")
)

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}

	if errors.Is(err, sql.ErrNoRows) {
		e.notFound = true
		return e
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		e.unavailable = true
		return e
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return e
	}
	switch pqErr.Code {
	case codeUniqueViolation, codeForeignKeyViolation, codeCheckViolation,
		codeSerializationFailure, codeDeadlockDetected:
		e.conflict = true
	case codeAdminShutdown, codeCannotConnectNow:
		e.unavailable = true
	default:
		switch pqErr.Code.Class() {
		case classConnectionException, classInsufficientResource:
			e.unavailable = true
		}
	}
	return e
}

// WrapError annotates database errors with repository semantics. Context cancellations are passed
// through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}

// NotFound builds a not-found error for lookups that detect absence without sql.ErrNoRows.
func NotFound(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

// Conflict builds a conflict error, e.g. for a lost optimistic update.
func Conflict(op string, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}

// ConstraintName returns the violated constraint of a PostgreSQL error, if any.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
