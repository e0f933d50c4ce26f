package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErrorClassifiesPostgresCodes(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: sql.ErrNoRows, notFound: true},
		{name: "wrapped no rows", err: fmt.Errorf("scan: %w", sql.ErrNoRows), notFound: true},
		{name: "unique", err: &pq.Error{Code: "23505"}, conflict: true},
		{name: "serialization", err: &pq.Error{Code: "40001"}, conflict: true},
		{name: "deadlock", err: &pq.Error{Code: "40P01"}, conflict: true},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pq.Error{Code: "57P01"}, unavailable: true},
		{name: "too many connections", err: &pq.Error{Code: "53300"}, unavailable: true},
		{name: "syntax error", err: &pq.Error{Code: "42601"}},
		{name: "connection done", err: sql.ErrConnDone, unavailable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("op", tc.err)
			var repoErr *Error
			require.True(t, errors.As(wrapped, &repoErr))
			assert.Equal(t, tc.notFound, repoErr.IsNotFound())
			assert.Equal(t, tc.conflict, repoErr.IsConflict())
			assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
			assert.ErrorIs(t, wrapped, tc.err)
		})
	}
}

func TestWrapErrorPassesThroughContextErrors(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
	assert.Equal(t, context.Canceled, WrapError("op", context.Canceled))
	assert.ErrorIs(t, WrapError("op", fmt.Errorf("query: %w", context.DeadlineExceeded)), context.DeadlineExceeded)
}

func TestWrapErrorKeepsExistingRepositoryError(t *testing.T) {
	inner := Conflict("", "version %d is stale", 3)
	wrapped := WrapError("settings.save", inner)
	var repoErr *Error
	require.True(t, errors.As(wrapped, &repoErr))
	assert.True(t, repoErr.IsConflict())
	assert.Equal(t, "settings.save: version 3 is stale", wrapped.Error())
}

func TestConstraintName(t *testing.T) {
	err := WrapError("insert", &pq.Error{Code: "23505", Constraint: "customers_phone_key"})
	assert.Equal(t, "customers_phone_key", ConstraintName(err))
	assert.Empty(t, ConstraintName(errors.New("plain")))
}
