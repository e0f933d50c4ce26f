package postgres

import (
	"database/sql"
	"strings"
	"time"
)

type scanner interface {
	Scan(dest ...any) error
}

func columns(alias string, names []string) string {
	if alias == "" {
		return strings.Join(names, ", ")
	}
	prefixed := make([]string, len(names))
	for i, name := range names {
		prefixed[i] = alias + "." + name
	}
	return strings.Join(prefixed, ", ")
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	value := int(v.Int32)
	return &value
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	value := v.String
	return &value
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	value := v.Float64
	return &value
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	value := v.Time.UTC()
	return &value
}

// nullable converts an optional value into a driver argument, mapping nil to NULL.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func nowOr(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}
