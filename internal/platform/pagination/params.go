package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is the page size used when the client omits limit.
	DefaultLimit = 20
	// DefaultMaxLimit caps limit to prevent unbounded queries.
	DefaultMaxLimit = 100
)

// Params is a normalised page/limit pair. Page is 1-based.
type Params struct {
	Page  int
	Limit int
}

// Offset returns the number of rows preceding the page.
func (p Params) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Options control how Parse behaves for a given listing.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

var (
	ErrInvalidPage  = errors.New("pagination: invalid page")
	ErrInvalidLimit = errors.New("pagination: invalid limit")
)

// FromRequest parses page and limit from the request query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page and limit. Malformed values are rejected; a limit above the maximum is clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}
	page, err := parsePositive(values.Get("page"), ErrInvalidPage)
	if err != nil {
		return Params{}, err
	}
	limit, err := parsePositive(values.Get("limit"), ErrInvalidLimit)
	if err != nil {
		return Params{}, err
	}
	return Normalize(page, limit, opts), nil
}

// Normalize applies defaults and bounds to a page/limit pair that may be zero.
func Normalize(page, limit int, opts Options) Params {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	defaultLimit := opts.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}

	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}
	return Params{Page: page, Limit: limit}
}

func parsePositive(raw string, sentinel error) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", sentinel)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", sentinel)
	}
	return value, nil
}
