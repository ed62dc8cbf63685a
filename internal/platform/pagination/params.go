// Package pagination parses page/limit/sort query parameters for admin listings.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLimit is used when the client omits limit.
	DefaultLimit = 50
	// DefaultMaxLimit caps limit to prevent unbounded reads.
	DefaultMaxLimit = 100
)

// Params is the normalised listing request. Page is one-based.
type Params struct {
	Page   int
	Limit  int
	SortBy string
	Desc   bool
	From   *time.Time
	To     *time.Time
}

// Options control how Parse behaves for a given listing.
type Options struct {
	DefaultLimit      int
	MaxLimit          int
	AllowedSortFields []string
	DefaultSort       string
}

var (
	ErrInvalidPage  = errors.New("pagination: invalid page")
	ErrInvalidLimit = errors.New("pagination: invalid limit")
	ErrInvalidSort  = errors.New("pagination: invalid sort")
	ErrInvalidRange = errors.New("pagination: invalid date range")
)

// FromRequest parses the supported query parameters from r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page, limit, sortBy, sortOrder, dateFrom and dateTo. Limits above the maximum are
// clamped; malformed values are errors. Sorting defaults to descending.
func Parse(values url.Values, opts Options) (Params, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, maxLimit)

	params := Params{Page: 1, Limit: limit, SortBy: opts.DefaultSort, Desc: true}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return Params{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidPage)
		}
		params.Page = page
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			return Params{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidLimit)
		}
		params.Limit = min(value, maxLimit)
	}

	if raw := strings.TrimSpace(values.Get("sortBy")); raw != "" {
		if !slices.Contains(opts.AllowedSortFields, raw) {
			return Params{}, fmt.Errorf("%w: field %q is not sortable", ErrInvalidSort, raw)
		}
		params.SortBy = raw
	}
	switch strings.ToLower(strings.TrimSpace(values.Get("sortOrder"))) {
	case "", "desc":
	case "asc":
		params.Desc = false
	default:
		return Params{}, fmt.Errorf("%w: sortOrder must be asc or desc", ErrInvalidSort)
	}

	from, err := parseDate(values.Get("dateFrom"), false)
	if err != nil {
		return Params{}, err
	}
	to, err := parseDate(values.Get("dateTo"), true)
	if err != nil {
		return Params{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return Params{}, fmt.Errorf("%w: dateTo is before dateFrom", ErrInvalidRange)
	}
	params.From, params.To = from, to
	return params, nil
}

// Offset returns the zero-based index of the first item on the page.
func (p Params) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// TotalPages rounds total up to whole pages of limit.
func TotalPages(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain dateTo covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a date", ErrInvalidRange, raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}
