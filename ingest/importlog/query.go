package importlog

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/jobpulse/errors"
)

// Listing defaults and bounds
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Sort orders
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// sortColumns maps sortable Entry fields (by JSON name) to columns
var sortColumns = map[string]string{
	"startTime":     "start_time",
	"endTime":       "end_time",
	"duration":      "duration_ms",
	"source":        "source",
	"status":        "status",
	"totalFetched":  "total_fetched",
	"totalImported": "total_imported",
	"newJobs":       "new_jobs",
	"updatedJobs":   "updated_jobs",
	"failedJobs":    "failed_jobs",
	"successRate":   "success_rate",
	"errorCount":    "error_count",
	"warningCount":  "warning_count",
	"triggerType":   "trigger_type",
	"triggeredBy":   "triggered_by",
}

// ListQuery selects a page of entries. Filters are conjunctive; the date
// bounds apply to startTime and are inclusive.
type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
	Source    string
	Status    Status
	StartDate *time.Time
	EndDate   *time.Time
}

// Pagination describes where a page sits in the full result
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
	Limit       int  `json:"limit"`
}

// Page is one page of entries
type Page struct {
	Logs       []*Entry   `json:"logs"`
	Pagination Pagination `json:"pagination"`
}

// NewPagination computes page metadata; totalPages = ceil(total/limit)
func NewPagination(page, limit, total int) Pagination {
	if limit <= 0 {
		limit = DefaultLimit
	}
	totalPages := (total + limit - 1) / limit
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
		Limit:       limit,
	}
}

// Normalize applies defaults and validates the sort and status fields
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.SortBy == "" {
		q.SortBy = "startTime"
	}
	if _, ok := sortColumns[q.SortBy]; !ok {
		return q, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidRequest, "unknown sortBy %q", q.SortBy),
			"sortBy accepts startTime, endTime, duration, source, status and the count fields")
	}
	q.SortOrder = strings.ToLower(q.SortOrder)
	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return q, errors.Wrapf(errors.ErrInvalidRequest, "sortOrder must be asc or desc, got %q", q.SortOrder)
	}
	if q.Status != "" && !IsValidStatus(string(q.Status)) {
		return q, errors.Wrapf(errors.ErrInvalidRequest, "unknown status %q", q.Status)
	}
	if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
		return q, errors.Wrap(errors.ErrInvalidRequest, "endDate is before startDate")
	}
	return q, nil
}

// ParseListQuery reads a ListQuery from URL parameters
// (page, limit, sortBy, sortOrder, source, status, startDate, endDate).
func ParseListQuery(v url.Values) (ListQuery, error) {
	var q ListQuery
	var err error

	if q.Page, err = intParam(v, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(v, "limit"); err != nil {
		return q, err
	}
	q.SortBy = strings.TrimSpace(v.Get("sortBy"))
	q.SortOrder = strings.TrimSpace(v.Get("sortOrder"))
	q.Source = strings.TrimSpace(v.Get("source"))
	q.Status = Status(strings.TrimSpace(v.Get("status")))

	if q.StartDate, err = dateParam(v, "startDate", false); err != nil {
		return q, err
	}
	if q.EndDate, err = dateParam(v, "endDate", true); err != nil {
		return q, err
	}
	return q.Normalize()
}

func intParam(v url.Values, name string) (int, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

// dateParam accepts RFC3339 or YYYY-MM-DD. A date-only end bound covers the
// whole day.
func dateParam(v url.Values, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(v.Get(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "%s must be RFC3339 or YYYY-MM-DD, got %q", name, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
