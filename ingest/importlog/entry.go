// Package importlog records one entry per import run and aggregates the
// finalized entries into dashboard statistics.
package importlog

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of an import run
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Finalized reports whether the entry can no longer change
func (s Status) Finalized() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValidStatus checks s against the known statuses
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Message is a timestamped error or warning line
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Entry is the log of one run. Only the orchestrator that created it
// mutates it; once finalized it is immutable.
type Entry struct {
	ID            string         `json:"id"`
	ImportID      string         `json:"importId"`
	Source        string         `json:"source"`
	SourceURL     string         `json:"sourceUrl,omitempty"`
	Status        Status         `json:"status"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       *time.Time     `json:"endTime,omitempty"`
	Duration      int64          `json:"duration"` // milliseconds
	TotalFetched  int            `json:"totalFetched"`
	TotalImported int            `json:"totalImported"`
	NewJobs       int            `json:"newJobs"`
	UpdatedJobs   int            `json:"updatedJobs"`
	FailedJobs    int            `json:"failedJobs"`
	SuccessRate   int            `json:"successRate"`
	ErrorCount    int            `json:"errorCount"`
	WarningCount  int            `json:"warningCount"`
	TriggerType   string         `json:"triggerType"`
	TriggeredBy   string         `json:"triggeredBy"`
	Errors        []Message      `json:"errors"`
	Warnings      []Message      `json:"warnings"`
	Metadata      map[string]any `json:"metadata"`
}

// NewEntry starts an in-progress entry for one run of importID
func NewEntry(importID string, sources, sourceURLs []string, triggerType, triggeredBy string, start time.Time) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		ImportID:    importID,
		Source:      strings.Join(sources, ","),
		SourceURL:   strings.Join(sourceURLs, ","),
		Status:      StatusInProgress,
		StartTime:   start.UTC(),
		TriggerType: triggerType,
		TriggeredBy: triggeredBy,
		Errors:      []Message{},
		Warnings:    []Message{},
		Metadata:    map[string]any{},
	}
}

// AddError appends an error line and bumps ErrorCount
func (e *Entry) AddError(at time.Time, msg string) {
	e.Errors = append(e.Errors, Message{Timestamp: at.UTC(), Message: msg})
	e.ErrorCount = len(e.Errors)
}

// AddWarning appends a warning line and bumps WarningCount
func (e *Entry) AddWarning(at time.Time, msg string) {
	e.Warnings = append(e.Warnings, Message{Timestamp: at.UTC(), Message: msg})
	e.WarningCount = len(e.Warnings)
}

// Finalize closes the entry: end time, duration, imported total and
// success rate are derived here and nowhere else.
func (e *Entry) Finalize(status Status, end time.Time) {
	end = end.UTC()
	e.Status = status
	e.EndTime = &end
	e.Duration = max(end.Sub(e.StartTime).Milliseconds(), 0)
	e.TotalImported = e.NewJobs + e.UpdatedJobs
	e.SuccessRate = SuccessRate(e.TotalImported, e.TotalFetched)
}

// SuccessRate is round(imported/fetched*100), or 0 when nothing was fetched
func SuccessRate(imported, fetched int) int {
	if fetched <= 0 {
		return 0
	}
	return int(math.Round(float64(imported) / float64(fetched) * 100))
}
