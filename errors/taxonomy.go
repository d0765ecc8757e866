package errors

import (
	"fmt"
	"strings"
)

// FetchKind classifies transport failures of a source fetch
type FetchKind string

const (
	FetchTimeout    FetchKind = "timeout"
	FetchHTTPStatus FetchKind = "http-status"
	FetchNetwork    FetchKind = "network"
)

// FetchError is a transport failure while fetching a source feed.
// Retried at job level, never per call.
type FetchError struct {
	Kind       FetchKind
	Source     string
	URL        string
	StatusCode int // only set for FetchHTTPStatus
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch %s (%s)", e.Source, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a malformed feed syntax error
type ParseError struct {
	Source string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s feed from %s: %v", e.Format, e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationKind classifies why a raw record was rejected
type ValidationKind string

const (
	ValidationMissingField  ValidationKind = "missing-field"
	ValidationMalformedDate ValidationKind = "malformed-date"
	ValidationMalformedURL  ValidationKind = "malformed-url"
)

// ValidationError rejects a single record; it never aborts a run
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Value  string
	Source string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid record from %s: %s %s (%q)", e.Source, e.Kind, e.Field, e.Value)
	}
	return fmt.Sprintf("invalid record from %s: %s %s", e.Source, e.Kind, e.Field)
}

// StorageKind classifies store failures
type StorageKind string

const (
	StorageConflict    StorageKind = "conflict"
	StorageUnavailable StorageKind = "unavailable"
	StorageQuery       StorageKind = "query"
)

// StorageError is a JobRecord store failure.
// Conflicts are retried once per record; unavailability fails the whole run.
type StorageError struct {
	Kind StorageKind
	Op   string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s during %s", e.Kind, e.Op)
	if e.Key != "" {
		msg += " of " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

// RejectedError is returned synchronously to the submitter when the queue
// refuses a job.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "job rejected: " + e.Reason
}

// IsFetchError reports whether err is or wraps a FetchError of any of the given
// kinds (any kind when none are given).
func IsFetchError(err error, kinds ...FetchKind) bool {
	var fe *FetchError
	if !As(err, &fe) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if fe.Kind == k {
			return true
		}
	}
	return false
}

// IsStorageUnavailable reports whether err means the store cannot be reached
func IsStorageUnavailable(err error) bool {
	var se *StorageError
	return As(err, &se) && se.Kind == StorageUnavailable
}

// IsStorageConflict reports whether err is a write conflict
func IsStorageConflict(err error) bool {
	var se *StorageError
	return As(err, &se) && se.Kind == StorageConflict
}

// IsRejected reports whether err is a RejectedError
func IsRejected(err error) bool {
	var re *RejectedError
	return As(err, &re)
}
