package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrNotFound, "job 42")
	err = WithDetail(err, "Job ID: 42")

	assert.True(t, IsNotFoundError(err))
	assert.False(t, IsConflictError(err))
	assert.Contains(t, err.Error(), "job 42")
	assert.Contains(t, GetAllDetails(err), "Job ID: 42")
}

func TestSentinelConstructors(t *testing.T) {
	assert.True(t, IsInvalidRequestError(NewInvalidRequestError("priority %d out of range", 500)))
	assert.True(t, IsNotFoundError(NewNotFoundError("log %s", "abc")))
	assert.True(t, IsConflictError(NewConflictError("job %s already terminal", "abc")))
	assert.False(t, IsNotFoundError(nil))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithDetail(nil, "detail"))
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")
	assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")
}

func TestFetchErrorClassification(t *testing.T) {
	timeout := &FetchError{Kind: FetchTimeout, Source: "remoteok", URL: "https://remoteok.example/feed", Err: context.DeadlineExceeded}
	wrapped := Wrap(timeout, "source remoteok")

	assert.True(t, IsFetchError(wrapped))
	assert.True(t, IsFetchError(wrapped, FetchTimeout))
	assert.False(t, IsFetchError(wrapped, FetchHTTPStatus, FetchNetwork))
	assert.True(t, Is(wrapped, context.DeadlineExceeded))

	var fe *FetchError
	require.True(t, As(wrapped, &fe))
	assert.Equal(t, "remoteok", fe.Source)
}

func TestFetchErrorMessage(t *testing.T) {
	err := &FetchError{Kind: FetchHTTPStatus, Source: "jobicy", StatusCode: 503}
	assert.Equal(t, "fetch jobicy (http-status): HTTP 503", err.Error())
}

func TestStorageErrorClassification(t *testing.T) {
	conflict := Wrap(&StorageError{Kind: StorageConflict, Op: "insert", Key: "x:abc"}, "upsert")
	down := Wrap(&StorageError{Kind: StorageUnavailable, Op: "get", Err: New("connection refused")}, "upsert")

	assert.True(t, IsStorageConflict(conflict))
	assert.False(t, IsStorageUnavailable(conflict))
	assert.True(t, IsStorageUnavailable(down))
	assert.Contains(t, down.Error(), "connection refused")
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Kind: ValidationMalformedDate, Field: "posted_at", Value: "yesterday-ish", Source: "rss"}
	assert.Equal(t, `invalid record from rss: malformed-date posted_at ("yesterday-ish")`, err.Error())
}

func TestRejected(t *testing.T) {
	err := Wrap(&RejectedError{Reason: "queue shut down"}, "submit")
	assert.True(t, IsRejected(err))
	assert.False(t, IsRejected(New("other")))
}

func ExampleWrap() {
	baseErr := New("connection failed")
	err := Wrap(baseErr, "failed to connect to database")
	fmt.Println(err)
	// Output: failed to connect to database: connection failed
}
