package async

import (
	"context"

	"github.com/teranos/jobpulse/errors"
)

// ErrShuttingDown is the cancellation cause seen by jobs interrupted by
// WorkerPool.Stop. Such jobs go back to pending rather than being cancelled.
var ErrShuttingDown = errors.New("worker pool shutting down")

// ErrorCode classifies a job failure for logs and retry decisions
type ErrorCode string

const (
	ErrorCodeFetchTimeout       ErrorCode = "fetch_timeout"
	ErrorCodeFetchHTTP          ErrorCode = "fetch_http_status"
	ErrorCodeNetworkError       ErrorCode = "network_error"
	ErrorCodeParseError         ErrorCode = "parse_error"
	ErrorCodeValidationError    ErrorCode = "validation_error"
	ErrorCodeStorageUnavailable ErrorCode = "storage_unavailable"
	ErrorCodeStorageError       ErrorCode = "storage_error"
	ErrorCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrorCodeCancelled          ErrorCode = "cancelled"
	ErrorCodeTimeout            ErrorCode = "timeout"
	ErrorCodeUnknown            ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// ClassifyError categorizes err by the error taxonomy rather than by message text
func ClassifyError(err error) ErrorContext {
	if err == nil {
		return ErrorContext{Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Message: err.Error(), Retryable: true}

	var fetchErr *errors.FetchError
	var storageErr *errors.StorageError
	var parseErr *errors.ParseError
	var validationErr *errors.ValidationError

	switch {
	case errors.Is(err, context.Canceled):
		ec.Code = ErrorCodeCancelled
		ec.Retryable = false
	case errors.As(err, &fetchErr):
		switch fetchErr.Kind {
		case errors.FetchTimeout:
			ec.Code = ErrorCodeFetchTimeout
		case errors.FetchHTTPStatus:
			ec.Code = ErrorCodeFetchHTTP
		default:
			ec.Code = ErrorCodeNetworkError
		}
	case errors.As(err, &storageErr):
		ec.Code = ErrorCodeStorageError
		if storageErr.Kind == errors.StorageUnavailable {
			ec.Code = ErrorCodeStorageUnavailable
		}
	case errors.As(err, &parseErr):
		ec.Code = ErrorCodeParseError
	case errors.As(err, &validationErr):
		ec.Code = ErrorCodeValidationError
	case errors.Is(err, errors.ErrInvalidRequest):
		ec.Code = ErrorCodeInvalidRequest
		ec.Retryable = false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		ec.Code = ErrorCodeTimeout
	default:
		ec.Code = ErrorCodeUnknown
	}
	return ec
}

// Retryable reports whether a failed job should be requeued (attempts permitting).
// Configuration problems and cancellation never are.
func Retryable(err error) bool {
	return ClassifyError(err).Retryable
}
