package logger

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/sym"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldImportID  = "import_id"
	FieldRequestID = "request_id"
	FieldSymbol    = "symbol"

	// Import pipeline
	FieldSource      = "source"
	FieldSources     = "sources"
	FieldSourceURL   = "source_url"
	FieldFormat      = "format"
	FieldDedupKey    = "dedup_key"
	FieldPriority    = "priority"
	FieldAttempt     = "attempt"
	FieldConcurrency = "concurrency"
	FieldBatchSize   = "batch_size"
	FieldTrigger     = "trigger_type"
	FieldMaxAttempts = "max_attempts"

	// Workers
	FieldWorkerID = "worker_id"
	FieldWorkers  = "workers"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldBackoff    = "backoff"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts
	FieldCount   = "count"
	FieldFetched = "fetched"
	FieldNew     = "new"
	FieldUpdated = "updated"
	FieldFailed  = "failed"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Network
	FieldAddress = "address"
	FieldMethod  = "method"
	FieldPath    = "path"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base with the fields carried by ctx attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	srv, err := server.New(cfg, database, logger.ComponentLogger("server"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddImportSymbol wraps a logger with the import symbol (⨳)
func AddImportSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.IX)
}
