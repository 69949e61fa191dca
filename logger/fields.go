package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across aurum.
// Use these constants instead of raw strings.
const (
	// Identity
	FieldJobID          = "job_id"
	FieldWorkerID       = "worker_id"
	FieldUserID         = "user_id"
	FieldSubscriptionID = "subscription_id"
	FieldPaymentID      = "payment_id"
	FieldRunID          = "run_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldStep      = "step"
	FieldOperation = "operation"

	// Payouts
	FieldLevel  = "level"
	FieldAmount = "amount"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts
	FieldCount     = "count"
	FieldBatchSize = "batch_size"
	FieldProcessed = "processed"
	FieldFailed    = "failed"
	FieldSkipped   = "skipped"

	// Status
	FieldStatus = "status"
)

type contextKey string

const (
	jobIDKey    contextKey = "logger_job_id"
	workerIDKey contextKey = "logger_worker_id"
	runIDKey    contextKey = "logger_run_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithWorkerID adds the worker identity to the context for logging
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// WithRunID adds a cycle run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if workerID, ok := ctx.Value(workerIDKey).(string); ok && workerID != "" {
		fields = append(fields, FieldWorkerID, workerID)
	}
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}

	return fields
}

// FromContext decorates base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
// Example:
//
//	runner := cycle.NewRunner(deps, opts, logger.ComponentLogger("pulse.cycle"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
