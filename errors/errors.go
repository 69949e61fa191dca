// Package errors provides error handling for aurum.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping, details and hints, and error marks. On top of that it
// defines the engine's failure taxonomy. Each failure kind is a sentinel that
// is attached to an error with Mark and recognised with Is:
//
//	if err := tx.Commit(); err != nil {
//	    return errors.Mark(errors.Wrap(err, "commit payout"), errors.ErrTransientStore)
//	}
//
//	if errors.Is(err, errors.ErrClaimConflict) {
//	    // another worker owns the job
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to an error, if any.
var GetStack = crdb.GetReportableStackTrace

// Failure taxonomy of the distribution engine.
var (
	// ErrClaimConflict is the expected outcome of a lost claim race: the job
	// is no longer pending or is owned by another worker.
	ErrClaimConflict = New("job already claimed")

	// ErrTransientStore covers network, timeout and busy-store failures where
	// the data itself is fine and the operation can be tried again later.
	ErrTransientStore = New("transient store failure")

	// ErrBusinessRule marks failures that need operator intervention: invalid
	// plan configuration, broken upline data, undecodable rows.
	ErrBusinessRule = New("business rule violation")

	// ErrFatalConfig aborts a whole cycle: missing credentials, unreachable
	// store, unusable configuration.
	ErrFatalConfig = New("fatal configuration error")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")
)

// Kind names a taxonomy class for logs and cycle summaries.
type Kind string

const (
	KindClaimConflict Kind = "claim_conflict"
	KindTransient     Kind = "transient"
	KindBusinessRule  Kind = "business_rule"
	KindFatal         Kind = "fatal"
	KindNotFound      Kind = "not_found"
	KindUnknown       Kind = "unknown"
)

// KindOf classifies err against the taxonomy sentinels. The most severe
// mark wins when an error carries several.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrFatalConfig):
		return KindFatal
	case Is(err, ErrBusinessRule):
		return KindBusinessRule
	case Is(err, ErrClaimConflict):
		return KindClaimConflict
	case Is(err, ErrTransientStore):
		return KindTransient
	case Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}

// BusinessRulef creates a new error marked as a business rule violation.
func BusinessRulef(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrBusinessRule)
}

// AsBusinessRule wraps err with context and marks it as a business rule
// violation. Returns nil when err is nil.
func AsBusinessRule(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrBusinessRule)
}

// AsTransient wraps err with context and marks it as a transient store
// failure. Returns nil when err is nil.
func AsTransient(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrTransientStore)
}

// AsFatal wraps err with context and marks it as a fatal configuration
// error. Returns nil when err is nil.
func AsFatal(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrFatalConfig)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
