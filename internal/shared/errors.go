package shared

import (
	"context"
	"errors"
	"fmt"
)

var (

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrUnknownOption      = fmt.Errorf("unknown command option")

	// Upstream errors
	ErrTransientUpstream = fmt.Errorf("transient upstream failure")
	ErrAuth              = fmt.Errorf("authentication failed")
	ErrNotFound          = fmt.Errorf("not found")
	ErrAPIRequest        = fmt.Errorf("API request failed")

	// Library cache errors
	ErrCacheUnavailable = fmt.Errorf("library cache unavailable")
	ErrSnapshotCorrupt  = fmt.Errorf("library snapshot unreadable")

	// Execution errors
	ErrTimeout           = fmt.Errorf("operation timed out")
	ErrCancelled         = fmt.Errorf("operation cancelled")
	ErrAlreadyActive     = fmt.Errorf("command already has an active execution")
	ErrCommandDisabled   = fmt.Errorf("command is disabled")
	ErrInvalidTransition = fmt.Errorf("invalid execution status transition")
	ErrShuttingDown      = fmt.Errorf("coordinator is shutting down")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ErrorKind classifies a failure for storage on an execution record.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindTransientUpstream ErrorKind = "transient_upstream"
	KindAuth              ErrorKind = "auth"
	KindNotFound          ErrorKind = "not_found"
	KindCacheUnavailable  ErrorKind = "cache_unavailable"
	KindTimeout           ErrorKind = "timeout"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal"
)

// KindOf maps err onto the error taxonomy. Unrecognised errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCacheUnavailable), errors.Is(err, ErrSnapshotCorrupt):
		return KindCacheUnavailable
	case errors.Is(err, ErrTransientUpstream):
		return KindTransientUpstream
	default:
		return KindInternal
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientUpstream)
}
