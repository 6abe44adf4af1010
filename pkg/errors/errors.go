// Package errors provides structured error types used across the application.
// We prefer these over raw fmt.Errorf strings to enable reliable checks with
// errors.Is / errors.As and to carry minimal context about the failure.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError indicates invalid input/config/state provided by a caller/user.
// Code carries the domain taxonomy code (e.g. INVALID_COORDS, INVALID_SORT)
// so HTTP handlers can map it without re-deriving it from Msg.
type ValidationError struct {
	Op   string // where it happened (package.Function)
	Msg  string // human friendly message (no PII)
	Code string // domain error code (e.g. INVALID_COORDS, INVALID_SORT)
	Err  error  // underlying cause (optional)
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("validation[%s]: %s: %s: %v", e.Code, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("validation[%s]: %s: %s", e.Code, e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error     { return e.Err }
func (e *ValidationError) Operation() string { return e.Op }
func (e *ValidationError) Message() string   { return e.Msg }
func (e *ValidationError) Context() map[string]any {
	return map[string]any{"op": e.Op, "msg": e.Msg, "code": e.Code}
}

func NewValidation(op, msg string, err error) error {
	return &ValidationError{Op: op, Msg: msg, Err: err}
}

// NewValidationCode attaches a taxonomy code, e.g. errors.NewValidationCode(op, "INVALID_COORDS", msg, nil).
func NewValidationCode(op, code, msg string, err error) error {
	return &ValidationError{Op: op, Msg: msg, Code: code, Err: err}
}

// DBError represents database access/operation failures.
type DBError struct {
	Op  string
	Msg string
	Err error
}

func (e *DBError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("db: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("db: %s: %s", e.Op, e.Msg)
}

func (e *DBError) Unwrap() error           { return e.Err }
func (e *DBError) Operation() string       { return e.Op }
func (e *DBError) Message() string         { return e.Msg }
func (e *DBError) Context() map[string]any { return map[string]any{"op": e.Op, "msg": e.Msg} }

func NewDB(op, msg string, err error) error { return &DBError{Op: op, Msg: msg, Err: err} }

// ExternalAPIError represents failures in external services (HTTP APIs, SDKs, etc.).
// These are the Transient class of the domain taxonomy (PROVIDER_ERROR, TIMEOUT,
// STALE_WRITE; the SQL store raises STALE_WRITE as a BizError code). The
// ingestion pipeline retries them with bounded attempts and no backoff delay
// between attempts. Retryable reports the Transient flag.
type ExternalAPIError struct {
	Op        string
	Msg       string
	Err       error
	System    string // optional system name e.g. "google" / "openai"
	Code      string // e.g. PROVIDER_ERROR, TIMEOUT, STALE_WRITE
	Transient bool
}

func (e *ExternalAPIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	sys := e.System
	if sys == "" {
		sys = "external"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", sys, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", sys, e.Op, e.Msg)
}

func (e *ExternalAPIError) Unwrap() error     { return e.Err }
func (e *ExternalAPIError) Operation() string { return e.Op }
func (e *ExternalAPIError) Message() string   { return e.Msg }
func (e *ExternalAPIError) Context() map[string]any {
	return map[string]any{"op": e.Op, "msg": e.Msg, "system": e.System}
}

func (e *ExternalAPIError) Retryable() bool { return e != nil && e.Transient }

func NewExternal(op, system, msg string, err error) error {
	return &ExternalAPIError{Op: op, System: system, Msg: msg, Err: err}
}

// NewTransient builds a retryable ExternalAPIError tagged with a taxonomy code.
func NewTransient(op, system, code, msg string, err error) error {
	return &ExternalAPIError{Op: op, System: system, Code: code, Msg: msg, Err: err, Transient: true}
}

// BizError is for domain/business logic failures that aren't programmer bugs.
// This is the Semantic class of the domain taxonomy (NOT_FOUND, NO_SUMMARY,
// WEAK_SUMMARY, WEAK_TAGS, NO_PHOTOS).
type BizError struct {
	Op   string
	Msg  string
	Code string
	Err  error
}

func (e *BizError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("biz[%s]: %s: %s: %v", e.Code, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("biz[%s]: %s: %s", e.Code, e.Op, e.Msg)
}

func (e *BizError) Unwrap() error     { return e.Err }
func (e *BizError) Operation() string { return e.Op }
func (e *BizError) Message() string   { return e.Msg }
func (e *BizError) Context() map[string]any {
	return map[string]any{"op": e.Op, "msg": e.Msg, "code": e.Code}
}

func NewBiz(op, msg string, err error) error { return &BizError{Op: op, Msg: msg, Err: err} }

// NewBizCode attaches a taxonomy code, e.g. errors.NewBizCode(op, "NOT_FOUND", msg, nil).
func NewBizCode(op, code, msg string, err error) error {
	return &BizError{Op: op, Msg: msg, Code: code, Err: err}
}

// FatalError indicates an unrecoverable condition (FATAL_INVARIANT,
// FATAL_CONFIG): the process logs it and refuses further work for the
// affected subsystem rather than retrying.
type FatalError struct {
	Op   string
	Msg  string
	Code string
	Err  error
}

func (e *FatalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("fatal[%s]: %s: %s: %v", e.Code, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("fatal[%s]: %s: %s", e.Code, e.Op, e.Msg)
}

func (e *FatalError) Unwrap() error { return e.Err }

func NewFatal(op, code, msg string, err error) error {
	return &FatalError{Op: op, Code: code, Msg: msg, Err: err}
}

// IsKind helpers: allow callers to check error kind without type assertions.
// Example: if errors.Is(err, errors.ErrValidation) { ... }
var (
	ErrValidation = &ValidationError{}
	ErrDB         = &DBError{}
	ErrExternal   = &ExternalAPIError{}
	ErrBiz        = &BizError{}
	ErrFatal      = &FatalError{}
)

// Is enables errors.Is(err, ErrValidation) via errors.As semantics.
// We delegate to errors.As with the zero-value pointer of each type.
func Is(err, target error) bool {
	if err == nil || target == nil {
		return errors.Is(err, target)
	}
	switch target.(type) {
	case *ValidationError:
		var v *ValidationError
		return errors.As(err, &v)
	case *DBError:
		var d *DBError
		return errors.As(err, &d)
	case *ExternalAPIError:
		var ex *ExternalAPIError
		return errors.As(err, &ex)
	case *BizError:
		var b *BizError
		return errors.As(err, &b)
	case *FatalError:
		var f *FatalError
		return errors.As(err, &f)
	default:
		return errors.Is(err, target)
	}
}
