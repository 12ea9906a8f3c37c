package types

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is the per-call denial outcome. It deliberately carries no
// detail about which expression denied or why: callers learn "denied" and
// nothing about the policy.
var ErrAccessDenied = errors.New("access denied")

// ConfigError reports a problem detected while building attachments or the
// engine itself: bad expression syntax, an unbound argument name, a missing
// permission evaluator, an ambiguous filter target. Fatal to setup, never a
// per-call outcome.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// EvaluationError reports that the expression evaluator faulted while
// evaluating a well-formed expression, e.g. the context drifted from the
// expression text. Distinct from denial; never downgraded to one.
type EvaluationError struct {
	// ExpressionID identifies the offending expression for operators.
	ExpressionID string
	Err          error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of %q failed: %v", e.ExpressionID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// PermissionStoreError reports a failure while the permission evaluator
// consulted its backing store. Propagated as a hard fault so operators can
// tell "policy says no" from "the policy engine is broken".
type PermissionStoreError struct {
	Err error
}

func (e *PermissionStoreError) Error() string {
	return "permission store failure: " + e.Err.Error()
}

func (e *PermissionStoreError) Unwrap() error { return e.Err }

// IsDenied reports whether err is the denial outcome rather than a fault.
func IsDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
