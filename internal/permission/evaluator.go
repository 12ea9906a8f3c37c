// Package permission provides the pluggable evaluator behind the
// hasPermission expression predicates.
package permission

import (
	"context"

	"github.com/authz-engine/exprauth/pkg/types"
)

// Evaluator answers object-scoped permission questions. Implementations may
// consult an external policy store; they must return a definite boolean. Any
// failure while consulting the store is returned as an error and surfaces to
// the caller as a hard fault, never as a silent deny.
//
// Implementations must be safe for concurrent use; the engine never mutates
// them.
type Evaluator interface {
	// HasPermission answers whether auth holds permission on an already
	// loaded target object.
	HasPermission(ctx context.Context, auth *types.Authentication, target interface{}, permission string) (bool, error)

	// HasPermissionID answers the same question for a target identified by
	// (id, type tag), deferring any object loading to the implementation.
	HasPermissionID(ctx context.Context, auth *types.Authentication, targetID interface{}, targetType, permission string) (bool, error)
}

// Denying denies every permission question. It is the safe default wired in
// when no evaluator is configured but expressions never call hasPermission.
type Denying struct{}

func (Denying) HasPermission(context.Context, *types.Authentication, interface{}, string) (bool, error) {
	return false, nil
}

func (Denying) HasPermissionID(context.Context, *types.Authentication, interface{}, string, string) (bool, error) {
	return false, nil
}
