// Package types provides shared types for the expression authorization engine
package types

import (
	"sort"
)

// Authentication represents the current actor: an opaque principal plus the
// authorities granted to it. Instances are immutable once built; the engine
// only ever reads them.
type Authentication struct {
	// Name is the principal's account name (empty for anonymous actors).
	Name string
	// Principal is the opaque identity object exposed to expressions.
	Principal interface{}
	// Anonymous marks an actor with no proof of identity.
	Anonymous bool
	// RememberMe marks an actor authenticated through a persisted token
	// rather than fresh credentials.
	RememberMe bool

	authorities map[string]struct{}
}

// NewAuthentication builds an authenticated Authentication with the given
// authority set. Duplicate authorities collapse; order is irrelevant.
func NewAuthentication(name string, principal interface{}, authorities ...string) *Authentication {
	return &Authentication{
		Name:        name,
		Principal:   principal,
		authorities: authoritySet(authorities),
	}
}

// NewAnonymous builds the authentication used when no identity is available.
func NewAnonymous(authorities ...string) *Authentication {
	return &Authentication{
		Name:        "anonymous",
		Principal:   "anonymous",
		Anonymous:   true,
		authorities: authoritySet(authorities),
	}
}

func authoritySet(authorities []string) map[string]struct{} {
	set := make(map[string]struct{}, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	return set
}

// HasAuthority reports direct membership in the granted authority set.
// A nil receiver is treated as anonymous with no authorities.
func (a *Authentication) HasAuthority(authority string) bool {
	if a == nil {
		return false
	}
	_, ok := a.authorities[authority]
	return ok
}

// Authorities returns the granted authorities in sorted order.
func (a *Authentication) Authorities() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.authorities))
	for authority := range a.authorities {
		out = append(out, authority)
	}
	sort.Strings(out)
	return out
}

// Authenticated reports whether the actor has any proof of identity.
func (a *Authentication) Authenticated() bool {
	return a != nil && !a.Anonymous
}

// FullyAuthenticated reports whether the actor presented fresh credentials:
// neither anonymous nor remember-me.
func (a *Authentication) FullyAuthenticated() bool {
	return a != nil && !a.Anonymous && !a.RememberMe
}

// MethodInvocation describes one protected method call: the operation
// identity used to look up attachments, plus the positional arguments.
type MethodInvocation struct {
	// Operation identifies the protected method, e.g. "OrderService.List".
	Operation string
	// Args are the call arguments in declaration order.
	Args []interface{}
}
