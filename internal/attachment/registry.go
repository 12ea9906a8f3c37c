package attachment

import (
	"net/http"
	"sync/atomic"

	"github.com/authz-engine/exprauth/pkg/types"
)

// Registry is an immutable snapshot of compiled attachments. Snapshots are
// built at configuration time and shared read-only across concurrent
// evaluations; reloads swap in a whole new snapshot.
type Registry struct {
	methods  map[string]*CompiledMethod
	requests []*CompiledRequest
}

// NewRegistry assembles a snapshot, rejecting duplicate operations.
func NewRegistry(methods []*CompiledMethod, requests []*CompiledRequest) (*Registry, error) {
	byOp := make(map[string]*CompiledMethod, len(methods))
	for _, m := range methods {
		if _, dup := byOp[m.Operation]; dup {
			return nil, types.Configf("duplicate method attachment for %q", m.Operation)
		}
		byOp[m.Operation] = m
	}
	return &Registry{methods: byOp, requests: requests}, nil
}

// Method returns the attachment for an operation, if any.
func (r *Registry) Method(operation string) (*CompiledMethod, bool) {
	m, ok := r.methods[operation]
	return m, ok
}

// MatchRequest returns the first request attachment matching req, in
// declaration order, with its extracted path variables.
func (r *Registry) MatchRequest(req *http.Request) (*CompiledRequest, map[string]string, bool) {
	for _, candidate := range r.requests {
		if vars, ok := candidate.Match(req); ok {
			return candidate, vars, true
		}
	}
	return nil, nil, false
}

// Len reports attachment counts for logging.
func (r *Registry) Len() (methods, requests int) {
	return len(r.methods), len(r.requests)
}

// Store holds the live registry snapshot and allows atomic replacement on
// reload. Readers always see a complete snapshot.
type Store struct {
	current atomic.Pointer[Registry]
}

// NewStore creates a store seeded with an initial snapshot.
func NewStore(initial *Registry) *Store {
	s := &Store{}
	if initial == nil {
		initial = &Registry{methods: map[string]*CompiledMethod{}}
	}
	s.current.Store(initial)
	return s
}

// Snapshot returns the current registry.
func (s *Store) Snapshot() *Registry {
	return s.current.Load()
}

// Swap replaces the current registry.
func (s *Store) Swap(next *Registry) {
	s.current.Store(next)
}
