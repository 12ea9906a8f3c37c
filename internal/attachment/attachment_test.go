package attachment

import (
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/authz-engine/exprauth/internal/cel"
	"github.com/authz-engine/exprauth/internal/params"
)

func newTestEngine(t *testing.T) *cel.Engine {
	t.Helper()
	engine, err := cel.NewEngine(cel.Options{})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func TestBuildMethod_Validation(t *testing.T) {
	engine := newTestEngine(t)
	binder := params.NewBinder()

	tests := []struct {
		name    string
		method  Method
		wantErr bool
	}{
		{
			name: "valid single slot",
			method: Method{
				Operation:    "Svc.op",
				PreAuthorize: `hasRole('ADMIN')`,
			},
			wantErr: false,
		},
		{
			name: "all four slots",
			method: Method{
				Operation:     "Svc.all",
				ArgNames:      []string{"items"},
				PreAuthorize:  `isAuthenticated()`,
				PreFilter:     `filterObject != ''`,
				FilterTarget:  "items",
				PostAuthorize: `returnValue != null`,
				PostFilter:    `filterObject != ''`,
			},
			wantErr: false,
		},
		{
			name:    "missing operation",
			method:  Method{PreAuthorize: `true`},
			wantErr: true,
		},
		{
			name:    "no expressions",
			method:  Method{Operation: "Svc.empty"},
			wantErr: true,
		},
		{
			name: "filter target without preFilter",
			method: Method{
				Operation:    "Svc.op",
				FilterTarget: "items",
				PreAuthorize: `true`,
			},
			wantErr: true,
		},
		{
			name: "filter target not a bound name",
			method: Method{
				Operation:    "Svc.op",
				ArgNames:     []string{"ids"},
				PreFilter:    `true`,
				FilterTarget: "other",
			},
			wantErr: true,
		},
		{
			name: "expression references unbound name",
			method: Method{
				Operation:    "Svc.op",
				PreAuthorize: `orderId == principal`,
			},
			wantErr: true,
		},
		{
			name: "filterObject only valid in filter slots",
			method: Method{
				Operation:    "Svc.op",
				PreAuthorize: `filterObject != ''`,
			},
			wantErr: true,
		},
		{
			name: "returnValue only valid post invocation",
			method: Method{
				Operation:    "Svc.op",
				PreAuthorize: `returnValue != null`,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMethod(engine, binder, tt.method)
			if (err != nil) != tt.wantErr {
				t.Errorf("BuildMethod() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildRequest_MatchAndVars(t *testing.T) {
	engine := newTestEngine(t)

	compiled, err := BuildRequest(engine, Request{
		Pattern:   "/users/{userId}/docs/{docId:[0-9]+}",
		Methods:   []string{"GET"},
		Authorize: `userId == principal && docId != ''`,
	})
	if err != nil {
		t.Fatalf("BuildRequest() failed: %v", err)
	}

	req := httptest.NewRequest("GET", "http://example.com/users/alice/docs/42", nil)
	vars, ok := compiled.Match(req)
	if !ok {
		t.Fatal("expected pattern to match")
	}
	want := map[string]string{"userId": "alice", "docId": "42"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("Match() vars = %v, want %v", vars, want)
	}

	// Method restriction applies.
	if _, ok := compiled.Match(httptest.NewRequest("POST", "http://example.com/users/alice/docs/42", nil)); ok {
		t.Error("POST must not match a GET-only attachment")
	}
	// Regexp segment applies.
	if _, ok := compiled.Match(httptest.NewRequest("GET", "http://example.com/users/alice/docs/abc", nil)); ok {
		t.Error("non-numeric docId must not match")
	}
}

func TestBuildRequest_Validation(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := BuildRequest(engine, Request{Authorize: `true`}); err == nil {
		t.Error("BuildRequest() should reject a missing pattern")
	}
	if _, err := BuildRequest(engine, Request{Pattern: "/x"}); err == nil {
		t.Error("BuildRequest() should reject a missing expression")
	}
	if _, err := BuildRequest(engine, Request{Pattern: "/x", Authorize: `nonsense(`}); err == nil {
		t.Error("BuildRequest() should reject an uncompilable expression")
	}
}

func TestPatternVars(t *testing.T) {
	tests := []struct {
		pattern string
		want    []string
	}{
		{pattern: "/users/{userId}", want: []string{"userId"}},
		{pattern: "/users/{userId}/docs/{docId:[0-9]+}", want: []string{"userId", "docId"}},
		{pattern: "/static/path", want: nil},
		{pattern: "/{a}/{b}/{c}", want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := patternVars(tt.pattern); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("patternVars(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func TestRegistry_DuplicateOperation(t *testing.T) {
	engine := newTestEngine(t)
	binder := params.NewBinder()

	a, err := BuildMethod(engine, binder, Method{Operation: "Svc.op", PreAuthorize: `true`})
	if err != nil {
		t.Fatalf("BuildMethod() failed: %v", err)
	}
	b, err := BuildMethod(engine, binder, Method{Operation: "Svc.op", PreAuthorize: `false`})
	if err != nil {
		t.Fatalf("BuildMethod() failed: %v", err)
	}

	if _, err := NewRegistry([]*CompiledMethod{a, b}, nil); err == nil {
		t.Error("NewRegistry() should reject duplicate operations")
	}
}

func TestRegistry_MatchRequestDeclarationOrder(t *testing.T) {
	engine := newTestEngine(t)

	first, err := BuildRequest(engine, Request{Pattern: "/api/{rest:.*}", Authorize: `permitAll`})
	if err != nil {
		t.Fatalf("BuildRequest() failed: %v", err)
	}
	second, err := BuildRequest(engine, Request{Pattern: "/api/{section}", Authorize: `denyAll`})
	if err != nil {
		t.Fatalf("BuildRequest() failed: %v", err)
	}

	registry, err := NewRegistry(nil, []*CompiledRequest{first, second})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	matched, _, ok := registry.MatchRequest(httptest.NewRequest("GET", "http://example.com/api/users", nil))
	if !ok {
		t.Fatal("expected a match")
	}
	if matched.Pattern != "/api/{rest:.*}" {
		t.Errorf("matched %q, want the first declared pattern", matched.Pattern)
	}
}

func TestStore_SwapIsVisible(t *testing.T) {
	engine := newTestEngine(t)
	binder := params.NewBinder()

	m, err := BuildMethod(engine, binder, Method{Operation: "Svc.op", PreAuthorize: `true`})
	if err != nil {
		t.Fatalf("BuildMethod() failed: %v", err)
	}
	initial, err := NewRegistry([]*CompiledMethod{m}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	store := NewStore(initial)
	if _, ok := store.Snapshot().Method("Svc.op"); !ok {
		t.Fatal("initial snapshot missing its attachment")
	}

	empty, err := NewRegistry(nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	store.Swap(empty)
	if _, ok := store.Snapshot().Method("Svc.op"); ok {
		t.Error("swapped-out attachment still visible")
	}
}
