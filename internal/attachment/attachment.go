// Package attachment binds protected operations to their authorization
// expressions: up to four expression slots per method, one per request
// pattern. Attachments are resolved and compiled once at configuration time
// and are immutable afterwards.
package attachment

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/authz-engine/exprauth/internal/cel"
	"github.com/authz-engine/exprauth/internal/params"
	"github.com/authz-engine/exprauth/pkg/types"
)

// Method associates a protected method with its expression slots.
type Method struct {
	// Operation identifies the protected method, e.g. "OrderService.List".
	Operation string `yaml:"operation"`
	// ArgNames explicitly names the method's parameters, overriding the
	// binder's other resolution strategies.
	ArgNames []string `yaml:"argNames,omitempty"`

	PreAuthorize string `yaml:"preAuthorize,omitempty"`
	PreFilter    string `yaml:"preFilter,omitempty"`
	// FilterTarget names the argument the pre-filter applies to. Required
	// when more than one argument is container-shaped.
	FilterTarget  string `yaml:"filterTarget,omitempty"`
	PostAuthorize string `yaml:"postAuthorize,omitempty"`
	PostFilter    string `yaml:"postFilter,omitempty"`
}

// Request associates a request pattern with one authorization expression.
type Request struct {
	// Pattern is a path pattern with named segments, e.g. "/users/{userId}".
	Pattern string `yaml:"pattern"`
	// Methods optionally restricts the HTTP methods the pattern matches.
	Methods   []string `yaml:"methods,omitempty"`
	Authorize string   `yaml:"authorize"`
}

// CompiledMethod is an immutable, fully compiled method attachment.
type CompiledMethod struct {
	Operation    string
	ArgNames     []string
	FilterTarget string

	PreAuthorize  *cel.Compiled
	PreFilter     *cel.Compiled
	PostAuthorize *cel.Compiled
	PostFilter    *cel.Compiled
}

// CompiledRequest is an immutable, fully compiled request attachment.
type CompiledRequest struct {
	Pattern   string
	Methods   []string
	Authorize *cel.Compiled

	route    *mux.Route
	pathVars []string
}

// Match reports whether the request matches this attachment's pattern,
// returning the extracted path variables.
func (c *CompiledRequest) Match(req *http.Request) (map[string]string, bool) {
	var m mux.RouteMatch
	if !c.route.Match(req, &m) {
		return nil, false
	}
	return m.Vars, true
}

// BuildMethod resolves parameter names and compiles every expression slot.
// All failures here are configuration errors: they happen at setup, never
// per call.
func BuildMethod(engine *cel.Engine, binder *params.Binder, m Method) (*CompiledMethod, error) {
	if m.Operation == "" {
		return nil, types.Configf("method attachment without an operation")
	}
	if m.PreAuthorize == "" && m.PreFilter == "" && m.PostAuthorize == "" && m.PostFilter == "" {
		return nil, types.Configf("method attachment %q has no expressions", m.Operation)
	}
	if m.FilterTarget != "" && m.PreFilter == "" {
		return nil, types.Configf("method attachment %q names a filter target but has no preFilter", m.Operation)
	}

	// Names are required only when an expression references an argument:
	// compiling without them yields an unknown-identifier diagnostic naming
	// the unbound reference.
	argNames, _ := binder.Resolve(m.Operation, m.ArgNames)

	compiled := &CompiledMethod{
		Operation:    m.Operation,
		ArgNames:     argNames,
		FilterTarget: m.FilterTarget,
	}

	var err error
	if m.PreAuthorize != "" {
		compiled.PreAuthorize, err = engine.CompileMethod(
			m.Operation+"#preAuthorize", m.PreAuthorize, cel.MethodVars{ArgNames: argNames})
		if err != nil {
			return nil, err
		}
	}
	if m.PreFilter != "" {
		compiled.PreFilter, err = engine.CompileMethod(
			m.Operation+"#preFilter", m.PreFilter, cel.MethodVars{ArgNames: argNames, FilterObject: true})
		if err != nil {
			return nil, err
		}
		if m.FilterTarget != "" && !contains(argNames, m.FilterTarget) {
			return nil, types.Configf(
				"method attachment %q: filter target %q is not a bound argument name", m.Operation, m.FilterTarget)
		}
	}
	if m.PostAuthorize != "" {
		compiled.PostAuthorize, err = engine.CompileMethod(
			m.Operation+"#postAuthorize", m.PostAuthorize, cel.MethodVars{ArgNames: argNames, ReturnValue: true})
		if err != nil {
			return nil, err
		}
	}
	if m.PostFilter != "" {
		compiled.PostFilter, err = engine.CompileMethod(
			m.Operation+"#postFilter", m.PostFilter, cel.MethodVars{ArgNames: argNames, FilterObject: true})
		if err != nil {
			return nil, err
		}
	}
	return compiled, nil
}

// BuildRequest compiles a request attachment, declaring the pattern's named
// segments as expression variables.
func BuildRequest(engine *cel.Engine, r Request) (*CompiledRequest, error) {
	if r.Pattern == "" {
		return nil, types.Configf("request attachment without a pattern")
	}
	if r.Authorize == "" {
		return nil, types.Configf("request attachment %q has no expression", r.Pattern)
	}

	route := mux.NewRouter().NewRoute().Path(r.Pattern)
	if len(r.Methods) > 0 {
		route = route.Methods(r.Methods...)
	}
	if route.GetError() != nil {
		return nil, types.Configf("request pattern %q: %v", r.Pattern, route.GetError())
	}

	pathVars := patternVars(r.Pattern)
	compiled, err := engine.CompileWeb(r.Pattern, r.Authorize, pathVars)
	if err != nil {
		return nil, err
	}
	return &CompiledRequest{
		Pattern:   r.Pattern,
		Methods:   r.Methods,
		Authorize: compiled,
		route:     route,
		pathVars:  pathVars,
	}, nil
}

// patternVars extracts the {name} and {name:regexp} segment names.
func patternVars(pattern string) []string {
	var vars []string
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '{' {
			continue
		}
		end := strings.IndexByte(pattern[i:], '}')
		if end < 0 {
			break
		}
		name := pattern[i+1 : i+end]
		if colon := strings.IndexByte(name, ':'); colon >= 0 {
			name = name[:colon]
		}
		if name != "" {
			vars = append(vars, name)
		}
		i += end
	}
	return vars
}

func contains(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}
