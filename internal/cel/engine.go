// Package cel wraps the CEL evaluator behind the engine's expression
// surface: the built-in predicate library, the common/web/method evaluation
// contexts, and the named-object registry.
package cel

import (
	"context"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"go.uber.org/zap"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/authz-engine/exprauth/internal/permission"
	"github.com/authz-engine/exprauth/pkg/types"
)

// Options configures the expression engine.
type Options struct {
	// Evaluator backs the hasPermission predicates. Leaving it nil is valid
	// only while no compiled expression calls hasPermission.
	Evaluator permission.Evaluator
	// RolePrefix is applied to hasRole/hasAnyRole arguments. Defaults to
	// DefaultRolePrefix.
	RolePrefix string
	// Registry exposes named objects callable as object.method(args).
	Registry *Registry
	Logger   *zap.Logger
}

// Engine compiles and evaluates authorization expressions. The compiled
// structures are immutable and safe to share across concurrent evaluations;
// all per-evaluation state lives on the Root.
type Engine struct {
	opts Options

	commonEnv *cel.Env
	webEnv    *cel.Env

	// asts caches compiled ASTs for expressions evaluated outside of
	// attachments (ad-hoc checks share no per-attachment variables).
	asts sync.Map
}

// Compiled is one configuration-time compiled expression.
type Compiled struct {
	// ID identifies the expression in logs and faults.
	ID     string
	Source string

	ast            *cel.Ast
	env            *cel.Env
	usesPermission bool
}

// MethodVars declares the extra variables a method expression may reference.
type MethodVars struct {
	// ArgNames binds the named method arguments.
	ArgNames []string
	// FilterObject admits the per-element filtering variable.
	FilterObject bool
	// ReturnValue admits the post-invocation return value.
	ReturnValue bool
}

// NewEngine builds the expression engine and its shared environments.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RolePrefix == "" {
		opts.RolePrefix = DefaultRolePrefix
	}

	declSet := commonDeclarations()
	declSet = append(declSet, predicateDeclarations()...)
	declSet = append(declSet, opts.Registry.declarations()...)

	commonEnv, err := cel.NewEnv(cel.Declarations(declSet...))
	if err != nil {
		return nil, types.Configf("building expression environment: %v", err)
	}

	webEnv, err := commonEnv.Extend(cel.Declarations(webDeclarations()...))
	if err != nil {
		return nil, types.Configf("building web expression environment: %v", err)
	}

	return &Engine{opts: opts, commonEnv: commonEnv, webEnv: webEnv}, nil
}

// NewRoot builds the per-evaluation root wired to this engine's evaluator
// and role prefix.
func (e *Engine) NewRoot(ctx context.Context, auth *types.Authentication) *Root {
	return NewRoot(ctx, auth, e.opts.Evaluator, e.opts.RolePrefix)
}

// CompileCommon compiles an expression against the common capability set.
func (e *Engine) CompileCommon(id, source string) (*Compiled, error) {
	if cached, ok := e.asts.Load("common\x00" + source); ok {
		c := cached.(*Compiled)
		return c.withID(id), nil
	}
	c, err := e.compile(id, source, e.commonEnv)
	if err != nil {
		return nil, err
	}
	e.asts.Store("common\x00"+source, c)
	return c, nil
}

// CompileWeb compiles an expression against the web capability set, with the
// given matched-pattern path variables additionally in scope.
func (e *Engine) CompileWeb(id, source string, pathVars []string) (*Compiled, error) {
	env := e.webEnv
	if len(pathVars) > 0 {
		var err error
		env, err = env.Extend(cel.Declarations(dynVars(pathVars)...))
		if err != nil {
			return nil, types.Configf("declaring path variables for %q: %v", id, err)
		}
	}
	return e.compile(id, source, env)
}

// CompileMethod compiles an expression against the method capability set.
func (e *Engine) CompileMethod(id, source string, vars MethodVars) (*Compiled, error) {
	names := append([]string(nil), vars.ArgNames...)
	if vars.FilterObject {
		names = append(names, "filterObject")
	}
	if vars.ReturnValue {
		names = append(names, "returnValue")
	}
	env := e.commonEnv
	if len(names) > 0 {
		var err error
		env, err = env.Extend(cel.Declarations(dynVars(names)...))
		if err != nil {
			return nil, types.Configf("declaring method variables for %q: %v", id, err)
		}
	}
	return e.compile(id, source, env)
}

func (e *Engine) compile(id, source string, env *cel.Env) (*Compiled, error) {
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, types.Configf("compiling expression %q: %v", id, issues.Err())
	}

	usesPermission, err := referencesFunction(ast, "hasPermission")
	if err != nil {
		return nil, types.Configf("inspecting expression %q: %v", id, err)
	}
	if usesPermission && e.opts.Evaluator == nil {
		return nil, types.Configf(
			"expression %q calls hasPermission but no permission evaluator is configured", id)
	}

	return &Compiled{ID: id, Source: source, ast: ast, env: env, usesPermission: usesPermission}, nil
}

// Plan binds a compiled expression to one root, producing a program that can
// be evaluated repeatedly with varying activation variables (element-wise
// filtering rebinds filterObject without replanning).
func (e *Engine) Plan(c *Compiled, root *Root) (*Program, error) {
	opts := []cel.ProgramOption{cel.Functions(root.overloads()...)}
	if regOverloads := e.opts.Registry.overloads(); len(regOverloads) > 0 {
		opts = append(opts, cel.Functions(regOverloads...))
	}
	prog, err := c.env.Program(c.ast, opts...)
	if err != nil {
		return nil, &types.EvaluationError{ExpressionID: c.ID, Err: err}
	}
	return &Program{compiled: c, root: root, prog: prog}, nil
}

// Evaluate plans and evaluates in one step.
func (e *Engine) Evaluate(c *Compiled, root *Root, vars map[string]interface{}) (bool, error) {
	prog, err := e.Plan(c, root)
	if err != nil {
		return false, err
	}
	return prog.Eval(vars)
}

// Program is one compiled expression bound to one evaluation root.
type Program struct {
	compiled *Compiled
	root     *Root
	prog     cel.Program
}

// Eval evaluates with the root's fixed variables plus the supplied extras.
// Any result other than boolean true is false; evaluator faults surface as
// EvaluationError, permission-store failures as PermissionStoreError.
func (p *Program) Eval(extra map[string]interface{}) (bool, error) {
	vars := p.root.baseVars()
	for name, value := range extra {
		vars[name] = value
	}

	p.root.storeErr = nil
	out, _, err := p.prog.Eval(vars)
	// Checked before the evaluation error: logical operators absorb an
	// errored branch when the other branch decides the result, so a store
	// failure can hide behind a clean boolean outcome. It must surface
	// either way.
	if p.root.storeErr != nil {
		return false, &types.PermissionStoreError{Err: p.root.storeErr}
	}
	if err != nil {
		return false, &types.EvaluationError{ExpressionID: p.compiled.ID, Err: err}
	}

	result, ok := out.Value().(bool)
	return ok && result, nil
}

func (c *Compiled) withID(id string) *Compiled {
	if c.ID == id {
		return c
	}
	clone := *c
	clone.ID = id
	return &clone
}

func dynVars(names []string) []*exprpb.Decl {
	out := make([]*exprpb.Decl, len(names))
	for i, name := range names {
		out[i] = decls.NewVar(name, decls.Dyn)
	}
	return out
}

// referencesFunction walks the checked AST looking for a call to name.
func referencesFunction(ast *cel.Ast, name string) (bool, error) {
	checked, err := cel.AstToCheckedExpr(ast)
	if err != nil {
		return false, err
	}
	return exprCallsFunction(checked.GetExpr(), name), nil
}

func exprCallsFunction(expr *exprpb.Expr, name string) bool {
	if expr == nil {
		return false
	}
	switch kind := expr.GetExprKind().(type) {
	case *exprpb.Expr_CallExpr:
		call := kind.CallExpr
		if call.GetFunction() == name {
			return true
		}
		if exprCallsFunction(call.GetTarget(), name) {
			return true
		}
		for _, arg := range call.GetArgs() {
			if exprCallsFunction(arg, name) {
				return true
			}
		}
	case *exprpb.Expr_SelectExpr:
		return exprCallsFunction(kind.SelectExpr.GetOperand(), name)
	case *exprpb.Expr_ListExpr:
		for _, elem := range kind.ListExpr.GetElements() {
			if exprCallsFunction(elem, name) {
				return true
			}
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range kind.StructExpr.GetEntries() {
			if exprCallsFunction(entry.GetMapKey(), name) ||
				exprCallsFunction(entry.GetValue(), name) {
				return true
			}
		}
	case *exprpb.Expr_ComprehensionExpr:
		comp := kind.ComprehensionExpr
		for _, sub := range []*exprpb.Expr{
			comp.GetIterRange(), comp.GetAccuInit(), comp.GetLoopCondition(),
			comp.GetLoopStep(), comp.GetResult(),
		} {
			if exprCallsFunction(sub, name) {
				return true
			}
		}
	}
	return false
}
