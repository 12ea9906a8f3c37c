// Package engine orchestrates the decision protocol around protected
// operations: pre-authorize, pre-filter, invocation, post-filter,
// post-authorize.
package engine

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/exprauth/internal/attachment"
	"github.com/authz-engine/exprauth/internal/audit"
	"github.com/authz-engine/exprauth/internal/cel"
	"github.com/authz-engine/exprauth/internal/filter"
	"github.com/authz-engine/exprauth/internal/metrics"
	"github.com/authz-engine/exprauth/internal/params"
	"github.com/authz-engine/exprauth/pkg/types"
)

// Options carries the optional collaborators of an interceptor.
type Options struct {
	Metrics *metrics.Metrics
	Audit   audit.Logger
	Logger  *zap.Logger
}

// Interceptor drives the decision protocol for method invocations. It holds
// only immutable or internally synchronized state and is safe for concurrent
// use; each decision is a synchronous, single-goroutine evaluation.
type Interceptor struct {
	cel    *cel.Engine
	store  *attachment.Store
	binder *params.Binder
	meter  *metrics.Metrics
	audit  audit.Logger
	logger *zap.Logger
}

// NewInterceptor assembles the method interceptor.
func NewInterceptor(celEngine *cel.Engine, store *attachment.Store, binder *params.Binder, opts Options) *Interceptor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if binder == nil {
		binder = params.NewBinder()
	}
	return &Interceptor{
		cel:    celEngine,
		store:  store,
		binder: binder,
		meter:  opts.Metrics,
		audit:  opts.Audit,
		logger: opts.Logger,
	}
}

// BeforeInvocation evaluates the pre-authorize expression and applies the
// pre-filter. It returns the (possibly filtered) arguments to invoke with,
// ErrAccessDenied on denial, or a fault. A denial here means the operation
// must not be invoked at all.
func (i *Interceptor) BeforeInvocation(ctx context.Context, auth *types.Authentication, inv *types.MethodInvocation) ([]interface{}, error) {
	att, ok := i.store.Snapshot().Method(inv.Operation)
	if !ok {
		return inv.Args, nil
	}

	root := i.cel.NewRoot(ctx, auth)
	vars, err := i.argVars(att, inv.Args)
	if err != nil {
		return nil, err
	}

	if att.PreAuthorize != nil {
		if err := i.authorize(audit.CheckPreAuthorize, att.PreAuthorize, root, vars, auth); err != nil {
			return nil, err
		}
	}

	if att.PreFilter == nil {
		return inv.Args, nil
	}

	targetIdx, err := i.selectFilterTarget(att, inv.Args)
	if err != nil {
		return nil, err
	}
	filtered, err := i.applyFilter(audit.CheckPreFilter, att.PreFilter, root, vars, inv.Args[targetIdx], auth)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, len(inv.Args))
	copy(args, inv.Args)
	args[targetIdx] = filtered
	return args, nil
}

// AfterInvocation applies the post-filter to the return value and evaluates
// the post-authorize expression against it. On denial the caller must not
// observe the return value.
func (i *Interceptor) AfterInvocation(ctx context.Context, auth *types.Authentication, inv *types.MethodInvocation, returnValue interface{}) (interface{}, error) {
	att, ok := i.store.Snapshot().Method(inv.Operation)
	if !ok {
		return returnValue, nil
	}

	root := i.cel.NewRoot(ctx, auth)
	vars, err := i.argVars(att, inv.Args)
	if err != nil {
		return nil, err
	}

	if att.PostFilter != nil {
		returnValue, err = i.applyFilter(audit.CheckPostFilter, att.PostFilter, root, vars, returnValue, auth)
		if err != nil {
			return nil, err
		}
	}

	if att.PostAuthorize != nil {
		vars["returnValue"] = returnValue
		if err := i.authorize(audit.CheckPostAuthorize, att.PostAuthorize, root, vars, auth); err != nil {
			return nil, err
		}
	}

	return returnValue, nil
}

// Invoke runs the full protocol around fn: a pre-authorize denial prevents
// fn from running; a post-authorize denial withholds its result.
func (i *Interceptor) Invoke(ctx context.Context, auth *types.Authentication, inv *types.MethodInvocation,
	fn func(ctx context.Context, args []interface{}) (interface{}, error)) (interface{}, error) {

	args, err := i.BeforeInvocation(ctx, auth, inv)
	if err != nil {
		return nil, err
	}
	ret, err := fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return i.AfterInvocation(ctx, auth, inv, ret)
}

// argVars binds the invocation's arguments under their resolved names.
func (i *Interceptor) argVars(att *attachment.CompiledMethod, args []interface{}) (map[string]interface{}, error) {
	if len(att.ArgNames) == 0 {
		return map[string]interface{}{}, nil
	}
	return i.binder.Bind(att.Operation, att.ArgNames, args)
}

// authorize evaluates one boolean check and records its outcome.
func (i *Interceptor) authorize(check audit.Check, expr *cel.Compiled, root *cel.Root, vars map[string]interface{}, auth *types.Authentication) error {
	start := time.Now()
	allowed, err := i.cel.Evaluate(expr, root, vars)
	i.record(check, expr.ID, auth, allowed, err, time.Since(start))
	if err != nil {
		return err
	}
	if !allowed {
		return types.ErrAccessDenied
	}
	return nil
}

// applyFilter runs the filter engine over target with the expression as the
// per-element predicate.
func (i *Interceptor) applyFilter(check audit.Check, expr *cel.Compiled, root *cel.Root, vars map[string]interface{}, target interface{}, auth *types.Authentication) (interface{}, error) {
	start := time.Now()
	prog, err := i.cel.Plan(expr, root)
	if err != nil {
		i.record(check, expr.ID, auth, false, err, time.Since(start))
		return nil, err
	}

	total := 0
	pred := func(element interface{}) (bool, error) {
		total++
		elemVars := make(map[string]interface{}, len(vars)+1)
		for name, value := range vars {
			elemVars[name] = value
		}
		if entry, ok := element.(filter.Entry); ok {
			elemVars["filterObject"] = entry.Map()
		} else {
			elemVars["filterObject"] = element
		}
		return prog.Eval(elemVars)
	}

	filtered, err := filter.Apply(target, pred)
	i.record(check, expr.ID, auth, err == nil, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	kept := sequenceLen(filtered)
	i.meter.ObserveFilter(kept, total-kept)
	return filtered, nil
}

// selectFilterTarget picks the argument the pre-filter applies to: the
// explicitly named one, else the single container-shaped argument.
func (i *Interceptor) selectFilterTarget(att *attachment.CompiledMethod, args []interface{}) (int, error) {
	if att.FilterTarget != "" {
		for idx, name := range att.ArgNames {
			if name == att.FilterTarget && idx < len(args) {
				return idx, nil
			}
		}
		return 0, types.Configf("operation %q: filter target %q not found among arguments", att.Operation, att.FilterTarget)
	}

	candidate := -1
	for idx, arg := range args {
		if !filter.Filterable(arg) {
			continue
		}
		if candidate >= 0 {
			return 0, types.Configf(
				"operation %q: multiple container-shaped arguments, filter target must be named explicitly", att.Operation)
		}
		candidate = idx
	}
	if candidate < 0 {
		return 0, types.Configf("operation %q: no container-shaped argument to pre-filter", att.Operation)
	}
	return candidate, nil
}

func (i *Interceptor) record(check audit.Check, expressionID string, auth *types.Authentication, allowed bool, err error, elapsed time.Duration) {
	outcome := audit.OutcomeAllow
	metricOutcome := metrics.OutcomeAllow
	switch {
	case err != nil && !types.IsDenied(err):
		outcome, metricOutcome = audit.OutcomeFault, metrics.OutcomeFault
	case err != nil || !allowed:
		outcome, metricOutcome = audit.OutcomeDeny, metrics.OutcomeDeny
	}

	event := audit.NewEvent(check, expressionID, outcome, principalName(auth))
	if outcome == audit.OutcomeFault {
		event.Fault = err.Error()
		i.logger.Error("authorization check faulted",
			zap.String("expression", expressionID),
			zap.Error(err),
		)
	}
	i.audit.Log(event)
	i.meter.ObserveDecision(string(check), metricOutcome, elapsed)
}

func principalName(auth *types.Authentication) string {
	if auth == nil {
		return "anonymous"
	}
	return auth.Name
}

func sequenceLen(value interface{}) int {
	if value == nil {
		return 0
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return v.Len()
	default:
		return 0
	}
}
