package engine

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/exprauth/internal/attachment"
	"github.com/authz-engine/exprauth/internal/audit"
	"github.com/authz-engine/exprauth/internal/cel"
	"github.com/authz-engine/exprauth/internal/metrics"
	"github.com/authz-engine/exprauth/pkg/types"
)

// WebInterceptor authorizes inbound requests against request attachments.
type WebInterceptor struct {
	cel    *cel.Engine
	store  *attachment.Store
	meter  *metrics.Metrics
	audit  audit.Logger
	logger *zap.Logger

	// DenyUnmatched denies requests no attachment pattern matches. When
	// false, unmatched requests pass through (the attachments express only
	// an opinion about the patterns they name).
	DenyUnmatched bool
}

// NewWebInterceptor assembles the request interceptor.
func NewWebInterceptor(celEngine *cel.Engine, store *attachment.Store, opts Options) *WebInterceptor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	return &WebInterceptor{
		cel:    celEngine,
		store:  store,
		meter:  opts.Metrics,
		audit:  opts.Audit,
		logger: opts.Logger,
	}
}

// Authorize evaluates the first matching request attachment, with the
// matched pattern's path variables bound as expression variables. Returns
// nil to proceed, ErrAccessDenied on denial, or a fault.
func (w *WebInterceptor) Authorize(auth *types.Authentication, req *http.Request) error {
	att, pathVars, ok := w.store.Snapshot().MatchRequest(req)
	if !ok {
		if w.DenyUnmatched {
			return types.ErrAccessDenied
		}
		return nil
	}

	root := w.cel.NewRoot(req.Context(), auth).WithRequest(req)
	vars := make(map[string]interface{}, len(pathVars))
	for name, value := range pathVars {
		vars[name] = value
	}

	start := time.Now()
	allowed, err := w.cel.Evaluate(att.Authorize, root, vars)
	elapsed := time.Since(start)

	outcome := audit.OutcomeAllow
	metricOutcome := metrics.OutcomeAllow
	switch {
	case err != nil:
		outcome, metricOutcome = audit.OutcomeFault, metrics.OutcomeFault
	case !allowed:
		outcome, metricOutcome = audit.OutcomeDeny, metrics.OutcomeDeny
	}

	event := audit.NewEvent(audit.CheckRequest, att.Pattern, outcome, principalName(auth))
	if err != nil {
		event.Fault = err.Error()
		w.logger.Error("request authorization faulted",
			zap.String("pattern", att.Pattern),
			zap.Error(err),
		)
	}
	w.audit.Log(event)
	w.meter.ObserveDecision(metrics.CheckRequest, metricOutcome, elapsed)

	if err != nil {
		return err
	}
	if !allowed {
		return types.ErrAccessDenied
	}
	return nil
}

// Middleware adapts the interceptor into standard HTTP middleware. The
// authentication for the request is produced by authFn (the identity
// subsystem's concern); denials map to 403, faults to 500.
func (w *WebInterceptor) Middleware(authFn func(*http.Request) *types.Authentication) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			err := w.Authorize(authFn(req), req)
			switch {
			case err == nil:
				next.ServeHTTP(rw, req)
			case types.IsDenied(err):
				http.Error(rw, "forbidden", http.StatusForbidden)
			default:
				http.Error(rw, "authorization error", http.StatusInternalServerError)
			}
		})
	}
}
