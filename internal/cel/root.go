package cel

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/authz-engine/exprauth/internal/permission"
	"github.com/authz-engine/exprauth/pkg/types"
)

// DefaultRolePrefix is prepended to hasRole/hasAnyRole arguments that do not
// already carry it. It applies to the arguments only, never to stored
// authorities.
const DefaultRolePrefix = "ROLE_"

// Root is the capability set an expression evaluates against: the current
// authentication plus the built-in predicate library. A Root is built fresh
// per evaluation and discarded with it; it never outlives the invocation it
// was built for.
//
// Web- and method-specific capabilities compose onto it: WithRequest binds
// the inbound request, while method argument bindings, filterObject and
// returnValue travel as activation variables.
type Root struct {
	ctx        context.Context
	auth       *types.Authentication
	evaluator  permission.Evaluator
	rolePrefix string

	request *http.Request

	// storeErr records a permission-store failure raised mid-evaluation so
	// the engine can surface it as a PermissionStoreError instead of a
	// generic evaluation fault. Program.Eval resets it before each run;
	// a failure from one check never bleeds into the next on a shared root.
	storeErr error
}

// NewRoot builds the common root. A nil authentication is treated as
// anonymous, not as an error.
func NewRoot(ctx context.Context, auth *types.Authentication, evaluator permission.Evaluator, rolePrefix string) *Root {
	if auth == nil {
		auth = types.NewAnonymous()
	}
	if evaluator == nil {
		evaluator = permission.Denying{}
	}
	if rolePrefix == "" {
		rolePrefix = DefaultRolePrefix
	}
	return &Root{
		ctx:        ctx,
		auth:       auth,
		evaluator:  evaluator,
		rolePrefix: rolePrefix,
	}
}

// WithRequest binds the inbound request, upgrading the root to the web
// capability set (request variable plus hasIpAddress).
func (r *Root) WithRequest(req *http.Request) *Root {
	r.request = req
	return r
}

// HasRole reports membership of the prefixed role in the authority set.
func (r *Root) HasRole(role string) bool {
	return r.auth.HasAuthority(r.prefixed(role))
}

// HasAnyRole reports membership of any of the prefixed roles.
func (r *Root) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if r.HasRole(role) {
			return true
		}
	}
	return false
}

// HasAuthority reports direct membership, with no prefixing.
func (r *Root) HasAuthority(authority string) bool {
	return r.auth.HasAuthority(authority)
}

// HasAnyAuthority reports direct membership of any of the authorities.
func (r *Root) HasAnyAuthority(authorities ...string) bool {
	for _, a := range authorities {
		if r.auth.HasAuthority(a) {
			return true
		}
	}
	return false
}

// IsAnonymous reports whether the actor has no proof of identity.
func (r *Root) IsAnonymous() bool { return !r.auth.Authenticated() }

// IsRememberMe reports whether the actor authenticated via a persisted token.
func (r *Root) IsRememberMe() bool { return r.auth.RememberMe }

// IsAuthenticated reports whether the actor is not anonymous.
func (r *Root) IsAuthenticated() bool { return r.auth.Authenticated() }

// IsFullyAuthenticated reports whether the actor is neither anonymous nor
// remember-me.
func (r *Root) IsFullyAuthenticated() bool { return r.auth.FullyAuthenticated() }

// HasPermission delegates the loaded-object form to the permission evaluator.
// A store failure is recorded on the root and returned.
func (r *Root) HasPermission(target interface{}, perm string) (bool, error) {
	ok, err := r.evaluator.HasPermission(r.ctx, r.auth, target, perm)
	if err != nil {
		r.storeErr = err
		return false, err
	}
	return ok, nil
}

// HasPermissionID delegates the (id, type tag) form to the permission
// evaluator.
func (r *Root) HasPermissionID(targetID interface{}, targetType, perm string) (bool, error) {
	ok, err := r.evaluator.HasPermissionID(r.ctx, r.auth, targetID, targetType, perm)
	if err != nil {
		r.storeErr = err
		return false, err
	}
	return ok, nil
}

// HasIPAddress reports whether the bound request's source address lies in
// the given CIDR range (or equals the given address). False when no request
// is bound or the request address cannot be parsed.
func (r *Root) HasIPAddress(cidrOrAddr string) bool {
	if r.request == nil {
		return false
	}
	host := r.request.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	if prefix, err := netip.ParsePrefix(cidrOrAddr); err == nil {
		return prefix.Contains(addr)
	}
	want, err := netip.ParseAddr(cidrOrAddr)
	if err != nil {
		return false
	}
	return want == addr
}

func (r *Root) prefixed(role string) string {
	if strings.HasPrefix(role, r.rolePrefix) {
		return role
	}
	return r.rolePrefix + role
}

// baseVars produces the fixed variables every expression sees.
func (r *Root) baseVars() map[string]interface{} {
	vars := map[string]interface{}{
		"principal":      r.auth.Principal,
		"authentication": r.authenticationMap(),
		"permitAll":      true,
		"denyAll":        false,
	}
	if r.request != nil {
		vars["request"] = requestMap(r.request)
	}
	return vars
}

func (r *Root) authenticationMap() map[string]interface{} {
	return map[string]interface{}{
		"name":               r.auth.Name,
		"principal":          r.auth.Principal,
		"authorities":        r.auth.Authorities(),
		"anonymous":          r.auth.Anonymous,
		"rememberMe":         r.auth.RememberMe,
		"authenticated":      r.auth.Authenticated(),
		"fullyAuthenticated": r.auth.FullyAuthenticated(),
	}
}

// requestMap projects an inbound request into the value bag exposed under
// the request variable.
func requestMap(req *http.Request) map[string]interface{} {
	headers := make(map[string]interface{}, len(req.Header))
	for name, values := range req.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	query := map[string]interface{}{}
	for name, values := range req.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	return map[string]interface{}{
		"method":     req.Method,
		"path":       req.URL.Path,
		"host":       req.Host,
		"remoteAddr": req.RemoteAddr,
		"headers":    headers,
		"query":      query,
	}
}
