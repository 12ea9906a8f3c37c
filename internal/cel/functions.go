package cel

import (
	"github.com/google/cel-go/checker/decls"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// predicateDeclarations declares the built-in predicate library. Web-only
// predicates are declared separately so method expressions cannot reference
// them.
func predicateDeclarations() []*exprpb.Decl {
	strList := decls.NewListType(decls.String)
	return []*exprpb.Decl{
		decls.NewFunction("hasRole",
			decls.NewOverload("hasRole_string", []*exprpb.Type{decls.String}, decls.Bool)),
		decls.NewFunction("hasAuthority",
			decls.NewOverload("hasAuthority_string", []*exprpb.Type{decls.String}, decls.Bool)),
		decls.NewFunction("hasAnyRole",
			decls.NewOverload("hasAnyRole_list", []*exprpb.Type{strList}, decls.Bool),
			decls.NewOverload("hasAnyRole_string_string", []*exprpb.Type{decls.String, decls.String}, decls.Bool),
			decls.NewOverload("hasAnyRole_string_string_string", []*exprpb.Type{decls.String, decls.String, decls.String}, decls.Bool)),
		decls.NewFunction("hasAnyAuthority",
			decls.NewOverload("hasAnyAuthority_list", []*exprpb.Type{strList}, decls.Bool),
			decls.NewOverload("hasAnyAuthority_string_string", []*exprpb.Type{decls.String, decls.String}, decls.Bool),
			decls.NewOverload("hasAnyAuthority_string_string_string", []*exprpb.Type{decls.String, decls.String, decls.String}, decls.Bool)),
		decls.NewFunction("isAnonymous",
			decls.NewOverload("isAnonymous", []*exprpb.Type{}, decls.Bool)),
		decls.NewFunction("isRememberMe",
			decls.NewOverload("isRememberMe", []*exprpb.Type{}, decls.Bool)),
		decls.NewFunction("isAuthenticated",
			decls.NewOverload("isAuthenticated", []*exprpb.Type{}, decls.Bool)),
		decls.NewFunction("isFullyAuthenticated",
			decls.NewOverload("isFullyAuthenticated", []*exprpb.Type{}, decls.Bool)),
		decls.NewFunction("hasPermission",
			decls.NewOverload("hasPermission_target", []*exprpb.Type{decls.Dyn, decls.String}, decls.Bool),
			decls.NewOverload("hasPermission_id_type", []*exprpb.Type{decls.Dyn, decls.String, decls.String}, decls.Bool)),
	}
}

func webDeclarations() []*exprpb.Decl {
	return []*exprpb.Decl{
		decls.NewVar("request", decls.NewMapType(decls.String, decls.Dyn)),
		decls.NewFunction("hasIpAddress",
			decls.NewOverload("hasIpAddress_string", []*exprpb.Type{decls.String}, decls.Bool)),
	}
}

func commonDeclarations() []*exprpb.Decl {
	return []*exprpb.Decl{
		decls.NewVar("principal", decls.Dyn),
		decls.NewVar("authentication", decls.NewMapType(decls.String, decls.Dyn)),
		decls.NewVar("permitAll", decls.Bool),
		decls.NewVar("denyAll", decls.Bool),
	}
}

// overloads binds the predicate implementations to one root for a single
// evaluation. Each implementation is a pure read of the root.
func (r *Root) overloads() []*functions.Overload {
	var out []*functions.Overload

	add := func(names []string, fn functions.FunctionOp) {
		for _, name := range names {
			out = append(out, &functions.Overload{Operator: name, Function: fn})
		}
	}

	add([]string{"hasRole", "hasRole_string"}, func(args ...ref.Val) ref.Val {
		role, ok := stringArg(args, 0)
		if !ok {
			return celtypes.False
		}
		return celtypes.Bool(r.HasRole(role))
	})
	add([]string{"hasAuthority", "hasAuthority_string"}, func(args ...ref.Val) ref.Val {
		a, ok := stringArg(args, 0)
		if !ok {
			return celtypes.False
		}
		return celtypes.Bool(r.HasAuthority(a))
	})
	add([]string{"hasAnyRole", "hasAnyRole_list", "hasAnyRole_string_string", "hasAnyRole_string_string_string"},
		func(args ...ref.Val) ref.Val {
			return celtypes.Bool(r.HasAnyRole(flattenStrings(args)...))
		})
	add([]string{"hasAnyAuthority", "hasAnyAuthority_list", "hasAnyAuthority_string_string", "hasAnyAuthority_string_string_string"},
		func(args ...ref.Val) ref.Val {
			return celtypes.Bool(r.HasAnyAuthority(flattenStrings(args)...))
		})
	add([]string{"isAnonymous"}, func(...ref.Val) ref.Val {
		return celtypes.Bool(r.IsAnonymous())
	})
	add([]string{"isRememberMe"}, func(...ref.Val) ref.Val {
		return celtypes.Bool(r.IsRememberMe())
	})
	add([]string{"isAuthenticated"}, func(...ref.Val) ref.Val {
		return celtypes.Bool(r.IsAuthenticated())
	})
	add([]string{"isFullyAuthenticated"}, func(...ref.Val) ref.Val {
		return celtypes.Bool(r.IsFullyAuthenticated())
	})
	add([]string{"hasPermission", "hasPermission_target", "hasPermission_id_type"},
		func(args ...ref.Val) ref.Val {
			switch len(args) {
			case 2:
				perm, ok := stringArg(args, 1)
				if !ok {
					return celtypes.NewErr("hasPermission: permission must be a string")
				}
				allowed, err := r.HasPermission(args[0].Value(), perm)
				if err != nil {
					return celtypes.NewErr("hasPermission: %v", err)
				}
				return celtypes.Bool(allowed)
			case 3:
				targetType, okType := stringArg(args, 1)
				perm, okPerm := stringArg(args, 2)
				if !okType || !okPerm {
					return celtypes.NewErr("hasPermission: type and permission must be strings")
				}
				allowed, err := r.HasPermissionID(args[0].Value(), targetType, perm)
				if err != nil {
					return celtypes.NewErr("hasPermission: %v", err)
				}
				return celtypes.Bool(allowed)
			default:
				return celtypes.NewErr("hasPermission: wrong number of arguments")
			}
		})

	if r.request != nil {
		add([]string{"hasIpAddress", "hasIpAddress_string"}, func(args ...ref.Val) ref.Val {
			cidr, ok := stringArg(args, 0)
			if !ok {
				return celtypes.False
			}
			return celtypes.Bool(r.HasIPAddress(cidr))
		})
	}

	return out
}

func stringArg(args []ref.Val, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Value().(string)
	return s, ok
}

// flattenStrings collects string arguments, unwrapping a single list
// argument (hasAnyRole(['A','B']) and hasAnyRole('A','B') behave the same).
func flattenStrings(args []ref.Val) []string {
	var out []string
	for _, arg := range args {
		switch v := arg.Value().(type) {
		case string:
			out = append(out, v)
		case []string:
			out = append(out, v...)
		case []interface{}:
			for _, elem := range v {
				switch e := elem.(type) {
				case string:
					out = append(out, e)
				case ref.Val:
					if s, ok := e.Value().(string); ok {
						out = append(out, s)
					}
				}
			}
		case []ref.Val:
			for _, elem := range v {
				if s, ok := elem.Value().(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
