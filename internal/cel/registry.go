package cel

import (
	"github.com/google/cel-go/checker/decls"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// NamedFunc is one callable operation of a registered named object. It
// receives the argument values the expression supplied and returns the value
// exposed back to the expression.
type NamedFunc func(args []interface{}) (interface{}, error)

type namedEntry struct {
	qualified string // "object.method" as referenced in expressions
	arity     int
	fn        NamedFunc
}

// Registry holds externally registered named objects whose operations
// expressions may invoke as object.method(args). It is populated at
// configuration time and immutable afterwards; evaluation only performs
// name lookups.
type Registry struct {
	entries map[string]namedEntry
}

// NewRegistry creates an empty named-object registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]namedEntry)}
}

// Register exposes one operation of a named object under object.method with
// a fixed argument count. Registering the same qualified name twice replaces
// the earlier entry.
func (r *Registry) Register(object, method string, arity int, fn NamedFunc) {
	qualified := object + "." + method
	r.entries[qualified] = namedEntry{qualified: qualified, arity: arity, fn: fn}
}

// declarations produces CEL function declarations for every registered
// operation. The qualified name resolves because the object name is never a
// declared variable.
func (r *Registry) declarations() []*exprpb.Decl {
	if r == nil {
		return nil
	}
	out := make([]*exprpb.Decl, 0, len(r.entries))
	for _, entry := range r.entries {
		argTypes := make([]*exprpb.Type, entry.arity)
		for i := range argTypes {
			argTypes[i] = decls.Dyn
		}
		out = append(out, decls.NewFunction(entry.qualified,
			decls.NewOverload(overloadID(entry.qualified), argTypes, decls.Dyn)))
	}
	return out
}

// overloads produces the runtime bindings for all registered operations.
func (r *Registry) overloads() []*functions.Overload {
	if r == nil {
		return nil
	}
	var out []*functions.Overload
	for _, entry := range r.entries {
		entry := entry
		fn := func(args ...ref.Val) ref.Val {
			native := make([]interface{}, len(args))
			for i, arg := range args {
				native[i] = arg.Value()
			}
			result, err := entry.fn(native)
			if err != nil {
				return celtypes.NewErr("%s: %v", entry.qualified, err)
			}
			return celtypes.DefaultTypeAdapter.NativeToValue(result)
		}
		out = append(out,
			&functions.Overload{Operator: entry.qualified, Function: fn},
			&functions.Overload{Operator: overloadID(entry.qualified), Function: fn},
		)
	}
	return out
}

func overloadID(qualified string) string {
	id := make([]byte, len(qualified))
	for i := 0; i < len(qualified); i++ {
		c := qualified[i]
		if c == '.' {
			c = '_'
		}
		id[i] = c
	}
	return string(id)
}
