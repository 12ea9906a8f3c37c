// Package params resolves method-argument names so expressions can reference
// arguments by name.
package params

import (
	"reflect"
	"strings"

	"github.com/authz-engine/exprauth/pkg/types"
)

// ParameterNamer is implemented by protected targets that declare their own
// parameter names.
type ParameterNamer interface {
	// ParameterNames returns the declared names for the operation, or
	// ok=false when the namer has no opinion about it.
	ParameterNames(operation string) (names []string, ok bool)
}

// resolver is one strategy in the binder's chain. Each either resolves a
// full name list or declares itself not applicable.
type resolver interface {
	resolve(b *Binder, operation string, explicit []string) (names []string, ok bool)
}

// Binder resolves declared-parameter names for protected operations, trying
// strategies in a fixed priority order: explicit names carried by the
// attachment, names declared by a registered ParameterNamer, then
// struct-field names of a registered single-struct prototype. All
// registration happens at configuration time; resolution itself is
// read-only.
type Binder struct {
	namers     []ParameterNamer
	prototypes map[string]reflect.Type
	chain      []resolver
}

// NewBinder creates a binder with the standard resolver chain.
func NewBinder() *Binder {
	return &Binder{
		prototypes: make(map[string]reflect.Type),
		chain: []resolver{
			explicitResolver{},
			namerResolver{},
			prototypeResolver{},
		},
	}
}

// RegisterNamer appends a ParameterNamer consulted for every operation.
func (b *Binder) RegisterNamer(n ParameterNamer) {
	b.namers = append(b.namers, n)
}

// RegisterPrototype declares that operation takes a single struct argument
// shaped like prototype; its field names (or expr tags) become the bound
// names.
func (b *Binder) RegisterPrototype(operation string, prototype interface{}) error {
	t := reflect.TypeOf(prototype)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return types.Configf("prototype for %q must be a struct, got %T", operation, prototype)
	}
	b.prototypes[operation] = t
	return nil
}

// Resolve returns the parameter names for an operation, or ok=false when no
// strategy applies. Callers that need names (an expression references an
// argument) must treat ok=false as a configuration error.
func (b *Binder) Resolve(operation string, explicit []string) ([]string, bool) {
	for _, r := range b.chain {
		if names, ok := r.resolve(b, operation, explicit); ok {
			return names, true
		}
	}
	return nil, false
}

// Bind zips resolved names with the actual arguments of one call.
func (b *Binder) Bind(operation string, names []string, args []interface{}) (map[string]interface{}, error) {
	// A single-struct call binds the struct's fields rather than the struct.
	if proto, ok := b.prototypes[operation]; ok && len(args) == 1 {
		return bindStruct(proto, args[0])
	}
	if len(names) != len(args) {
		return nil, types.Configf(
			"operation %q: %d parameter names resolved for %d arguments", operation, len(names), len(args))
	}
	bound := make(map[string]interface{}, len(names))
	for i, name := range names {
		bound[name] = args[i]
	}
	return bound, nil
}

type explicitResolver struct{}

func (explicitResolver) resolve(_ *Binder, _ string, explicit []string) ([]string, bool) {
	if len(explicit) == 0 {
		return nil, false
	}
	return explicit, true
}

type namerResolver struct{}

func (namerResolver) resolve(b *Binder, operation string, _ []string) ([]string, bool) {
	for _, n := range b.namers {
		if names, ok := n.ParameterNames(operation); ok {
			return names, true
		}
	}
	return nil, false
}

type prototypeResolver struct{}

func (prototypeResolver) resolve(b *Binder, operation string, _ []string) ([]string, bool) {
	proto, ok := b.prototypes[operation]
	if !ok {
		return nil, false
	}
	return structFieldNames(proto), true
}

func structFieldNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		names = append(names, fieldName(field))
	}
	return names
}

func fieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("expr"); tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(field.Name[:1]) + field.Name[1:]
}

func bindStruct(t reflect.Type, arg interface{}) (map[string]interface{}, error) {
	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, types.Configf("single-struct argument is nil")
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Type() != t {
		return nil, types.Configf("argument type %T does not match registered prototype %s", arg, t)
	}
	bound := make(map[string]interface{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		bound[fieldName(field)] = v.Field(i).Interface()
	}
	return bound, nil
}
