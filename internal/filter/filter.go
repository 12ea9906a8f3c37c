// Package filter applies per-element predicates to container values while
// preserving shape, order and element identity.
package filter

import (
	"reflect"

	"github.com/authz-engine/exprauth/pkg/types"
)

// Predicate decides inclusion of one element. For map targets the element is
// an Entry; for sequences it is the element itself.
type Predicate func(element interface{}) (bool, error)

// Entry is the per-entry filterObject exposed while filtering a map. Its
// fields are independently inspectable as filterObject.key and
// filterObject.value.
type Entry struct {
	Key   interface{} `expr:"key"`
	Value interface{} `expr:"value"`
}

// Map converts the entry to the value bag bound under filterObject.
func (e Entry) Map() map[string]interface{} {
	return map[string]interface{}{"key": e.Key, "value": e.Value}
}

// Apply filters target without mutating it. Slices keep their relative
// order; arrays yield a fresh slice of the element type sized to the pass
// count; maps keep passing entries with their original key and value. Any
// other shape is a configuration error, never a silent no-op.
func Apply(target interface{}, pred Predicate) (interface{}, error) {
	if target == nil {
		return nil, types.Configf("filter target is nil")
	}

	v := reflect.ValueOf(target)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return filterSequence(v, pred)
	case reflect.Map:
		return filterMap(v, pred)
	default:
		return nil, types.Configf("filter target of type %T is neither a sequence nor a map", target)
	}
}

// Filterable reports whether a value has a shape the engine can filter. Used
// when selecting the pre-filter target among candidate arguments.
func Filterable(value interface{}) bool {
	if value == nil {
		return false
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func filterSequence(v reflect.Value, pred Predicate) (interface{}, error) {
	elemType := v.Type().Elem()
	out := reflect.MakeSlice(reflect.SliceOf(elemType), 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i)
		keep, err := pred(elem.Interface())
		if err != nil {
			return nil, err
		}
		if keep {
			out = reflect.Append(out, elem)
		}
	}
	return out.Interface(), nil
}

func filterMap(v reflect.Value, pred Predicate) (interface{}, error) {
	out := reflect.MakeMapWithSize(v.Type(), v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, value := iter.Key(), iter.Value()
		keep, err := pred(Entry{Key: key.Interface(), Value: value.Interface()})
		if err != nil {
			return nil, err
		}
		if keep {
			out.SetMapIndex(key, value)
		}
	}
	return out.Interface(), nil
}
