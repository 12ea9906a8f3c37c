package filter

import (
	"errors"
	"reflect"
	"testing"

	"github.com/authz-engine/exprauth/pkg/types"
)

func TestApply_SlicePreservesOrder(t *testing.T) {
	input := []int{10, 11, 12, 13, 14}

	got, err := Apply(input, func(element interface{}) (bool, error) {
		return element.(int)%2 == 0, nil
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	want := []int{10, 12, 14}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply() = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(input, []int{10, 11, 12, 13, 14}) {
		t.Error("Apply() must not mutate its input")
	}
}

func TestApply_SliceAllRemoved(t *testing.T) {
	got, err := Apply([]string{"a", "b"}, func(interface{}) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	out, ok := got.([]string)
	if !ok {
		t.Fatalf("Apply() returned %T, want []string", got)
	}
	if len(out) != 0 {
		t.Errorf("Apply() kept %d elements, want 0", len(out))
	}
}

func TestApply_ArrayYieldsSlice(t *testing.T) {
	input := [4]string{"keep", "drop", "keep", "drop"}

	got, err := Apply(input, func(element interface{}) (bool, error) {
		return element.(string) == "keep", nil
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	want := []string{"keep", "keep"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply() = %v (%T), want %v", got, got, want)
	}
}

func TestApply_MapByKeyAndValue(t *testing.T) {
	input := map[string]int{"a": 1, "b": 2, "c": 3}

	tests := []struct {
		name string
		pred Predicate
		want map[string]int
	}{
		{
			name: "by key",
			pred: func(element interface{}) (bool, error) {
				return element.(Entry).Key.(string) != "b", nil
			},
			want: map[string]int{"a": 1, "c": 3},
		},
		{
			name: "by value",
			pred: func(element interface{}) (bool, error) {
				return element.(Entry).Value.(int) >= 2, nil
			},
			want: map[string]int{"b": 2, "c": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(input, tt.pred)
			if err != nil {
				t.Fatalf("Apply() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApply_UnsupportedTargets(t *testing.T) {
	for _, target := range []interface{}{nil, 42, "text", struct{}{}} {
		_, err := Apply(target, func(interface{}) (bool, error) { return true, nil })
		if err == nil {
			t.Errorf("Apply(%v) should fail loudly, not no-op", target)
			continue
		}
		var cfgErr *types.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Apply(%v) error = %T, want ConfigError", target, err)
		}
	}
}

func TestApply_PredicateError(t *testing.T) {
	boom := errors.New("element fault")
	_, err := Apply([]int{1, 2, 3}, func(element interface{}) (bool, error) {
		if element.(int) == 2 {
			return false, boom
		}
		return true, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Apply() error = %v, want %v", err, boom)
	}
}

func TestFilterable(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  bool
	}{
		{name: "slice", value: []int{1}, want: true},
		{name: "array", value: [2]int{}, want: true},
		{name: "map", value: map[string]int{}, want: true},
		{name: "nil", value: nil, want: false},
		{name: "scalar", value: 7, want: false},
		{name: "struct", value: struct{}{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filterable(tt.value); got != tt.want {
				t.Errorf("Filterable(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
