package params

import (
	"reflect"
	"testing"
)

type staticNamer map[string][]string

func (s staticNamer) ParameterNames(operation string) ([]string, bool) {
	names, ok := s[operation]
	return names, ok
}

type transferRequest struct {
	FromAccount string `expr:"from"`
	ToAccount   string `expr:"to"`
	Amount      int
	internal    string
}

func TestBinder_ResolvePriority(t *testing.T) {
	binder := NewBinder()
	binder.RegisterNamer(staticNamer{"OrderService.cancel": {"orderId"}})
	if err := binder.RegisterPrototype("OrderService.cancel", transferRequest{}); err != nil {
		t.Fatalf("RegisterPrototype() failed: %v", err)
	}

	tests := []struct {
		name      string
		operation string
		explicit  []string
		want      []string
		wantOK    bool
	}{
		{
			name:      "explicit names win",
			operation: "OrderService.cancel",
			explicit:  []string{"id", "reason"},
			want:      []string{"id", "reason"},
			wantOK:    true,
		},
		{
			name:      "namer before prototype",
			operation: "OrderService.cancel",
			want:      []string{"orderId"},
			wantOK:    true,
		},
		{
			name:      "no strategy applies",
			operation: "OrderService.unknown",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := binder.Resolve(tt.operation, tt.explicit)
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinder_ResolvePrototypeFields(t *testing.T) {
	binder := NewBinder()
	if err := binder.RegisterPrototype("PaymentService.transfer", &transferRequest{}); err != nil {
		t.Fatalf("RegisterPrototype() failed: %v", err)
	}

	got, ok := binder.Resolve("PaymentService.transfer", nil)
	if !ok {
		t.Fatal("Resolve() should find the registered prototype")
	}
	// Tagged fields use the tag, untagged exported fields use the
	// lowercase-first-letter convention, unexported fields are skipped.
	want := []string{"from", "to", "amount"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %v, want %v", got, want)
	}
}

func TestBinder_RegisterPrototypeRejectsNonStruct(t *testing.T) {
	binder := NewBinder()
	for _, proto := range []interface{}{42, "s", []string{"a"}, nil} {
		if err := binder.RegisterPrototype("op", proto); err == nil {
			t.Errorf("RegisterPrototype(%v) should fail", proto)
		}
	}
}

func TestBinder_Bind(t *testing.T) {
	binder := NewBinder()

	bound, err := binder.Bind("op", []string{"orderId", "amount"}, []interface{}{"o-1", 25})
	if err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	want := map[string]interface{}{"orderId": "o-1", "amount": 25}
	if !reflect.DeepEqual(bound, want) {
		t.Errorf("Bind() = %v, want %v", bound, want)
	}
}

func TestBinder_BindCountMismatch(t *testing.T) {
	binder := NewBinder()
	if _, err := binder.Bind("op", []string{"one"}, []interface{}{"a", "b"}); err == nil {
		t.Error("Bind() should reject a name/argument count mismatch")
	}
}

func TestBinder_BindSingleStruct(t *testing.T) {
	binder := NewBinder()
	if err := binder.RegisterPrototype("PaymentService.transfer", transferRequest{}); err != nil {
		t.Fatalf("RegisterPrototype() failed: %v", err)
	}

	arg := &transferRequest{FromAccount: "acc-1", ToAccount: "acc-2", Amount: 50, internal: "x"}
	bound, err := binder.Bind("PaymentService.transfer", nil, []interface{}{arg})
	if err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}

	want := map[string]interface{}{"from": "acc-1", "to": "acc-2", "amount": 50}
	if !reflect.DeepEqual(bound, want) {
		t.Errorf("Bind() = %v, want %v", bound, want)
	}
}

func TestBinder_BindSingleStructTypeMismatch(t *testing.T) {
	binder := NewBinder()
	if err := binder.RegisterPrototype("op", transferRequest{}); err != nil {
		t.Fatalf("RegisterPrototype() failed: %v", err)
	}
	if _, err := binder.Bind("op", nil, []interface{}{"not a struct"}); err == nil {
		t.Error("Bind() should reject an argument that does not match the prototype")
	}
}
