package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/authz-engine/exprauth/pkg/types"
)

// recordingEvaluator counts delegate calls and replays a fixed answer.
type recordingEvaluator struct {
	calls int
	allow bool
	err   error
}

func (r *recordingEvaluator) HasPermission(context.Context, *types.Authentication, interface{}, string) (bool, error) {
	r.calls++
	return r.allow, r.err
}

func (r *recordingEvaluator) HasPermissionID(context.Context, *types.Authentication, interface{}, string, string) (bool, error) {
	r.calls++
	return r.allow, r.err
}

func TestDenying(t *testing.T) {
	var d Denying
	allowed, err := d.HasPermission(context.Background(), nil, "anything", "read")
	if err != nil {
		t.Fatalf("HasPermission() failed: %v", err)
	}
	if allowed {
		t.Error("Denying must never grant")
	}
	allowed, err = d.HasPermissionID(context.Background(), nil, "1", "Doc", "read")
	if err != nil {
		t.Fatalf("HasPermissionID() failed: %v", err)
	}
	if allowed {
		t.Error("Denying must never grant")
	}
}

func TestCached_ServesRepeatsFromCache(t *testing.T) {
	delegate := &recordingEvaluator{allow: true}
	cached := NewCached(delegate, 16, time.Minute)
	auth := types.NewAuthentication("alice", "alice", "ROLE_USER")

	for i := 0; i < 3; i++ {
		allowed, err := cached.HasPermissionID(context.Background(), auth, "42", "Report", "read")
		if err != nil {
			t.Fatalf("HasPermissionID() failed: %v", err)
		}
		if !allowed {
			t.Fatal("expected grant")
		}
	}
	if delegate.calls != 1 {
		t.Errorf("delegate called %d times, want 1", delegate.calls)
	}
}

func TestCached_DistinguishesPrincipals(t *testing.T) {
	delegate := &recordingEvaluator{allow: true}
	cached := NewCached(delegate, 16, time.Minute)

	alice := types.NewAuthentication("alice", "alice")
	bob := types.NewAuthentication("bob", "bob")

	if _, err := cached.HasPermissionID(context.Background(), alice, "42", "Report", "read"); err != nil {
		t.Fatal(err)
	}
	if _, err := cached.HasPermissionID(context.Background(), bob, "42", "Report", "read"); err != nil {
		t.Fatal(err)
	}
	if delegate.calls != 2 {
		t.Errorf("delegate called %d times, want one per principal", delegate.calls)
	}
}

func TestCached_NeverCachesFailures(t *testing.T) {
	delegate := &recordingEvaluator{err: errors.New("store down")}
	cached := NewCached(delegate, 16, time.Minute)
	auth := types.NewAuthentication("alice", "alice")

	for i := 0; i < 2; i++ {
		if _, err := cached.HasPermission(context.Background(), auth, "doc", "read"); err == nil {
			t.Fatal("expected the delegate failure to propagate")
		}
	}
	if delegate.calls != 2 {
		t.Errorf("delegate called %d times, failures must never be served from cache", delegate.calls)
	}

	// Recovery: once the store answers, the decision is cached again.
	delegate.err = nil
	delegate.allow = true
	for i := 0; i < 2; i++ {
		if _, err := cached.HasPermission(context.Background(), auth, "doc", "read"); err != nil {
			t.Fatalf("HasPermission() failed: %v", err)
		}
	}
	if delegate.calls != 3 {
		t.Errorf("delegate called %d times, want 3", delegate.calls)
	}
}

func TestDecisionKey_AuthorityOrderInsensitive(t *testing.T) {
	a := types.NewAuthentication("alice", "alice", "ROLE_A", "ROLE_B")
	b := types.NewAuthentication("alice", "alice", "ROLE_B", "ROLE_A")

	if decisionKey(a, "t", "T", "read") != decisionKey(b, "t", "T", "read") {
		t.Error("equal grants must produce equal keys regardless of registration order")
	}
	if decisionKey(a, "t", "T", "read") == decisionKey(a, "t", "T", "write") {
		t.Error("different permissions must produce different keys")
	}
	if decisionKey(nil, "t", "T", "read") != decisionKey(nil, "t", "T", "read") {
		t.Error("anonymous keys must be stable")
	}
}

type report struct {
	ID    int
	Title string
}

type customIdentity struct{}

func (customIdentity) ACLIdentity() (string, string) { return "custom", "c-1" }

func TestIdentityOf(t *testing.T) {
	tests := []struct {
		name     string
		target   interface{}
		wantType string
		wantID   string
		wantErr  bool
	}{
		{name: "explicit identity", target: customIdentity{}, wantType: "custom", wantID: "c-1"},
		{name: "struct with ID", target: report{ID: 7}, wantType: "report", wantID: "7"},
		{name: "pointer to struct", target: &report{ID: 9}, wantType: "report", wantID: "9"},
		{name: "scalar", target: 42, wantErr: true},
		{name: "struct without ID", target: struct{ Name string }{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objectType, objectID, err := identityOf(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("identityOf() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if objectType != tt.wantType || objectID != tt.wantID {
				t.Errorf("identityOf() = (%q, %q), want (%q, %q)", objectType, objectID, tt.wantType, tt.wantID)
			}
		})
	}
}
