package permission

import (
	"io"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func readMigration(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading migration: %v", err)
	}
	return string(content)
}

func TestMigrations_EmbeddedSource(t *testing.T) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("iofs.New() failed: %v", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		t.Fatalf("First() failed: %v", err)
	}
	if version != 1 {
		t.Errorf("first migration version = %d, want 1", version)
	}

	up, _, err := source.ReadUp(version)
	if err != nil {
		t.Fatalf("ReadUp(%d) failed: %v", version, err)
	}
	upSQL := readMigration(t, up)
	if !strings.Contains(upSQL, "acl_entries") {
		t.Error("up migration does not create acl_entries")
	}
	// Grant relies on ON CONFLICT over these columns; the schema must
	// carry a matching unique constraint.
	for _, column := range []string{"object_type", "object_id", "sid", "permission", "granted"} {
		if !strings.Contains(upSQL, column) {
			t.Errorf("up migration missing column %q", column)
		}
	}

	down, _, err := source.ReadDown(version)
	if err != nil {
		t.Fatalf("ReadDown(%d) failed: %v", version, err)
	}
	downSQL := readMigration(t, down)
	if !strings.Contains(downSQL, "DROP TABLE") || !strings.Contains(downSQL, "acl_entries") {
		t.Error("down migration does not drop acl_entries")
	}

	if _, err := source.Next(version); err == nil {
		t.Error("expected a single migration in the embedded source")
	}
}
