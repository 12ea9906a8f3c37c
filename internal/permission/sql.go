package permission

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"reflect"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/authz-engine/exprauth/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ObjectIdentity is implemented by domain objects that know their ACL
// identity. Objects that do not implement it fall back to reflection: the
// type name as the type tag and an exported ID field as the identifier.
type ObjectIdentity interface {
	ACLIdentity() (objectType, objectID string)
}

// SQL answers permission questions from an ACL table in Postgres. A grant
// row matches when its sid equals the principal name or any granted
// authority.
//
// Query failures return the database error untouched; the evaluation engine
// surfaces them as permission-store faults.
type SQL struct {
	db *sql.DB
}

// NewSQL creates the evaluator over an open database handle.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// Migrate applies the ACL schema migrations from the embedded source.
func Migrate(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying ACL migrations: %w", err)
	}
	return nil
}

func (s *SQL) HasPermission(ctx context.Context, auth *types.Authentication, target interface{}, permission string) (bool, error) {
	objectType, objectID, err := identityOf(target)
	if err != nil {
		return false, err
	}
	return s.query(ctx, auth, objectType, objectID, permission)
}

func (s *SQL) HasPermissionID(ctx context.Context, auth *types.Authentication, targetID interface{}, targetType, permission string) (bool, error) {
	return s.query(ctx, auth, targetType, fmt.Sprintf("%v", targetID), permission)
}

func (s *SQL) query(ctx context.Context, auth *types.Authentication, objectType, objectID, permission string) (bool, error) {
	sids := []string{"anonymous"}
	if auth != nil {
		sids = append(auth.Authorities(), auth.Name)
	}

	var allowed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM acl_entries
			WHERE object_type = $1
			  AND object_id = $2
			  AND sid = ANY($3)
			  AND permission = $4
			  AND granted
		)`,
		objectType, objectID, pq.Array(sids), permission,
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("querying acl_entries: %w", err)
	}
	return allowed, nil
}

// Grant inserts a grant row; used by provisioning code and tests.
func (s *SQL) Grant(ctx context.Context, objectType, objectID, sid, permission string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acl_entries (object_type, object_id, sid, permission, granted)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (object_type, object_id, sid, permission)
		DO UPDATE SET granted = TRUE`,
		objectType, objectID, sid, permission,
	)
	if err != nil {
		return fmt.Errorf("inserting acl entry: %w", err)
	}
	return nil
}

// identityOf derives the (type, id) identity of a loaded object.
func identityOf(target interface{}) (string, string, error) {
	if ident, ok := target.(ObjectIdentity); ok {
		objectType, objectID := ident.ACLIdentity()
		return objectType, objectID, nil
	}

	v := reflect.ValueOf(target)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", "", fmt.Errorf("cannot derive ACL identity of nil target")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", "", fmt.Errorf("cannot derive ACL identity of %T", target)
	}
	idField := v.FieldByName("ID")
	if !idField.IsValid() {
		return "", "", fmt.Errorf("type %T has no ID field for ACL identity", target)
	}
	return v.Type().Name(), fmt.Sprintf("%v", idField.Interface()), nil
}
