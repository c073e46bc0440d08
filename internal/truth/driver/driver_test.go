package driver

import (
	"context"
	"embed"
	"testing"
)

//go:embed testdata/schema/*.sql
var testSchemaFS embed.FS

type embedSchemaFS struct{ fs embed.FS }

func (e embedSchemaFS) ReadDir(name string) ([]DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, en := range entries {
		out[i] = en
	}
	return out, nil
}

func (e embedSchemaFS) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

func TestSQLiteMigrateAndQuery(t *testing.T) {
	d := NewSQLite()
	if err := d.Open(":memory:"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Migrate(ctx, embedSchemaFS{testSchemaFS}, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := d.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "gizmo"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var name string
	if err := d.QueryRow(ctx, "SELECT name FROM widgets WHERE name = ?", "gizmo").Scan(&name); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if name != "gizmo" {
		t.Errorf("expected gizmo, got %s", name)
	}

	// Re-running Migrate must be a no-op (idempotent).
	if err := d.Migrate(ctx, embedSchemaFS{testSchemaFS}, "sqlite"); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteDialectMetadata(t *testing.T) {
	d := NewSQLite()
	if d.Dialect() != DialectSQLite {
		t.Errorf("expected sqlite dialect")
	}
	if d.Placeholder(1) != "?" {
		t.Errorf("expected ? placeholder")
	}
}

func TestPostgresDialectMetadata(t *testing.T) {
	d := NewPostgres()
	if d.Dialect() != DialectPostgres {
		t.Errorf("expected postgres dialect")
	}
	if d.Placeholder(2) != "$2" {
		t.Errorf("expected $2 placeholder, got %s", d.Placeholder(2))
	}
	if d.Now() != "NOW()" {
		t.Errorf("expected NOW(), got %s", d.Now())
	}
}

func TestTxCommitRollback(t *testing.T) {
	d := NewSQLite()
	if err := d.Open(":memory:"); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	ctx := context.Background()
	if err := d.Migrate(ctx, embedSchemaFS{testSchemaFS}, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO widgets (name) VALUES (?)", "rolled-back"); err != nil {
		t.Fatalf("exec in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	var count int
	if err := d.QueryRow(ctx, "SELECT COUNT(*) FROM widgets WHERE name = ?", "rolled-back").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to discard insert, got count %d", count)
	}
}
