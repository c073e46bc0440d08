package driver

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// PostgresDriver implements Driver for a shared Postgres instance, used in
// "service" mode where multiple castellan processes read the Truth Store
// (replicas tail the event log; only the single leader appends).
type PostgresDriver struct {
	db *sql.DB
}

// NewPostgres creates a new Postgres driver.
func NewPostgres() *PostgresDriver {
	return &PostgresDriver{}
}

func (d *PostgresDriver) Open(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	d.db = db
	return nil
}

func (d *PostgresDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *PostgresDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

func (d *PostgresDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

func (d *PostgresDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

func (d *PostgresDriver) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Migrate runs schema/postgres_NNN.sql migrations. Callers pass
// schemaType="postgres" so the same SchemaFS can hold both dialects' files.
func (d *PostgresDriver) Migrate(ctx context.Context, schemaFS SchemaFS, schemaType string) error {
	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return runMigrations(ctx, d.db, schemaFS, schemaType, "INSERT INTO _migrations (version) VALUES ($1)")
}

func (d *PostgresDriver) Dialect() Dialect { return DialectPostgres }

func (d *PostgresDriver) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

func (d *PostgresDriver) Now() string { return "NOW()" }

func (d *PostgresDriver) UpsertConflict() string { return "ON CONFLICT" }

func (d *PostgresDriver) DB() *sql.DB { return d.db }
