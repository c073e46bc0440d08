// Package truth implements the append-only event log and derived snapshot
// that back every other subsystem of castellan: the Truth Store component of
// the Core. It is the only component that appends to the event log or writes
// the cached per-entity projection tables; every other package reads via its
// Get*/List* methods and writes by calling AppendEvent, except for three
// direct projection writes made through this package: UpsertGateDefinition
// (gatefsm), UpsertWorker (workerpool) and SetTaskBlockersAndStatus
// (taskqueue).
package truth

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type embedSchemaFS struct{}

func (embedSchemaFS) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := schemaFS.ReadDir(name)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out, nil
}

func (embedSchemaFS) ReadFile(name string) ([]byte, error) {
	return schemaFS.ReadFile(name)
}

// ErrConflictingWrite is returned by AppendEvent when the optimistic
// sequence-number lock was lost to a concurrent writer. Callers must retry.
var ErrConflictingWrite = errors.New("truth: conflicting write, retry")

// Store is the Truth Store: a single-leader, transactional event log plus
// cached derived-state projections, backed by either SQLite ("local" mode)
// or Postgres ("service" mode) via internal/truth/driver.
type Store struct {
	drv    driver.Driver
	logger *slog.Logger
}

// Open opens (and migrates) a Truth Store against the given dialect and DSN.
// For SQLite, dsn is a file path (or ":memory:"); for Postgres, a connection
// string.
func Open(dialect driver.Dialect, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, cerrors.UpstreamFailure("open truth store", err)
	}
	schemaType := string(dialect)
	if err := drv.Migrate(context.Background(), embedSchemaFS{}, schemaType); err != nil {
		_ = drv.Close()
		return nil, cerrors.UpstreamFailure("migrate truth store", err)
	}
	return &Store{drv: drv, logger: logger}, nil
}

// Close flushes and releases the underlying database handle.
func (s *Store) Close() error {
	return s.drv.Close()
}

// AppendEvent atomically assigns the next per-project sequence number,
// persists the event, and updates the derived projection keyed by the
// event's type — all in one transaction. Returns the assigned seq.
//
// The sequence number is the MAX(seq)+1 for the project computed inside the
// same transaction the row is inserted in; a concurrent writer racing for
// the same seq trips the (project_id, seq) primary key and the transaction
// is rolled back, surfacing ErrConflictingWrite for the caller to retry.
func (s *Store) AppendEvent(ctx context.Context, ev Event) (int64, error) {
	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return 0, cerrors.UpstreamFailure("begin append transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRow(ctx, fmt.Sprintf(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM event_log WHERE project_id = %s",
		s.drv.Placeholder(1)), ev.ProjectID)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, cerrors.UpstreamFailure("compute next seq", err)
	}
	ev.Seq = seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO event_log (project_id, seq, type, actor, payload, created_at) VALUES (%s, %s, %s, %s, %s, %s)",
		s.drv.Placeholder(1), s.drv.Placeholder(2), s.drv.Placeholder(3),
		s.drv.Placeholder(4), s.drv.Placeholder(5), s.drv.Placeholder(6))
	if _, err := tx.Exec(ctx, insertSQL, ev.ProjectID, ev.Seq, string(ev.Type), ev.Actor,
		nullableString(string(ev.Payload)), ev.Timestamp.Format(time.RFC3339Nano)); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflictingWrite
		}
		return 0, cerrors.UpstreamFailure("insert event", err)
	}

	if err := s.applyEvent(ctx, tx, ev); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, cerrors.UpstreamFailure("commit append", err)
	}
	committed = true

	s.logger.Debug("event appended", "project_id", ev.ProjectID, "type", ev.Type, "seq", ev.Seq)
	return ev.Seq, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

// EventLogFilter narrows GetEventLog results.
type EventLogFilter struct {
	Types  []EventType
	Gate   string
	TaskID string
	Since  *time.Time
	Until  *time.Time
}

// GetEventLog returns events for a project matching filter, ordered by seq
// ascending. Gate/TaskID filters match on a best-effort substring scan of
// the raw payload since payloads are free-form per event type.
func (s *Store) GetEventLog(ctx context.Context, projectID string, filter EventLogFilter) ([]Event, error) {
	query := fmt.Sprintf("SELECT project_id, seq, type, actor, payload, created_at FROM event_log WHERE project_id = %s", s.drv.Placeholder(1))
	args := []any{projectID}
	idx := 2

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = s.drv.Placeholder(idx)
			args = append(args, string(t))
			idx++
		}
		query += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= %s", s.drv.Placeholder(idx))
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
		idx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND created_at <= %s", s.drv.Placeholder(idx))
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
		idx++
	}
	query += " ORDER BY seq ASC"

	rows, err := s.drv.Query(ctx, query, args...)
	if err != nil {
		return nil, cerrors.UpstreamFailure("query event log", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload sql.NullString
		var createdAt string
		var typ string
		if err := rows.Scan(&e.ProjectID, &e.Seq, &typ, &e.Actor, &payload, &createdAt); err != nil {
			return nil, cerrors.UpstreamFailure("scan event", err)
		}
		e.Type = EventType(typ)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.Timestamp = t
		}
		if filter.Gate != "" && !strings.Contains(string(e.Payload), filter.Gate) {
			continue
		}
		if filter.TaskID != "" && !strings.Contains(string(e.Payload), filter.TaskID) {
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventLogStats summarizes counts by type and by actor.
type EventLogStats struct {
	ByType  map[EventType]int
	ByActor map[string]int
	Total   int
}

// GetEventLogStats returns counts by type and actor for a project.
func (s *Store) GetEventLogStats(ctx context.Context, projectID string) (EventLogStats, error) {
	events, err := s.GetEventLog(ctx, projectID, EventLogFilter{})
	if err != nil {
		return EventLogStats{}, err
	}
	stats := EventLogStats{ByType: map[EventType]int{}, ByActor: map[string]int{}}
	for _, e := range events {
		stats.ByType[e.Type]++
		stats.ByActor[e.Actor]++
		stats.Total++
	}
	return stats, nil
}

// DB exposes the underlying driver for packages that need bespoke queries
// not worth adding as a Store method (e.g. test fixtures).
func (s *Store) DB() driver.Driver { return s.drv }
