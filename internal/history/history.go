// Package history keeps a PostgreSQL log of recording sessions.
package history

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/audiolibrelab/streamcapture/internal/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Session statuses
const (
	StatusRecording = "recording"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDied      = "died"
)

// Session is one stored recording session.
type Session struct {
	ID        string        `json:"id"`
	Group     string        `json:"group"`
	Stream    string        `json:"stream"`
	Output    string        `json:"output"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Size      int64         `json:"size"`
	Unclean   bool          `json:"unclean"`
	Error     string        `json:"error,omitempty"`
}

// Store writes session events to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open applies pending migrations and connects a pool to databaseURL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Debug("History database connected")
	return &Store{pool: pool}, nil
}

func runMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("No new history migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if version, dirty, err := m.Version(); err == nil {
		slog.Debug("History migrations applied", "version", version, "dirty", dirty)
	}
	return nil
}

// statement returns the session row change for an event kind
func statement(ev events.Event) (string, []any) {
	switch ev.Kind {
	case events.KindSessionStarted, events.KindLaunchFailed:
		status := StatusRecording
		if ev.Kind == events.KindLaunchFailed {
			status = StatusFailed
		}
		started := ev.Started
		if started.IsZero() {
			started = ev.Time
		}
		return `
			INSERT INTO sessions (id, group_name, stream, output, status, started_at, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			[]any{ev.SessionID, ev.Group, ev.Stream, ev.Output, status, started, ev.Error}

	case events.KindSessionStopped:
		return `
			UPDATE sessions SET
				status = $2, ended_at = $3, duration_ms = $4, size_bytes = $5, unclean = $6
			WHERE id = $1`,
			[]any{ev.SessionID, StatusCompleted, ev.Time, ev.Duration.Milliseconds(), ev.Size, ev.Unclean}

	case events.KindRecorderDied:
		return `
			UPDATE sessions SET
				status = $2, ended_at = $3, duration_ms = $4, error = $5
			WHERE id = $1`,
			[]any{ev.SessionID, StatusDied, ev.Time, ev.Duration.Milliseconds(), ev.Error}
	}
	return "", nil
}

// Record stores ev and updates its session row.
func (s *Store) Record(ctx context.Context, ev events.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if query, args := statement(ev); query != "" {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update session %s: %w", ev.SessionID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO session_events (session_id, kind, occurred_at) VALUES ($1, $2, $3)`,
		ev.SessionID, string(ev.Kind), ev.Time,
	); err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}

	return tx.Commit(ctx)
}

// Recent returns the latest sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, group_name, stream, output, status, started_at, ended_at,
		       duration_ms, size_bytes, unclean, error
		FROM sessions
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var durationMS int64
		if err := rows.Scan(
			&sess.ID, &sess.Group, &sess.Stream, &sess.Output, &sess.Status,
			&sess.StartedAt, &sess.EndedAt, &durationMS, &sess.Size, &sess.Unclean, &sess.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.Duration = time.Duration(durationMS) * time.Millisecond
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
