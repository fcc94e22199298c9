package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"timerd/internal/kit"
	"timerd/internal/timer"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one row per timer. Each upsert is a single statement,
// so writes are atomic per record.
type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

func openSQLite(cfg SQLiteConfig, log zerolog.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	busy, err := parseDuration("storage.sqlite.busy_timeout", cfg.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", cfg.Path).Msg("sqlite store opened")
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) LoadAll(ctx context.Context) (map[string]*timer.Timer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, time_spec, next_run, is_recurring, recurrence_interval,
		        action, procedure, created_at, status
		 FROM timers`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load timers: %w", err)
	}
	defer rows.Close()

	out := map[string]*timer.Timer{}
	for rows.Next() {
		var (
			t         timer.Timer
			nextRun   float64
			recurring int64
			createdAt float64
			status    string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.TimeSpec, &nextRun, &recurring,
			&t.RecurrenceInterval, &t.Action, &t.Procedure, &createdAt, &status); err != nil {
			return nil, fmt.Errorf("sqlite: scan timer: %w", err)
		}
		t.NextRun = unixTime(nextRun)
		t.Recurring = recurring != 0
		t.CreatedAt = unixTime(createdAt)
		t.Status = timer.Status(status)
		out[t.ID] = &t
	}
	return out, rows.Err()
}

func (s *sqliteStore) Upsert(ctx context.Context, t *timer.Timer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timers(id, name, time_spec, next_run, is_recurring, recurrence_interval,
		                    action, procedure, created_at, status)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, time_spec=excluded.time_spec, next_run=excluded.next_run,
		   is_recurring=excluded.is_recurring, recurrence_interval=excluded.recurrence_interval,
		   action=excluded.action, procedure=excluded.procedure, status=excluded.status`,
		t.ID, t.Name, t.TimeSpec, epochSeconds(t.NextRun), boolInt(t.Recurring),
		t.RecurrenceInterval, t.Action, t.Procedure, epochSeconds(t.CreatedAt), string(t.Status))
	if err != nil {
		return fmt.Errorf("sqlite: upsert timer %s: %w", t.ID, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete timer %s: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) AppendTask(ctx context.Context, t kit.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, description, created_at) VALUES(?,?,?)`,
		t.ID, t.Description, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append task %s: %w", t.ID, err)
	}
	return nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, limit int) ([]kit.Task, error) {
	q := `SELECT id, description, created_at FROM tasks ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		q = `SELECT id, description, created_at FROM tasks
		     ORDER BY created_at DESC LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []kit.Task
	for rows.Next() {
		var (
			t  kit.Task
			at string
		)
		if err := rows.Scan(&t.ID, &t.Description, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan task: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, t)
	}
	if limit > 0 {
		// The LIMIT query returns newest-first; present oldest-first.
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func epochSeconds(t timer.UnixTime) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func unixTime(sec float64) timer.UnixTime {
	if sec == 0 {
		return timer.UnixTime{}
	}
	return timer.UnixTime{Time: time.Unix(0, int64(sec*float64(time.Second)))}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
