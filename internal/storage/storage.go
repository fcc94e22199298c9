// Package storage provides the durable backends behind the timer registry
// and the task queue. The engine loads everything once at startup and then
// only writes; a store that goes away mid-flight degrades the process to
// memory-only operation instead of stopping it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"timerd/internal/kit"
	"timerd/internal/timer"
)

// Backend names accepted in config.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultBusyTimeout = 5 * time.Second
)

var ErrNotFound = errors.New("record not found")

// Store is the full persistence surface: the timer map plus the task queue
// the sink appends to.
type Store interface {
	LoadAll(ctx context.Context) (map[string]*timer.Timer, error)
	Upsert(ctx context.Context, t *timer.Timer) error
	Delete(ctx context.Context, id string) error

	AppendTask(ctx context.Context, t kit.Task) error
	ListTasks(ctx context.Context, limit int) ([]kit.Task, error)

	Close() error
}

type Config struct {
	// Backend selects the implementation: "redis", "sqlite" or "memory"
	// (default when empty).
	Backend string       `json:"backend,omitempty"`
	Redis   RedisConfig  `json:"redis,omitempty"`
	SQLite  SQLiteConfig `json:"sqlite,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// Key is the hash holding the timer map, one field per timer id.
	Key string `json:"key,omitempty"`
	// TasksKey is the list the task sink appends to.
	TasksKey string `json:"tasks_key,omitempty"`
	// DialTimeout is a Go duration string.
	DialTimeout string `json:"dial_timeout,omitempty"`
}

type SQLiteConfig struct {
	Path string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate checks the backend name and duration fields without opening
// anything, so a typo is rejected at config load instead of being silently
// replaced by a default.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Backend)
	}
	if _, err := parseDuration("storage.redis.dial_timeout", c.Redis.DialTimeout, defaultDialTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("storage.sqlite.busy_timeout", c.SQLite.BusyTimeout, defaultBusyTimeout); err != nil {
		return err
	}
	return nil
}

// Open builds the configured backend.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return openRedis(cfg.Redis, log)
	case BackendSQLite:
		return openSQLite(cfg.SQLite, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
