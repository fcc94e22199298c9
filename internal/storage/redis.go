package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"timerd/internal/kit"
	"timerd/internal/timer"
)

const (
	defaultTimersKey = "agent:timers"
	defaultTasksKey  = "agent:tasks"
)

// redisStore keeps the timer map in one hash, one field per timer id with a
// JSON-encoded record as the value. Writes touch only the mutated record,
// so a crash mid-write can never corrupt the rest of the map.
type redisStore struct {
	client    *redis.Client
	timersKey string
	tasksKey  string
	log       zerolog.Logger
}

func openRedis(cfg RedisConfig, log zerolog.Logger) (Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	dial, err := parseDuration("storage.redis.dial_timeout", cfg.DialTimeout, defaultDialTimeout)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	s := &redisStore{
		client:    client,
		timersKey: cfg.Key,
		tasksKey:  cfg.TasksKey,
		log:       log,
	}
	if s.timersKey == "" {
		s.timersKey = defaultTimersKey
	}
	if s.tasksKey == "" {
		s.tasksKey = defaultTasksKey
	}
	log.Debug().Str("addr", cfg.Addr).Str("key", s.timersKey).Msg("redis store connected")
	return s, nil
}

func (s *redisStore) LoadAll(ctx context.Context) (map[string]*timer.Timer, error) {
	fields, err := s.client.HGetAll(ctx, s.timersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load timers: %w", err)
	}
	out := make(map[string]*timer.Timer, len(fields))
	for id, raw := range fields {
		var t timer.Timer
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			// Skip rather than fail the whole startup on one bad record.
			s.log.Warn().Err(err).Str("timer_id", id).Msg("redis: undecodable timer record skipped")
			continue
		}
		out[id] = &t
	}
	return out, nil
}

func (s *redisStore) Upsert(ctx context.Context, t *timer.Timer) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: encode timer %s: %w", t.ID, err)
	}
	if err := s.client.HSet(ctx, s.timersKey, t.ID, raw).Err(); err != nil {
		return fmt.Errorf("redis: upsert timer %s: %w", t.ID, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.timersKey, id).Err(); err != nil {
		return fmt.Errorf("redis: delete timer %s: %w", id, err)
	}
	return nil
}

func (s *redisStore) AppendTask(ctx context.Context, t kit.Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis: encode task %s: %w", t.ID, err)
	}
	if err := s.client.RPush(ctx, s.tasksKey, raw).Err(); err != nil {
		return fmt.Errorf("redis: append task %s: %w", t.ID, err)
	}
	return nil
}

func (s *redisStore) ListTasks(ctx context.Context, limit int) ([]kit.Task, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.client.LRange(ctx, s.tasksKey, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list tasks: %w", err)
	}
	out := make([]kit.Task, 0, len(raws))
	for _, raw := range raws {
		var t kit.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.client.Close() }
