package storage

import (
	"context"
	"sync"

	"timerd/internal/kit"
	"timerd/internal/timer"
)

// Memory is the in-process backend: used when persistence is disabled and
// as the store double in tests. Records do not survive a restart.
type Memory struct {
	mu     sync.Mutex
	timers map[string]*timer.Timer
	tasks  []kit.Task
}

func NewMemory() *Memory {
	return &Memory{timers: map[string]*timer.Timer{}}
}

func (m *Memory) LoadAll(ctx context.Context) (map[string]*timer.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*timer.Timer, len(m.timers))
	for id, t := range m.timers {
		out[id] = t.Clone()
	}
	return out, nil
}

func (m *Memory) Upsert(ctx context.Context, t *timer.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
	return nil
}

func (m *Memory) AppendTask(ctx context.Context, t kit.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
	return nil
}

func (m *Memory) ListTasks(ctx context.Context, limit int) ([]kit.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.tasks)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]kit.Task, n)
	copy(out, m.tasks[len(m.tasks)-n:])
	return out, nil
}

// Len reports the number of stored timers. Test helper.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Memory) Close() error { return nil }
