// Package tasks implements the task sink: fired timer actions become
// durable work items the surrounding agent drains later.
package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"timerd/internal/kit"
	"timerd/internal/timer"
)

// Store is the slice of the storage surface the sink needs.
type Store interface {
	AppendTask(ctx context.Context, t kit.Task) error
	ListTasks(ctx context.Context, limit int) ([]kit.Task, error)
}

type Service struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(store Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// CreateTask persists one unit of work and returns its id. The scheduler
// keeps no back-reference to the task: delegation is fire-and-forget.
func (s *Service) CreateTask(ctx context.Context, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", errors.New("task description is empty")
	}
	t := kit.Task{
		ID:          timer.NewID(),
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.store.AppendTask(ctx, t); err != nil {
		return "", err
	}
	s.log.Debug().Str("task_id", t.ID).Msg("task created")
	return t.ID, nil
}

// Recent returns up to limit of the most recently created tasks,
// oldest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]kit.Task, error) {
	return s.store.ListTasks(ctx, limit)
}
