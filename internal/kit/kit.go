// Package kit holds the narrow contracts between the timer engine and its
// collaborators. The engine never talks to Telegram or the task queue
// directly; it only sees these interfaces.
package kit

import (
	"context"
	"time"
)

// TaskSink converts a fired timer action into a trackable unit of work for
// the surrounding agent to process later. Implementations must be safe for
// concurrent use: many firings may create tasks at once.
type TaskSink interface {
	CreateTask(ctx context.Context, description string) (taskID string, err error)
}

// Inbox delivers a plain message to the operator. It is the fallback path
// when no TaskSink is wired, and the channel procedure `notify` steps use.
type Inbox interface {
	Deliver(ctx context.Context, message string) error
}

// Task is one unit of work produced by the TaskSink.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
