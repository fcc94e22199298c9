package timer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a timer. Cancelled and completed are
// terminal; records are never reused or resurrected.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// UnixTime marshals as floating-point epoch seconds, matching the wire
// format of the persisted timer map.
type UnixTime struct {
	time.Time
}

func (t UnixTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	sec := float64(t.UnixNano()) / float64(time.Second)
	return []byte(strconv.FormatFloat(sec, 'f', -1, 64)), nil
}

func (t *UnixTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" || s == "0" {
		t.Time = time.Time{}
		return nil
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("epoch seconds: %w", err)
	}
	t.Time = time.Unix(0, int64(sec*float64(time.Second)))
	return nil
}

// Timer is the sole persistent entity of the engine.
//
// NextRun is only ever computed by the parser, the catch-up resolver or the
// execution engine; the scheduler loop reads it and nothing else. While the
// timer is active it always holds a concrete instant.
type Timer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TimeSpec string `json:"time_spec"`

	NextRun   UnixTime `json:"next_run"`
	Recurring bool     `json:"is_recurring"`
	// RecurrenceInterval is the gap between firings in whole seconds.
	// Present iff Recurring.
	RecurrenceInterval int64 `json:"recurrence_interval,omitempty"`

	Action    string `json:"action,omitempty"`
	Procedure string `json:"procedure,omitempty"`

	CreatedAt UnixTime `json:"created_at"`
	Status    Status   `json:"status"`
}

// Interval returns the recurrence interval as a duration, zero for one-shot
// timers.
func (t *Timer) Interval() time.Duration {
	return time.Duration(t.RecurrenceInterval) * time.Second
}

// Clone returns a deep-enough copy; Timer has no reference fields beyond
// the embedded times, so a shallow copy suffices.
func (t *Timer) Clone() *Timer {
	cp := *t
	return &cp
}

// NewID returns a fresh short timer id: the first 8 hex characters of a
// random UUID. Short enough to type in a chat, random enough to never
// collide within one deployment's timer count.
func NewID() string {
	return uuid.NewString()[:8]
}

// DefaultName derives a display name for timers created without one.
func DefaultName(id string) string {
	return "Timer-" + id
}
