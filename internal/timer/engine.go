package timer

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// fire runs one due occurrence of a timer: procedure, action delegation,
// then reschedule or retire. Every failure inside a firing is logged and
// suppressed; a bad run must never disable future occurrences or reach the
// loop.
func (s *Service) fire(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("timer_id", id).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in timer firing")
		}
	}()

	// Re-fetch: the timer may have been cancelled (or completed by an
	// earlier overlapping dispatch) between scan and execution.
	s.mu.RLock()
	t, ok := s.timers[id]
	var snap *Timer
	if ok && t.Status == StatusActive {
		snap = t.Clone()
	}
	s.mu.RUnlock()
	if snap == nil {
		return
	}

	firedAt := s.now()
	log := s.log.With().Str("timer_id", snap.ID).Str("name", snap.Name).Logger()
	log.Info().Time("due", snap.NextRun.Time).Msg("timer fired")

	if snap.Procedure != "" {
		if err := s.runProcedure(ctx, snap, firedAt); err != nil {
			log.Error().Err(err).Msg("procedure failed; timer stays scheduled")
		}
	}

	if snap.Action != "" {
		s.delegateAction(ctx, snap, log)
	}

	s.reschedule(ctx, id, log)
}

func (s *Service) runProcedure(ctx context.Context, t *Timer, firedAt time.Time) error {
	prog, err := ParseProcedure(t.Procedure)
	if err != nil {
		// Validated at create/edit time, so only possible after a store
		// record was hand-edited underneath us.
		return fmt.Errorf("stored procedure no longer parses: %w", err)
	}
	return prog.Run(ctx, ProcContext{
		TimerID:   t.ID,
		TimerName: t.Name,
		FiredAt:   firedAt,
		Log:       s.log,
		Sink:      s.sink,
		Inbox:     s.inbox,
	})
}

// delegateAction turns the timer's action into a unit of work. Preferred
// path is the task sink; without one the action text goes to the inbox.
// Both paths are fire-and-forget from the timer's point of view.
func (s *Service) delegateAction(ctx context.Context, t *Timer, log zerolog.Logger) {
	desc := fmt.Sprintf("Timer %q fired: %s", t.Name, t.Action)
	if s.sink != nil {
		taskID, err := s.sink.CreateTask(ctx, desc)
		if err == nil {
			log.Info().Str("task_id", taskID).Msg("action delegated to task sink")
			return
		}
		log.Warn().Err(err).Msg("task sink unavailable; falling back to inbox")
	}
	if s.inbox == nil {
		log.Warn().Msg("no task sink or inbox configured; action dropped")
		return
	}
	if err := s.inbox.Deliver(ctx, desc); err != nil {
		log.Error().Err(err).Msg("inbox delivery failed")
	}
}

// reschedule advances a recurring timer to its next occurrence or retires a
// one-shot one. The catch-up resolver runs here too: if this firing itself
// was delayed past one or more intervals, the missed grid points collapse
// into the single next future occurrence.
func (s *Service) reschedule(ctx context.Context, id string, log zerolog.Logger) {
	now := s.now()

	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok || t.Status != StatusActive {
		// Cancelled while the firing ran; leave the record alone.
		s.mu.Unlock()
		return
	}
	if t.Recurring && t.RecurrenceInterval > 0 {
		t.NextRun = UnixTime{NextAfter(t.NextRun.Time, t.Interval(), now)}
	} else {
		t.Status = StatusCompleted
	}
	cp := t.Clone()
	s.mu.Unlock()

	s.persist(ctx, cp)
	if cp.Status == StatusCompleted {
		log.Info().Msg("one-shot timer completed")
	} else {
		log.Info().Time("next_run", cp.NextRun.Time).Msg("recurring timer rescheduled")
	}
}
