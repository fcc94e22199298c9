// Package timer implements the recurring task scheduler: the time-spec
// grammar, the persisted timer registry, the tick loop and the per-firing
// execution engine.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"timerd/internal/kit"
)

// ErrNotFound is returned for operations on an unknown timer id.
var ErrNotFound = errors.New("timer not found")

// Store is the persistence boundary of the engine. LoadAll runs once at
// startup; afterwards the in-memory registry is authoritative and the store
// only receives writes.
type Store interface {
	LoadAll(ctx context.Context) (map[string]*Timer, error)
	Upsert(ctx context.Context, t *Timer) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Service.
type Options struct {
	// Tick is the scheduler scan period. Defaults to one second.
	Tick time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service owns the timer registry and everything that mutates it. All map
// access is serialized by mu; persistence and collaborator calls always
// happen outside the lock.
type Service struct {
	store Store
	sink  kit.TaskSink
	inbox kit.Inbox
	log   zerolog.Logger

	tick time.Duration
	now  func() time.Time

	mu     sync.RWMutex
	timers map[string]*Timer

	// inFlight suppresses a second dispatch for a timer whose previous
	// firing is still running. Loop-local state, never persisted.
	fmu      sync.Mutex
	inFlight map[string]bool

	runMu     sync.Mutex
	runCancel context.CancelFunc
	loopWG    sync.WaitGroup
	engineWG  sync.WaitGroup
}

func New(store Store, sink kit.TaskSink, inbox kit.Inbox, log zerolog.Logger, opts Options) *Service {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		sink:     sink,
		inbox:    inbox,
		log:      log,
		tick:     opts.Tick,
		now:      opts.Now,
		timers:   map[string]*Timer{},
		inFlight: map[string]bool{},
	}
}

// Start loads the persisted timers, resolves stale recurring ones and
// launches the scheduler loop.
func (s *Service) Start(ctx context.Context) error {
	loaded, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load timers: %w", err)
	}

	now := s.now()
	var caughtUp []*Timer
	s.mu.Lock()
	s.timers = map[string]*Timer{}
	for id, t := range loaded {
		s.timers[id] = t
		if t.Status == StatusActive && t.Recurring && t.RecurrenceInterval > 0 && t.NextRun.Before(now) {
			t.NextRun = UnixTime{NextAfter(t.NextRun.Time, t.Interval(), now)}
			caughtUp = append(caughtUp, t.Clone())
		}
	}
	total := len(s.timers)
	s.mu.Unlock()

	for _, t := range caughtUp {
		s.log.Info().Str("timer_id", t.ID).Time("next_run", t.NextRun.Time).Msg("recurring timer caught up after downtime")
		s.persist(ctx, t)
	}
	s.log.Info().Int("timers", total).Int("caught_up", len(caughtUp)).Dur("tick", s.tick).Msg("timer service started")

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		s.runLoop(loopCtx)
	}()
	return nil
}

// Stop halts the loop and waits for in-flight firings up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.engineWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("timed out waiting for in-flight firings")
	}
}

// CreateRequest carries the user-supplied fields of a new timer.
type CreateRequest struct {
	Spec      string
	Name      string
	Action    string
	Procedure string
}

// Create validates the request, persists the new timer and returns it.
// Nothing is persisted on any validation failure.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Timer, error) {
	if req.Procedure != "" {
		if _, err := ParseProcedure(req.Procedure); err != nil {
			return nil, err
		}
	}
	now := s.now()
	sched, err := Parse(req.Spec, now)
	if err != nil {
		return nil, err
	}

	t := &Timer{
		ID:        NewID(),
		Name:      req.Name,
		TimeSpec:  req.Spec,
		NextRun:   UnixTime{sched.NextRun},
		Recurring: sched.Recurring,
		Action:    req.Action,
		Procedure: req.Procedure,
		CreatedAt: UnixTime{now},
		Status:    StatusActive,
	}
	if sched.Recurring {
		t.RecurrenceInterval = int64(sched.Interval / time.Second)
	}
	if t.Name == "" {
		t.Name = DefaultName(t.ID)
	}

	// Snapshot before the lock drops: the loop can fire the timer the
	// moment it is registered, and a firing mutates the shared record.
	s.mu.Lock()
	s.timers[t.ID] = t
	cp := t.Clone()
	s.mu.Unlock()

	s.persist(ctx, cp)
	s.log.Info().Str("timer_id", cp.ID).Str("spec", cp.TimeSpec).Bool("recurring", cp.Recurring).Time("next_run", cp.NextRun.Time).Msg("timer created")
	return cp, nil
}

// EditRequest updates a subset of a timer's fields; nil pointers leave the
// field untouched. A new Spec replaces the whole schedule.
type EditRequest struct {
	Spec      *string
	Name      *string
	Action    *string
	Procedure *string
}

func (s *Service) Edit(ctx context.Context, id string, req EditRequest) (*Timer, error) {
	if req.Procedure != nil && *req.Procedure != "" {
		if _, err := ParseProcedure(*req.Procedure); err != nil {
			return nil, err
		}
	}
	var sched Schedule
	if req.Spec != nil {
		var err error
		sched, err = Parse(*req.Spec, s.now())
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Action != nil {
		t.Action = *req.Action
	}
	if req.Procedure != nil {
		t.Procedure = *req.Procedure
	}
	if req.Spec != nil {
		t.TimeSpec = *req.Spec
		t.NextRun = UnixTime{sched.NextRun}
		t.Recurring = sched.Recurring
		if sched.Recurring {
			t.RecurrenceInterval = int64(sched.Interval / time.Second)
		} else {
			t.RecurrenceInterval = 0
		}
	}
	cp := t.Clone()
	s.mu.Unlock()

	s.persist(ctx, cp)
	s.log.Info().Str("timer_id", id).Msg("timer updated")
	return cp, nil
}

// Cancel marks a timer cancelled. The loop stops dispatching it from the
// next tick on; a firing already in flight is not interrupted.
func (s *Service) Cancel(ctx context.Context, id string) (*Timer, error) {
	s.mu.Lock()
	t, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.Status = StatusCancelled
	cp := t.Clone()
	s.mu.Unlock()

	s.persist(ctx, cp)
	s.log.Info().Str("timer_id", id).Msg("timer cancelled")
	return cp, nil
}

// Get returns a snapshot of one timer.
func (s *Service) Get(id string) (*Timer, error) {
	s.mu.RLock()
	t, ok := s.timers[id]
	var cp *Timer
	if ok {
		cp = t.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cp, nil
}

// List returns snapshots of all timers, soonest next run first. Terminal
// timers sort after active ones.
func (s *Service) List() []*Timer {
	s.mu.RLock()
	out := make([]*Timer, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Status == StatusActive, out[j].Status == StatusActive
		if ai != aj {
			return ai
		}
		if !out[i].NextRun.Equal(out[j].NextRun.Time) {
			return out[i].NextRun.Before(out[j].NextRun.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PruneTerminal removes cancelled and completed timers whose last relevant
// instant is older than maxAge. Runs outside the scheduling hot path.
func (s *Service) PruneTerminal(ctx context.Context, maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	var victims []string
	for id, t := range s.timers {
		if t.Status == StatusActive {
			continue
		}
		last := t.NextRun.Time
		if last.IsZero() || t.CreatedAt.After(last) {
			last = t.CreatedAt.Time
		}
		if last.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for _, id := range victims {
		if err := s.store.Delete(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("timer_id", id).Msg("prune: store delete failed")
		}
	}
	if len(victims) > 0 {
		s.log.Info().Int("pruned", len(victims)).Msg("terminal timers pruned")
	}
	return len(victims)
}

// persist writes one record through the store. Store failures are logged
// and swallowed: the registry stays authoritative for this process.
func (s *Service) persist(ctx context.Context, t *Timer) {
	if err := s.store.Upsert(ctx, t); err != nil {
		s.log.Error().Err(err).Str("timer_id", t.ID).Msg("persist failed; in-memory state remains authoritative")
	}
}
