package timer_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timerd/internal/storage"
	"timerd/internal/timer"
)

func TestOneShotFiresOnceAndCompletes(t *testing.T) {
	t.Parallel()
	svc, store, sink, _, clk := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, timer.CreateRequest{Spec: "through 2 minutes", Action: "ping"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Not due yet: a tick is a no-op.
	svc.TickOnce(ctx)
	if sink.count() != 0 {
		t.Fatalf("fired before due: %d", sink.count())
	}

	clk.Advance(2 * time.Minute)
	svc.TickOnce(ctx)

	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want exactly 1", sink.count())
	}
	got, err := svc.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != timer.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	// Further ticks never fire a completed timer.
	clk.Advance(time.Hour)
	svc.TickOnce(ctx)
	if sink.count() != 1 {
		t.Fatalf("completed timer fired again: %d", sink.count())
	}

	persisted, _ := store.LoadAll(ctx)
	if persisted[created.ID].Status != timer.StatusCompleted {
		t.Fatalf("persisted status = %s", persisted[created.ID].Status)
	}
}

func TestRecurringStaysOnGridAfterFiring(t *testing.T) {
	t.Parallel()
	svc, _, sink, _, clk := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, timer.CreateRequest{Spec: "every 10 minutes", Action: "poll feed"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	firstDue := created.NextRun.Time

	clk.Advance(10 * time.Minute)
	svc.TickOnce(ctx)
	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1", sink.count())
	}

	got, _ := svc.Get(created.ID)
	if got.Status != timer.StatusActive {
		t.Fatalf("recurring timer left active state: %s", got.Status)
	}
	if want := firstDue.Add(10 * time.Minute); !got.NextRun.Equal(want) {
		t.Fatalf("next run = %v, want %v", got.NextRun.Time, want)
	}
}

func TestDelayedFiringCollapsesMissedOccurrences(t *testing.T) {
	t.Parallel()
	svc, _, sink, _, clk := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, timer.CreateRequest{Spec: "every 10 minutes", Action: "poll"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	firstDue := created.NextRun.Time

	// The process "stalls" for 35 minutes; three occurrences are overdue,
	// but one firing plus the catch-up resolver handles all of them.
	clk.Advance(45 * time.Minute)
	svc.TickOnce(ctx)

	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1 (no burst)", sink.count())
	}
	got, _ := svc.Get(created.ID)
	next := got.NextRun.Time
	if !next.After(clk.Now()) {
		t.Fatalf("next run %v not in the future", next)
	}
	if rem := next.Sub(firstDue) % (10 * time.Minute); rem != 0 {
		t.Fatalf("next run left the grid: remainder %v", rem)
	}
}

func TestFailingProcedureDoesNotStopRescheduling(t *testing.T) {
	t.Parallel()
	svc, _, sink, _, clk := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, timer.CreateRequest{
		Spec:      "every 5 minutes",
		Action:    "still delegated",
		Procedure: "run false",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(5 * time.Minute)
	svc.TickOnce(ctx)

	// The broken payload is logged and suppressed: the action still went
	// out and the timer is still active with a future occurrence.
	if sink.count() != 1 {
		t.Fatalf("sink calls = %d, want 1", sink.count())
	}
	got, _ := svc.Get(created.ID)
	if got.Status != timer.StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if !got.NextRun.After(clk.Now()) {
		t.Fatalf("next run %v not rescheduled", got.NextRun.Time)
	}
}

func TestSinkFailureFallsBackToInbox(t *testing.T) {
	t.Parallel()
	svc, _, sink, inbox, clk := newTestService(t)
	sink.fail = true
	ctx := context.Background()

	if _, err := svc.Create(ctx, timer.CreateRequest{Spec: "in 1 minute", Action: "ping"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(time.Minute)
	svc.TickOnce(ctx)

	if inbox.count() != 1 {
		t.Fatalf("inbox deliveries = %d, want 1", inbox.count())
	}
}

func TestActionWithoutSinkUsesInbox(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	inbox := &countingInbox{}
	clk := newFakeClock(testEpoch)
	svc := timer.New(store, nil, inbox, zerolog.Nop(), timer.Options{Now: clk.Now})
	ctx := context.Background()

	if _, err := svc.Create(ctx, timer.CreateRequest{Spec: "in 1 minute", Action: "wake up", Name: "rooster"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(time.Minute)
	svc.TickOnce(ctx)

	inbox.mu.Lock()
	defer inbox.mu.Unlock()
	if len(inbox.msgs) != 1 {
		t.Fatalf("inbox deliveries = %d, want 1", len(inbox.msgs))
	}
	want := `Timer "rooster" fired: wake up`
	if inbox.msgs[0] != want {
		t.Fatalf("delivery = %q, want %q", inbox.msgs[0], want)
	}
}

func TestStartCatchesUpStaleRecurringTimers(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	clk := newFakeClock(testEpoch)
	ctx := context.Background()

	// A recurring timer persisted by a previous process run, now three
	// days stale, and a stale one-shot that must fire immediately instead
	// of being skipped.
	stale := &timer.Timer{
		ID:                 "stale001",
		Name:               "hourly sync",
		TimeSpec:           "every 1 hour",
		NextRun:            timer.UnixTime{Time: testEpoch.Add(-72 * time.Hour)},
		Recurring:          true,
		RecurrenceInterval: 3600,
		CreatedAt:          timer.UnixTime{Time: testEpoch.Add(-100 * time.Hour)},
		Status:             timer.StatusActive,
	}
	oneShot := &timer.Timer{
		ID:        "once0001",
		Name:      "overdue reminder",
		TimeSpec:  "in 5 minutes",
		NextRun:   timer.UnixTime{Time: testEpoch.Add(-time.Hour)},
		CreatedAt: timer.UnixTime{Time: testEpoch.Add(-2 * time.Hour)},
		Status:    timer.StatusActive,
	}
	if err := store.Upsert(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, oneShot); err != nil {
		t.Fatal(err)
	}

	sink := &countingSink{}
	svc := timer.New(store, sink, &countingInbox{}, zerolog.Nop(), timer.Options{Now: clk.Now})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	got, err := svc.Get("stale001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	next := got.NextRun.Time
	if !next.After(clk.Now()) {
		t.Fatalf("stale recurring timer not caught up: next %v", next)
	}
	if rem := next.Sub(stale.NextRun.Time) % time.Hour; rem != 0 {
		t.Fatalf("catch-up left the grid: remainder %v", rem)
	}

	// The overdue one-shot is untouched by catch-up; the next scan fires it.
	once, _ := svc.Get("once0001")
	if !once.NextRun.Equal(oneShot.NextRun.Time) {
		t.Fatalf("one-shot next run moved to %v", once.NextRun.Time)
	}
	svc.TickOnce(ctx)
	if sink.count() != 1 {
		t.Fatalf("overdue one-shot did not fire exactly once: %d", sink.count())
	}
}
