package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timerd/internal/kit"
	"timerd/internal/timer"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := openSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "timers.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteTimerRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	next := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	created := time.Date(2025, 6, 10, 12, 30, 15, 0, time.UTC)
	rec := &timer.Timer{
		ID:                 "beef0001",
		Name:               "nightly backup",
		TimeSpec:           "every 1 day",
		NextRun:            timer.UnixTime{Time: next},
		Recurring:          true,
		RecurrenceInterval: 86400,
		Action:             "run the backup",
		Procedure:          "log starting\nnotify backup kicked off",
		CreatedAt:          timer.UnixTime{Time: created},
		Status:             timer.StatusActive,
	}
	if err := st.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	all, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	got, ok := all["beef0001"]
	if !ok {
		t.Fatalf("record missing, have %d records", len(all))
	}
	if got.Name != rec.Name || got.TimeSpec != rec.TimeSpec || got.Action != rec.Action ||
		got.Procedure != rec.Procedure || got.Status != rec.Status {
		t.Fatalf("text fields mangled: %+v", got)
	}
	if !got.Recurring || got.RecurrenceInterval != 86400 {
		t.Fatalf("recurrence lost: %+v", got)
	}
	// Epoch seconds survive a store round trip at sub-millisecond precision.
	if d := got.NextRun.Sub(next); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("next_run drift %v", d)
	}
	if d := got.CreatedAt.Sub(created); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("created_at drift %v", d)
	}

	// Upsert with an existing id replaces in place.
	rec.Status = timer.StatusCompleted
	rec.NextRun = timer.UnixTime{Time: next.Add(24 * time.Hour)}
	if err := st.Upsert(ctx, rec); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	all, _ = st.LoadAll(ctx)
	if len(all) != 1 {
		t.Fatalf("record count = %d after re-upsert, want 1", len(all))
	}
	if all["beef0001"].Status != timer.StatusCompleted {
		t.Fatalf("status = %s after re-upsert", all["beef0001"].Status)
	}

	if err := st.Delete(ctx, "beef0001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, _ = st.LoadAll(ctx)
	if len(all) != 0 {
		t.Fatalf("record count = %d after delete", len(all))
	}
}

func TestSQLiteTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"task-a", "task-b", "task-c"} {
		task := kit.Task{ID: id, Description: "do " + id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := st.AppendTask(ctx, task); err != nil {
			t.Fatalf("AppendTask: %v", err)
		}
	}

	got, err := st.ListTasks(ctx, 2)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 2 || got[0].ID != "task-b" || got[1].ID != "task-c" {
		t.Fatalf("ListTasks(2) = %+v, want newest two oldest-first", got)
	}

	all, err := st.ListTasks(ctx, 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 || all[0].ID != "task-a" {
		t.Fatalf("ListTasks(0) = %+v", all)
	}
}
