package timer

import (
	"errors"
	"testing"
	"time"
)

var parseNow = time.Date(2025, 6, 10, 14, 0, 0, 0, time.Local)

func TestParseRelative(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec string
		want time.Duration
	}{
		{name: "minutes en", spec: "in 5 minutes", want: 5 * time.Minute},
		{name: "minutes ru", spec: "через 5 минут", want: 5 * time.Minute},
		{name: "seconds short", spec: "in 30s", want: 30 * time.Second},
		{name: "hours", spec: "through 2 hours", want: 2 * time.Hour},
		{name: "sums all units", spec: "in 1 day 2 hours", want: 26 * time.Hour},
		{name: "sums ru units", spec: "через 1 день 2 часа 30 минут", want: 26*time.Hour + 30*time.Minute},
		{name: "weeks", spec: "in 2 weeks", want: 2 * 7 * 24 * time.Hour},
		{name: "months approx", spec: "in 1 month", want: 2592000 * time.Second},
		{name: "years approx", spec: "через 1 год", want: 31536000 * time.Second},
		{name: "no keyword guesses relative", spec: "45 seconds", want: 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, parseNow)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.spec, err)
			}
			if got.Recurring {
				t.Fatalf("Parse(%q) recurring = true, want one-shot", tt.spec)
			}
			if d := got.NextRun.Sub(parseNow); d != tt.want {
				t.Fatalf("Parse(%q) delay = %v, want %v", tt.spec, d, tt.want)
			}
		})
	}
}

func TestParseRecurring(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec string
		want time.Duration
	}{
		{name: "minutes en", spec: "every 10 minutes", want: 10 * time.Minute},
		{name: "minutes ru", spec: "каждые 10 минут", want: 10 * time.Minute},
		{name: "hours ru masc", spec: "каждый 1 час", want: time.Hour},
		{name: "sums units", spec: "every 1 hour 30 minutes", want: 90 * time.Minute},
		{name: "days", spec: "каждые 2 дня", want: 48 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, parseNow)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.spec, err)
			}
			if !got.Recurring {
				t.Fatalf("Parse(%q) recurring = false, want true", tt.spec)
			}
			if got.Interval != tt.want {
				t.Fatalf("Parse(%q) interval = %v, want %v", tt.spec, got.Interval, tt.want)
			}
			if d := got.NextRun.Sub(parseNow); d != tt.want {
				t.Fatalf("Parse(%q) first delay = %v, want interval %v", tt.spec, d, tt.want)
			}
		})
	}
}

func TestParseAbsolute(t *testing.T) {
	t.Parallel()
	day := func(d, h, m int) time.Time {
		return time.Date(2025, 6, 10+d, h, m, 0, 0, time.Local)
	}

	tests := []struct {
		name      string
		spec      string
		now       time.Time
		want      time.Time
		recurring bool
	}{
		{name: "later today", spec: "at 15:30", now: day(0, 14, 0), want: day(0, 15, 30)},
		{name: "already past rolls one day", spec: "at 15:30", now: day(0, 16, 0), want: day(1, 15, 30)},
		{name: "exact instant counts as past", spec: "at 15:30", now: day(0, 15, 30), want: day(1, 15, 30)},
		{name: "hour only defaults minutes", spec: "в 7", now: day(0, 14, 0), want: day(1, 7, 0)},
		{name: "daily en", spec: "daily at 9:00", now: day(0, 14, 0), want: day(1, 9, 0), recurring: true},
		{name: "daily ru", spec: "в 9:00 ежедневно", now: day(0, 8, 0), want: day(0, 9, 0), recurring: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, tt.now)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.spec, err)
			}
			if !got.NextRun.Equal(tt.want) {
				t.Fatalf("Parse(%q) next = %v, want %v", tt.spec, got.NextRun, tt.want)
			}
			if got.Recurring != tt.recurring {
				t.Fatalf("Parse(%q) recurring = %v, want %v", tt.spec, got.Recurring, tt.recurring)
			}
			if tt.recurring && got.Interval != 24*time.Hour {
				t.Fatalf("Parse(%q) interval = %v, want 24h", tt.spec, got.Interval)
			}
		})
	}
}

func TestParseFailures(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{
		"",
		"nonsense",
		"in soon",           // relative keyword, no unit tokens
		"every day at 9",    // recurring keyword pins grammar 2, which has no unit token
		"каждые пять минут", // spelled-out quantity
		"at 25:00",
	} {
		if _, err := Parse(spec, parseNow); err == nil {
			t.Errorf("Parse(%q) = nil error, want failure", spec)
		} else {
			var bad *BadTimeSpecError
			if !errors.As(err, &bad) {
				t.Errorf("Parse(%q) error type = %T, want *BadTimeSpecError", spec, err)
			}
		}
	}
}
