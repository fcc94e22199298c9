package timer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Schedule is the result of parsing a time spec: the first due instant and,
// for recurring specs, the gap between firings.
type Schedule struct {
	NextRun   time.Time
	Recurring bool
	Interval  time.Duration
}

// BadTimeSpecError is returned for every parse failure so callers can test
// for the class without matching message text.
type BadTimeSpecError struct {
	Spec string
}

func (e *BadTimeSpecError) Error() string {
	return fmt.Sprintf("cannot parse time spec %q", e.Spec)
}

// Trigger keywords. The grammar accepts both the Russian forms the original
// deployment speaks and their English equivalents.
var (
	relativeKeyword  = regexp.MustCompile(`(?:^|\s)(?:через|in|through)(?:\s|$)`)
	recurringKeyword = regexp.MustCompile(`(?:^|\s)(?:кажд(?:ые|ый|ое|ая)|every)(?:\s|$)`)
	absoluteKeyword  = regexp.MustCompile(`(?:^|\s)(?:в|at)\s+(\d{1,2})(?::(\d{2}))?`)
	dailyKeyword     = regexp.MustCompile(`ежедневно|каждый день|daily|every day`)
)

// unitPatterns map quantity-unit tokens to their length in seconds.
// Months and years are the usual scheduling approximations.
// Word boundaries are ASCII-only in Go regexps, so the Cyrillic forms are
// plain alternations like the original grammar; a leading digit is required
// either way, which keeps single-letter units from matching inside words.
var unitPatterns = []struct {
	re      *regexp.Regexp
	seconds int64
}{
	{regexp.MustCompile(`(\d+)\s*(?:секунд|сек|seconds?|secs?|s\b)`), 1},
	{regexp.MustCompile(`(\d+)\s*(?:минут|мин|minutes?|mins?|m\b)`), 60},
	{regexp.MustCompile(`(\d+)\s*(?:час|ч|hours?|h\b)`), 3600},
	{regexp.MustCompile(`(\d+)\s*(?:день|дня|дней|д|days?|d\b)`), 86400},
	{regexp.MustCompile(`(\d+)\s*(?:недел|weeks?|w\b)`), 604800},
	{regexp.MustCompile(`(\d+)\s*(?:месяц|months?)`), 2592000},
	{regexp.MustCompile(`(\d+)\s*(?:год|года|лет|years?|y\b)`), 31536000},
}

// Parse converts a human-readable schedule into a Schedule relative to now.
//
// Three grammars are tried:
//
//  1. relative ("in 5 minutes", "через 1 день 2 часа") — one-shot, all
//     quantity-unit tokens in the remainder are summed;
//  2. recurring ("every 2 hours", "каждые 10 минут") — same summing, the
//     sum is both the first delay and the interval;
//  3. absolute ("at 15:30", "в 7", optionally with a daily keyword) —
//     today at H:MM:00, rolled forward exactly one day when that instant
//     is not strictly in the future.
//
// A trigger keyword pins the grammar; without one the grammars are tried in
// the order above and the first success wins.
func Parse(spec string, now time.Time) (Schedule, error) {
	lower := strings.ToLower(strings.TrimSpace(spec))
	if lower == "" {
		return Schedule{}, &BadTimeSpecError{Spec: spec}
	}

	switch {
	case relativeKeyword.MatchString(lower):
		return parseRelative(spec, lower, now)
	case recurringKeyword.MatchString(lower):
		return parseRecurring(spec, lower, now)
	case absoluteKeyword.MatchString(lower):
		return parseAbsolute(spec, lower, now)
	}

	// No trigger keyword: guess, in grammar priority order.
	for _, p := range []func(string, string, time.Time) (Schedule, error){
		parseRelative, parseRecurring, parseAbsolute,
	} {
		if sched, err := p(spec, lower, now); err == nil {
			return sched, nil
		}
	}
	return Schedule{}, &BadTimeSpecError{Spec: spec}
}

// sumUnits adds up every quantity-unit token found in s. "1 day 2 hours"
// yields 93600; overlapping forms are resolved by each pattern consuming
// its own matches independently.
func sumUnits(s string) int64 {
	var total int64
	for _, p := range unitPatterns {
		for _, m := range p.re.FindAllStringSubmatch(s, -1) {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			total += n * p.seconds
		}
	}
	return total
}

func parseRelative(spec, lower string, now time.Time) (Schedule, error) {
	rest := lower
	if loc := relativeKeyword.FindStringIndex(lower); loc != nil {
		rest = lower[loc[1]:]
	}
	sec := sumUnits(rest)
	if sec == 0 {
		return Schedule{}, &BadTimeSpecError{Spec: spec}
	}
	return Schedule{NextRun: now.Add(time.Duration(sec) * time.Second)}, nil
}

func parseRecurring(spec, lower string, now time.Time) (Schedule, error) {
	rest := lower
	if loc := recurringKeyword.FindStringIndex(lower); loc != nil {
		rest = lower[loc[1]:]
	}
	sec := sumUnits(rest)
	if sec == 0 {
		return Schedule{}, &BadTimeSpecError{Spec: spec}
	}
	d := time.Duration(sec) * time.Second
	return Schedule{NextRun: now.Add(d), Recurring: true, Interval: d}, nil
}

func parseAbsolute(spec, lower string, now time.Time) (Schedule, error) {
	m := absoluteKeyword.FindStringSubmatch(lower)
	if m == nil {
		return Schedule{}, &BadTimeSpecError{Spec: spec}
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return Schedule{}, &BadTimeSpecError{Spec: spec}
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	// Inclusive comparison: a spec naming the current second is already past.
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}

	if dailyKeyword.MatchString(lower) {
		return Schedule{NextRun: target, Recurring: true, Interval: 24 * time.Hour}, nil
	}
	return Schedule{NextRun: target}, nil
}
