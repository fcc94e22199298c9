package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"timerd/internal/timer"
)

// Command surface. Every outcome, success or failure, is rendered as a
// plain reply string; errors never propagate past the handler.
//
//	/timer_create <spec> | <name> | <action>   (procedure on following lines)
//	/timer_edit <id> spec=... | name=... | action=...
//	/timer_cancel <id>
//	/timer <id>
//	/timers
//	/tasks
func (a *Adapter) registerHandlers() {
	a.bot.Handle("/timer_create", a.guard(a.handleCreate))
	a.bot.Handle("/timer_edit", a.guard(a.handleEdit))
	a.bot.Handle("/timer_cancel", a.guard(a.handleCancel))
	a.bot.Handle("/timer", a.guard(a.handleDescribe))
	a.bot.Handle("/timers", a.guard(a.handleList))
	a.bot.Handle("/tasks", a.guard(a.handleTasks))
}

func (a *Adapter) guard(h func(tele.Context) string) func(tele.Context) error {
	return func(c tele.Context) error {
		if !a.fromOwnChat(c) {
			return nil
		}
		return c.Reply(h(c))
	}
}

func (a *Adapter) handleCreate(c tele.Context) string {
	head, procedure := splitProcedure(c.Message().Payload)
	if strings.TrimSpace(head) == "" {
		return "Usage: /timer_create <spec> | <name> | <action>\nAdd procedure lines below the first line."
	}
	parts := splitFields(head)
	req := timer.CreateRequest{Spec: parts[0], Procedure: procedure}
	if len(parts) > 1 {
		req.Name = parts[1]
	}
	if len(parts) > 2 {
		req.Action = parts[2]
	}

	t, err := a.timers.Create(context.Background(), req)
	if err != nil {
		return "Could not create timer: " + err.Error()
	}
	if t.Recurring {
		return fmt.Sprintf("Recurring timer %q (ID: %s) created. First run at %s, then %s.",
			t.Name, t.ID, formatInstant(t.NextRun.Time), humanInterval(t.Interval()))
	}
	return fmt.Sprintf("One-shot timer %q (ID: %s) created. Fires at %s.",
		t.Name, t.ID, formatInstant(t.NextRun.Time))
}

func (a *Adapter) handleEdit(c tele.Context) string {
	head, procedure := splitProcedure(c.Message().Payload)
	fields := splitFields(head)
	if len(fields) == 0 || fields[0] == "" {
		return "Usage: /timer_edit <id> spec=... | name=... | action=..."
	}
	idAndFirst := strings.SplitN(fields[0], " ", 2)
	id := strings.TrimSpace(idAndFirst[0])
	if len(idAndFirst) > 1 {
		fields[0] = strings.TrimSpace(idAndFirst[1])
	} else {
		fields = fields[1:]
	}

	var req timer.EditRequest
	for _, f := range fields {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return fmt.Sprintf("Cannot parse %q; expected key=value.", f)
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "spec":
			req.Spec = &val
		case "name":
			req.Name = &val
		case "action":
			req.Action = &val
		default:
			return fmt.Sprintf("Unknown field %q; editable fields are spec, name, action.", strings.TrimSpace(key))
		}
	}
	if procedure != "" {
		req.Procedure = &procedure
	}

	t, err := a.timers.Edit(context.Background(), id, req)
	if err != nil {
		if errors.Is(err, timer.ErrNotFound) {
			return fmt.Sprintf("Timer with ID %s not found.", id)
		}
		return "Could not update timer: " + err.Error()
	}
	return fmt.Sprintf("Timer %q (ID: %s) updated. Next run at %s.", t.Name, t.ID, formatInstant(t.NextRun.Time))
}

func (a *Adapter) handleCancel(c tele.Context) string {
	id := strings.TrimSpace(c.Message().Payload)
	if id == "" {
		return "Usage: /timer_cancel <id>"
	}
	t, err := a.timers.Cancel(context.Background(), id)
	if err != nil {
		if errors.Is(err, timer.ErrNotFound) {
			return fmt.Sprintf("Timer with ID %s not found.", id)
		}
		return "Could not cancel timer: " + err.Error()
	}
	return fmt.Sprintf("Timer %q (ID: %s) cancelled.", t.Name, t.ID)
}

func (a *Adapter) handleList(tele.Context) string {
	var active []*timer.Timer
	for _, t := range a.timers.List() {
		if t.Status == timer.StatusActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return "No active timers."
	}

	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "Active timers (%d):\n", len(active))
	for _, t := range active {
		kind := "one-shot"
		if t.Recurring {
			kind = "recurring"
		}
		fmt.Fprintf(&b, "\nID: %s | %s | %s\n", t.ID, t.Name, kind)
		fmt.Fprintf(&b, "  next run: %s (%s)\n", formatInstant(t.NextRun.Time), timeLeft(t.NextRun.Time, now))
		fmt.Fprintf(&b, "  action: %s | procedure: %s\n", yesNo(t.Action != ""), yesNo(t.Procedure != ""))
	}
	return b.String()
}

func (a *Adapter) handleDescribe(c tele.Context) string {
	id := strings.TrimSpace(c.Message().Payload)
	if id == "" {
		return "Usage: /timer <id>"
	}
	t, err := a.timers.Get(id)
	if err != nil {
		return fmt.Sprintf("Timer with ID %s not found.", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Timer %s\n", t.ID)
	fmt.Fprintf(&b, "name: %s\n", t.Name)
	fmt.Fprintf(&b, "status: %s\n", t.Status)
	fmt.Fprintf(&b, "created: %s\n", formatInstant(t.CreatedAt.Time))
	fmt.Fprintf(&b, "next run: %s\n", formatInstant(t.NextRun.Time))
	fmt.Fprintf(&b, "time spec: %s\n", t.TimeSpec)
	if t.Recurring {
		fmt.Fprintf(&b, "repeats: %s\n", humanInterval(t.Interval()))
	} else {
		b.WriteString("repeats: no\n")
	}
	if t.Action != "" {
		fmt.Fprintf(&b, "\naction:\n%s\n", t.Action)
	}
	if t.Procedure != "" {
		fmt.Fprintf(&b, "\nprocedure:\n%s\n", t.Procedure)
	}
	return b.String()
}

func (a *Adapter) handleTasks(tele.Context) string {
	if a.tasks == nil {
		return "Task queue is not configured."
	}
	items, err := a.tasks.Recent(context.Background(), 20)
	if err != nil {
		return "Could not read tasks: " + err.Error()
	}
	if len(items) == 0 {
		return "No tasks queued."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent tasks (%d):\n", len(items))
	for _, t := range items {
		fmt.Fprintf(&b, "%s  %s  %s\n", t.ID, formatInstant(t.CreatedAt), t.Description)
	}
	return b.String()
}

// splitProcedure cuts a command payload into its first line and the rest;
// everything after the first newline is the procedure source.
func splitProcedure(payload string) (head, procedure string) {
	head, procedure, _ = strings.Cut(payload, "\n")
	return head, strings.TrimRight(procedure, "\n")
}

// splitFields splits "a | b | c" into trimmed fields.
func splitFields(s string) []string {
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func formatInstant(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// timeLeft renders the remaining wait like "1d 2h 3m 4s", dropping leading
// zero units.
func timeLeft(next, now time.Time) string {
	d := next.Sub(now)
	if d < 0 {
		return "due now"
	}
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	seconds := int(d/time.Second) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

// humanInterval renders a recurrence interval in the largest unit that
// divides it cleanly enough to read.
func humanInterval(d time.Duration) string {
	sec := int64(d / time.Second)
	switch {
	case sec < 60:
		return fmt.Sprintf("every %d seconds", sec)
	case sec < 3600:
		return fmt.Sprintf("every %d minutes", sec/60)
	case sec < 86400:
		return fmt.Sprintf("every %d hours", sec/3600)
	case sec < 604800:
		return fmt.Sprintf("every %d days", sec/86400)
	case sec < 2592000:
		return fmt.Sprintf("every %d weeks", sec/604800)
	case sec < 31536000:
		return fmt.Sprintf("every %d months", sec/2592000)
	default:
		return fmt.Sprintf("every %d years", sec/31536000)
	}
}
