// Package config loads and watches the daemon configuration. JSON and YAML
// are both accepted; YAML is coerced to JSON so one strict decoder covers
// both formats.
package config

import (
	"fmt"
	"strings"
	"time"

	"timerd/internal/storage"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   storage.Config  `json:"storage"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Retention RetentionConfig `json:"retention,omitempty"`
}

type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level,omitempty"`
	// File, when set, receives the JSON log stream in addition to the
	// console writer.
	File string `json:"file,omitempty"`
}

type SchedulerConfig struct {
	// Tick is the scan period as a Go duration string. Default "1s".
	Tick string `json:"tick,omitempty"`
}

type TelegramConfig struct {
	// Token empty disables the adapter; the inbox then falls back to the
	// log-only delivery path.
	Token string `json:"token,omitempty"`
	// ChatID is the chat that receives inbox deliveries and hosts the
	// timer commands.
	ChatID int64 `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outgoing messages. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RetentionConfig controls pruning of terminal timer records. Terminal
// states accumulate forever otherwise, so the sweep defaults to on.
type RetentionConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// MaxAge is a Go duration string; terminal records older than this are
	// removed. Default "720h" (30 days).
	MaxAge string `json:"max_age,omitempty"`
	// Schedule is a cron spec for the sweep. Default "@daily".
	Schedule string `json:"schedule,omitempty"`
}

func (c *SchedulerConfig) TickDuration() (time.Duration, error) {
	return parseDurationField("scheduler.tick", c.Tick, time.Second)
}

func (c *TelegramConfig) PollTimeoutDuration() (time.Duration, error) {
	return parseDurationField("telegram.poll_timeout", c.PollTimeout, 10*time.Second)
}

func (c *RetentionConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *RetentionConfig) MaxAgeDuration() (time.Duration, error) {
	return parseDurationField("retention.max_age", c.MaxAge, 720*time.Hour)
}

func (c *RetentionConfig) CronSchedule() string {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		return s
	}
	return "@daily"
}

// Validate checks everything that can fail without touching the network.
func (c *Config) Validate() error {
	if _, err := c.Scheduler.TickDuration(); err != nil {
		return err
	}
	if _, err := c.Telegram.PollTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Retention.MaxAgeDuration(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when a token is set")
	}
	return nil
}

func parseDurationField(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
