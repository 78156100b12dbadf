package config

import (
	"errors"
	"strings"
	"time"

	"tasksbot/internal/reminder"
	"tasksbot/internal/store"
	"tasksbot/pkg/logx"
)

// Config is the full bot configuration, read from a JSON or YAML file.
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout, a Go duration string.
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	// AsyncQueue > 0 makes log writes go through a background queue of that
	// size instead of blocking the caller.
	AsyncQueue int `json:"async_queue,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the entity store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tasksbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReminderConfig controls the reminder scheduler.
//
// Defaults (when fields are omitted/zero):
//   - interval: "1m"
//   - dispatch_timeout: "15s"
//   - max_concurrent: 8
//   - rate_per_sec: 25
type ReminderConfig struct {
	Enabled         bool   `json:"enabled"`
	Interval        string `json:"interval,omitempty"`
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	MaxConcurrent   int    `json:"max_concurrent,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
}

// Validate checks the parts that must be right before the app starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	if _, err := c.StoreConfig(); err != nil {
		return err
	}
	if _, err := c.ReminderConfig(); err != nil {
		return err
	}
	return nil
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		AsyncQueue: c.Logging.AsyncQueue,
	}
}

func (c *Config) StoreConfig() (store.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func (c *Config) ReminderConfig() (reminder.Config, error) {
	interval, err := ParseDurationOrDefault("reminder.interval", c.Reminder.Interval, time.Minute)
	if err != nil {
		return reminder.Config{}, err
	}
	dispatch, err := ParseDurationOrDefault("reminder.dispatch_timeout", c.Reminder.DispatchTimeout, 15*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:         c.Reminder.Enabled,
		Interval:        interval,
		DispatchTimeout: dispatch,
		MaxConcurrent:   c.Reminder.MaxConcurrent,
		RatePerSec:      c.Reminder.RatePerSec,
	}, nil
}
