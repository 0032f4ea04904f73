package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Metrics MetricsConfig  `json:"metrics"`
	Storage *StorageConfig `json:"storage,omitempty"`

	// Dispatch controls the async delivery queue. If omitted it defaults
	// to enabled with runtime defaults.
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`

	// Handlers is keyed by the registered handler name ("log", "bus").
	Handlers  map[string]HandlerConfig `json:"handlers,omitempty"`
	Schedules []ScheduleConfig         `json:"schedules,omitempty"`

	// Timezone is the IANA zone cron schedules run in; empty means local.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9464"). A non-loopback
// address needs a token.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Path    string `json:"path,omitempty"`  // default: "/metrics"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./var/notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig controls the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 512
//   - rate_per_sec: 0 (unlimited)
//   - dedup_window: "0s" (disabled)
//   - dedup_max_entries: 2000
type DispatchConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// HandlerConfig tunes one registered handler.
//
// Priority and Level are applied on every reload. The other fields are read
// at startup.
type HandlerConfig struct {
	// Enabled is a pointer so an omitted key keeps the handler on.
	Enabled *bool `json:"enabled,omitempty"`

	// Kinds limits which notification kinds the handler accepts.
	// Empty means the handler's defaults.
	Kinds []string `json:"kinds,omitempty"`

	// Priority is a decimal string (e.g. "10", "2.5"). Higher runs first
	// within the same level.
	Priority string `json:"priority,omitempty"`
	Level    int    `json:"level,omitempty"`

	Timeout    string `json:"timeout,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// IsEnabled reports whether the handler should be registered.
func (h HandlerConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// ScheduleConfig emits an envelope on a schedule.
//
// Spec accepts cron expressions, "interval:<dur>", "every:<dur>", a bare Go
// duration or an "HH:MM" interval.
type ScheduleConfig struct {
	Name    string         `json:"name"`
	Spec    string         `json:"spec"`
	Kind    string         `json:"kind"`
	Parents []string       `json:"parents,omitempty"`
	Key     string         `json:"key,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos inside a handler block are
// caught during reload instead of being silently ignored.
func (h *HandlerConfig) UnmarshalJSON(b []byte) error {
	type plain HandlerConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t plain
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*h = HandlerConfig(t)
	return nil
}
