package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Validate checks fields that the strict decoder cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("metrics.read_timeout", cfg.Metrics.ReadTimeout); err != nil {
		return err
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if d := cfg.Dispatch; d != nil {
		if d.Workers < 0 || d.QueueSize < 0 || d.RatePerSec < 0 || d.DedupMaxEntries < 0 {
			return fmt.Errorf("dispatch: numeric fields must be >= 0")
		}
		if _, err := ParseDurationField("dispatch.dedup_window", d.DedupWindow); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(cfg.Handlers))
	for name := range cfg.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := cfg.Handlers[name]
		if _, err := ParsePriority(h.Priority); err != nil {
			return fmt.Errorf("handlers.%s.priority: %w", name, err)
		}
		if _, err := ParseDurationField("handlers."+name+".timeout", h.Timeout); err != nil {
			return err
		}
		if h.RetryMax < 0 || h.RatePerSec < 0 {
			return fmt.Errorf("handlers.%s: retry_max and rate_per_sec must be >= 0", name)
		}
	}

	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: invalid %q: %w", tz, err)
		}
	}

	seen := map[string]struct{}{}
	for i, s := range cfg.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("schedules[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(s.Spec) == "" {
			return fmt.Errorf("schedules.%s.spec is required", name)
		}
		if strings.TrimSpace(s.Kind) == "" {
			return fmt.Errorf("schedules.%s.kind is required", name)
		}
	}
	return nil
}

// ParsePriority parses a decimal priority. Empty means zero.
func ParsePriority(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", raw, err)
	}
	return d, nil
}
