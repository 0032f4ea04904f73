package config

import (
	"reflect"
	"sort"
	"strings"

	"notifyd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of handlers whose
// block changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Never log the token itself.
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	// Nil storage means disabled.
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	// Nil dispatch means runtime defaults.
	oldD, newD := derefDispatch(oldCfg.Dispatch), derefDispatch(newCfg.Dispatch)
	if oldD != newD {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Bool("dispatch.enabled", newD.Enabled),
			logx.Int("dispatch.workers", newD.Workers),
			logx.Int("dispatch.queue_size", newD.QueueSize),
			logx.Int("dispatch.rate_per_sec", newD.RatePerSec),
			logx.Bool("dispatch.persist_dedup", newD.PersistDedup),
		)
	}

	handlersChanged := diffHandlers(oldCfg.Handlers, newCfg.Handlers)
	if len(handlersChanged) > 0 {
		changed = append(changed, "handlers")
		attrs = append(attrs, logx.Int("handlers.changed_count", len(handlersChanged)))
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) || oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}

	sort.Strings(changed)
	return changed, attrs, handlersChanged
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// DefaultDispatch is what an omitted dispatch block resolves to.
func DefaultDispatch() DispatchConfig {
	return DispatchConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		DedupMaxEntries: 2000,
	}
}

func derefDispatch(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DefaultDispatch()
	}
	return *d
}

func diffHandlers(oldM, newM map[string]HandlerConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, okO := oldM[name]
		n, okN := newM[name]
		if okO != okN || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
