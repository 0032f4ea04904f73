package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/dispatch"
	"notifyd/internal/metrics"
	"notifyd/internal/schedule"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
	"notifyd/pkg/notification"
)

// RootKind is an ancestor of every scheduled envelope, so a handler
// accepting it sees everything the daemon emits.
const RootKind notification.Kind = "notifyd"

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := config.DefaultDispatch()
	if cfg != nil && cfg.Dispatch != nil {
		d = *cfg.Dispatch
	}
	window, err := config.ParseDurationField("dispatch.dedup_window", d.DedupWindow)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:         d.Enabled,
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		DedupWindow:     window,
		DedupMaxEntries: d.DedupMaxEntries,
		PersistDedup:    d.PersistDedup,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	m := cfg.Metrics
	rt, err := config.ParseDurationField("metrics.read_timeout", m.ReadTimeout)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Enabled:     m.Enabled,
		Addr:        m.Addr,
		Path:        m.Path,
		Token:       m.Token,
		Pprof:       m.Pprof,
		ReadTimeout: rt,
	}, nil
}

// mapSchedules converts schedule blocks and tags each with RootKind.
func mapSchedules(cfg *config.Config) []schedule.Def {
	out := make([]schedule.Def, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		parents := make([]notification.Kind, 0, len(s.Parents)+1)
		for _, p := range s.Parents {
			parents = append(parents, notification.Kind(strings.TrimSpace(p)))
		}
		parents = append(parents, RootKind)
		out = append(out, schedule.Def{
			Name:    s.Name,
			Spec:    s.Spec,
			Kind:    notification.Kind(strings.TrimSpace(s.Kind)),
			Parents: parents,
			Key:     s.Key,
			Payload: s.Payload,
		})
	}
	return out
}
