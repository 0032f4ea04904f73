package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"notifyd/pkg/logx"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON lines journal + dedup snapshot
//   - "sqlite": SQLite database file
//
// An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

// Delivery records one handler invocation.
type Delivery struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Handler string    `json:"handler"`
	Kind    string    `json:"kind"`
	Key     string    `json:"key,omitempty"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}

// Store is the persistence API used by the daemon.
type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	// RecentDeliveries returns up to limit deliveries, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
