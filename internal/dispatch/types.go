package dispatch

import (
	"context"
	"errors"
	"time"

	"notifyd/pkg/notification"
)

var (
	ErrDisabled  = errors.New("dispatch disabled")
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch stopped")
)

// Config controls the queue. Zero values take the defaults applied in Apply.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int // <=0 means unlimited
	// PublishTimeout bounds one Publish call; 0 means no bound.
	PublishTimeout time.Duration

	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int
	PersistDedup    bool
}

// Publisher is what workers hand notifications to. *mediator.Mediator
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, n notification.Notification) error
}

// Keyed notifications carry a dedup key. An empty key is never deduped.
type Keyed interface {
	DedupKey() string
}

// Event is the Data of every dispatch.* bus event.
type Event struct {
	Kind  string    `json:"kind"`
	Key   string    `json:"key,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
