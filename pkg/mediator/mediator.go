package mediator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"notifyd/pkg/logx"
	"notifyd/pkg/notification"

	"github.com/cockroachdb/errors"
)

// Mediator holds handler registrations and publishes notifications to them.
// It is safe for concurrent use.
type Mediator struct {
	mu      sync.RWMutex
	entries []Entry

	log           logx.Logger
	order         func(entries []Entry)
	observers     []Observer
	recoverPanics bool
}

func New(opts ...Option) *Mediator {
	m := &Mediator{}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

// Publish delivers n to every eligible handler, one after another.
//
// A nil n is rejected with ErrNilNotification. Dispatch stops at the first
// handler error, which is returned unchanged. Once ctx is done no further
// handlers are started and ctx.Err() is returned; a handler already running
// decides for itself whether to observe ctx.
func (m *Mediator) Publish(ctx context.Context, n notification.Notification) error {
	if isNil(n) {
		return ErrNilNotification
	}
	return m.publish(ctx, n, m.Resolve(n))
}

// PublishAsync is Publish returning a Completion. When every eligible handler
// is inline the work happens before PublishAsync returns and the Completion is
// already resolved; otherwise it runs on a new goroutine.
func (m *Mediator) PublishAsync(ctx context.Context, n notification.Notification) *notification.Completion {
	if isNil(n) {
		return notification.Completed(ErrNilNotification)
	}
	entries := m.Resolve(n)
	for _, e := range entries {
		if !e.Inline {
			return notification.Go(func() error { return m.publish(ctx, n, entries) })
		}
	}
	return notification.Completed(m.publish(ctx, n, entries))
}

func (m *Mediator) publish(ctx context.Context, n notification.Notification, entries []Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(entries) == 0 {
		m.log.Trace("no handlers", logx.Stringer("kind", n.Kind()))
		return nil
	}
	if m.order != nil {
		m.order(entries)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := m.invoke(ctx, e, n)
		took := time.Since(start)
		for _, o := range m.observers {
			o.OnHandled(ctx, e, n, took, err)
		}
		if err != nil {
			m.log.Debug("handler failed", append(m.entryFields(e), logx.Stringer("kind", n.Kind()), logx.Duration("took", took), logx.Err(err))...)
			return err
		}
	}
	return nil
}

func (m *Mediator) invoke(ctx context.Context, e Entry, n notification.Notification) (err error) {
	if m.recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("handler panicked", append(m.entryFields(e), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))...)
				err = errors.Mark(errors.Newf("handler %q panicked: %s", e.Name, fmt.Sprint(r)), ErrHandlerPanic)
			}
		}()
	}
	return e.invoke(ctx, n)
}

func (m *Mediator) entryFields(e Entry) []logx.Field {
	return []logx.Field{
		logx.String("handler", e.Name),
		logx.Any("kinds", e.Kinds),
		logx.Stringer("priority", e.Ordering.Priority()),
		logx.Int("level", e.Ordering.Level()),
	}
}
