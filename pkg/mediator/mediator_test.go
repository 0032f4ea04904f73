package mediator

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"notifyd/pkg/notification"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// systemEvent is the general notification; diskFull and heartbeat are
// specific ones that count as "system" too.
type systemEvent interface {
	notification.Notification
	Host() string
}

type diskFull struct{ host string }

func (d diskFull) Kind() notification.Kind        { return "disk.full" }
func (d diskFull) Ancestors() []notification.Kind { return []notification.Kind{"system"} }
func (d diskFull) Host() string                   { return d.host }

type heartbeat struct{ host string }

func (*heartbeat) Kind() notification.Kind        { return "heartbeat" }
func (*heartbeat) Ancestors() []notification.Kind { return []notification.Kind{"system"} }
func (h *heartbeat) Host() string                 { return h.host }

type unrelated struct{}

func (unrelated) Kind() notification.Kind { return "unrelated" }

type journal struct {
	mu    sync.Mutex
	lines []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.lines = append(j.lines, s)
	j.mu.Unlock()
}

func (j *journal) get() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.lines...)
}

func TestRegisterDerivesKindFromType(t *testing.T) {
	m := New()
	e, err := Register[diskFull](m, "disk", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { return nil }))
	require.NoError(t, err)
	assert.Equal(t, []notification.Kind{"disk.full"}, e.Kinds)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Inline)

	e2, err := Register[*heartbeat](m, "hb", notification.HandlerFunc[*heartbeat](func(context.Context, *heartbeat) error { return nil }))
	require.NoError(t, err)
	assert.Equal(t, []notification.Kind{"heartbeat"}, e2.Kinds)
}

func TestRegisterInterfaceTypeNeedsKinds(t *testing.T) {
	m := New()
	h := notification.HandlerFunc[systemEvent](func(context.Context, systemEvent) error { return nil })

	_, err := Register[systemEvent](m, "sys", h)
	assert.True(t, errors.Is(err, ErrNoKinds))

	e, err := Register[systemEvent](m, "sys", h, WithKinds("system", " ", "system"))
	require.NoError(t, err)
	assert.Equal(t, []notification.Kind{"system"}, e.Kinds)
}

func TestRegisterRejectsNilAndDuplicates(t *testing.T) {
	m := New()
	_, err := Register[diskFull](m, "x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	var fn notification.HandlerFunc[diskFull]
	_, err = Register[diskFull](m, "x", fn)
	assert.ErrorIs(t, err, ErrNilHandler)

	ok := notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { return nil })
	_, err = Register[diskFull](m, "x", ok)
	require.NoError(t, err)
	_, err = Register[diskFull](m, "x", ok)
	assert.True(t, errors.Is(err, ErrDuplicateName))
}

func TestRejectedRegistrationKeepsOrdering(t *testing.T) {
	m := New()
	h := notification.NewSyncHandler[diskFull](notification.SyncFunc[diskFull](func(diskFull) error { return nil }))
	h.SetLevel(1)
	h.SetPriority(decimal.NewFromInt(5))
	MustRegister[diskFull](m, "dup", h)

	_, err := Register[diskFull](m, "dup", h, WithLevel(99), WithPriority(decimal.NewFromInt(-7)))
	require.ErrorIs(t, err, ErrDuplicateName)
	assert.Equal(t, 1, h.Level())
	assert.True(t, h.Priority().Equal(decimal.NewFromInt(5)), h.Priority().String())

	e, ok := m.Lookup("dup")
	require.True(t, ok)
	assert.Equal(t, 1, e.Ordering.Level())
}

func TestPublishGeneralHandlerServesSpecificNotifications(t *testing.T) {
	m := New()
	j := &journal{}
	MustRegister[systemEvent](m, "system", notification.HandlerFunc[systemEvent](func(_ context.Context, n systemEvent) error {
		j.add("system:" + string(n.Kind()) + "@" + n.Host())
		return nil
	}), WithKinds("system"))
	MustRegister[diskFull](m, "disk", notification.HandlerFunc[diskFull](func(_ context.Context, n diskFull) error {
		j.add("disk@" + n.host)
		return nil
	}))

	require.NoError(t, m.Publish(context.Background(), diskFull{host: "a"}))
	require.NoError(t, m.Publish(context.Background(), &heartbeat{host: "b"}))
	require.NoError(t, m.Publish(context.Background(), unrelated{}))

	assert.Equal(t, []string{"system:disk.full@a", "disk@a", "system:heartbeat@b"}, j.get())
}

func TestPublishStopsAtFirstErrorUnchanged(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	j := &journal{}
	MustRegister[diskFull](m, "first", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error {
		j.add("first")
		return boom
	}))
	MustRegister[diskFull](m, "second", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error {
		j.add("second")
		return nil
	}))

	err := m.Publish(context.Background(), diskFull{})
	assert.Same(t, boom, err)
	assert.Equal(t, []string{"first"}, j.get())
}

func TestPublishRejectsNil(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.Publish(context.Background(), nil), ErrNilNotification)
	var hb *heartbeat
	assert.ErrorIs(t, m.Publish(context.Background(), hb), ErrNilNotification)
	assert.ErrorIs(t, m.PublishAsync(context.Background(), nil).Err(), ErrNilNotification)
}

func TestPublishTypeMismatch(t *testing.T) {
	m := New()
	// Registered for "disk.full" by hand but typed for heartbeat.
	MustRegister[*heartbeat](m, "wrong", notification.HandlerFunc[*heartbeat](func(context.Context, *heartbeat) error { return nil }), WithKinds("disk.full"))
	err := m.Publish(context.Background(), diskFull{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestPublishCanceledContextStartsNothing(t *testing.T) {
	m := New()
	j := &journal{}
	MustRegister[diskFull](m, "sync", notification.NewSyncHandler[diskFull](notification.SyncFunc[diskFull](func(diskFull) error {
		j.add("ran")
		return nil
	})))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Publish(ctx, diskFull{}), context.Canceled)
	assert.Empty(t, j.get())
}

func TestPublishAsyncInlineIsAlreadyCompleted(t *testing.T) {
	m := New()
	j := &journal{}
	MustRegister[diskFull](m, "sync", notification.NewSyncHandler[diskFull](notification.SyncFunc[diskFull](func(diskFull) error {
		j.add("ran")
		return nil
	})))
	c := m.PublishAsync(context.Background(), diskFull{})
	assert.True(t, c.IsCompleted())
	assert.Equal(t, []string{"ran"}, j.get())
}

func TestPublishAsyncRunsSuspendingHandlers(t *testing.T) {
	m := New()
	release := make(chan struct{})
	MustRegister[diskFull](m, "slow", notification.HandlerFunc[diskFull](func(ctx context.Context, _ diskFull) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	c := m.PublishAsync(context.Background(), diskFull{})
	assert.False(t, c.IsCompleted())
	close(release)
	assert.NoError(t, c.Wait(context.Background()))
}

func TestOrderHookAndOrderingUpdates(t *testing.T) {
	j := &journal{}
	m := New(WithOrder(func(es []Entry) {
		sort.SliceStable(es, func(a, b int) bool {
			return es[a].Ordering.Priority().GreaterThan(es[b].Ordering.Priority())
		})
	}))
	mk := func(name string) notification.Handler[diskFull] {
		return notification.HandlerFunc[diskFull](func(context.Context, diskFull) error {
			j.add(name)
			return nil
		})
	}
	MustRegister[diskFull](m, "low", mk("low"), WithPriority(decimal.NewFromInt(1)))
	high := MustRegister[diskFull](m, "high", mk("high"), WithPriority(decimal.RequireFromString("1.5")))

	require.NoError(t, m.Publish(context.Background(), diskFull{}))
	assert.Equal(t, []string{"high", "low"}, j.get())

	high.Ordering.SetPriority(decimal.RequireFromString("0.5"))
	got, ok := m.Lookup("high")
	require.True(t, ok)
	assert.Equal(t, "0.5", got.Ordering.Priority().String())

	require.NoError(t, m.Publish(context.Background(), diskFull{}))
	assert.Equal(t, []string{"high", "low", "low", "high"}, j.get())
}

func TestRegisterUsesHandlerOrdering(t *testing.T) {
	m := New()
	h := notification.NewSyncHandler[diskFull](notification.SyncFunc[diskFull](func(diskFull) error { return nil }))
	e := MustRegister[diskFull](m, "sync", h, WithLevel(4))
	assert.True(t, e.Inline)
	assert.Equal(t, 4, h.Level(), "options write through to the handler's own ordering")
	h.SetLevel(7)
	assert.Equal(t, 7, e.Ordering.Level())
}

func TestPanicRecovery(t *testing.T) {
	h := notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { panic("kaput") })

	m := New(WithPanicRecovery(true))
	MustRegister[diskFull](m, "p", h)
	err := m.Publish(context.Background(), diskFull{})
	assert.True(t, errors.Is(err, ErrHandlerPanic))
	assert.Contains(t, err.Error(), "kaput")

	plain := New()
	MustRegister[diskFull](plain, "p", h)
	assert.Panics(t, func() { _ = plain.Publish(context.Background(), diskFull{}) })
}

func TestObserverSeesEveryInvocation(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	boom := errors.New("boom")
	m := New(WithObserver(ObserverFunc(func(_ context.Context, e Entry, n notification.Notification, took time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		status := "ok"
		if err != nil {
			status = err.Error()
		}
		seen = append(seen, e.Name+":"+string(n.Kind())+":"+status)
		assert.GreaterOrEqual(t, took, time.Duration(0))
	})))
	MustRegister[diskFull](m, "a", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { return nil }))
	MustRegister[diskFull](m, "b", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { return boom }))

	assert.Same(t, boom, m.Publish(context.Background(), diskFull{}))
	assert.Equal(t, []string{"a:disk.full:ok", "b:disk.full:boom"}, seen)
}

func TestUnregisterAndEntries(t *testing.T) {
	m := New()
	e := MustRegister[diskFull](m, "a", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { return nil }))
	MustRegister[diskFull](m, "b", notification.HandlerFunc[diskFull](func(context.Context, diskFull) error { return nil }))
	require.Len(t, m.Entries(), 2)

	require.NoError(t, m.Unregister(e.ID))
	assert.Len(t, m.Entries(), 1)
	assert.Len(t, m.Resolve(diskFull{}), 1)
	assert.True(t, errors.Is(m.Unregister(e.ID), ErrNotFound))
}
