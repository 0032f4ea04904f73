package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"notifyd/pkg/logx"
	"notifyd/pkg/notification"

	"github.com/cenkalti/backoff/v4"
	cerrors "github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type ping struct{ N int }

func (ping) Kind() notification.Kind { return "ping" }

func fastPolicy(max uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), max)
	}
}

func TestChainOrder(t *testing.T) {
	var trail []string
	tag := func(name string) Middleware[ping] {
		return func(next notification.Handler[ping]) notification.Handler[ping] {
			return decorate(next, func(ctx context.Context, n ping) error {
				trail = append(trail, name)
				return next.Handle(ctx, n)
			})
		}
	}
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error {
		trail = append(trail, "handler")
		return nil
	}), tag("outer"), nil, tag("inner"))

	require.NoError(t, h.Handle(context.Background(), ping{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, trail)
}

func TestDecoratorForwardsOrderingAndAccepts(t *testing.T) {
	inner := notification.NewSyncHandler[notification.Envelope](acceptAll{})
	h := Chain[notification.Envelope](inner, Timeout[notification.Envelope](time.Second))

	o, ok := h.(notification.Ordered)
	require.True(t, ok)
	o.SetLevel(3)
	o.SetPriority(decimal.NewFromInt(9))
	assert.Equal(t, 3, inner.Level())
	assert.True(t, inner.Priority().Equal(decimal.NewFromInt(9)))

	a, ok := h.(notification.Acceptor)
	require.True(t, ok)
	assert.Equal(t, []notification.Kind{"system"}, a.Accepts())

	// Without an Ordered inner handler the decorator keeps its own values.
	plain := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error { return nil }), Timeout[ping](0))
	po := plain.(notification.Ordered)
	po.SetLevel(2)
	assert.Equal(t, 2, po.Level())
}

type acceptAll struct{}

func (acceptAll) HandleSync(notification.Envelope) error { return nil }
func (acceptAll) Accepts() []notification.Kind           { return []notification.Kind{"system"} }

func TestTimeoutBoundsContext(t *testing.T) {
	h := Chain[ping](notification.HandlerFunc[ping](func(ctx context.Context, _ ping) error {
		<-ctx.Done()
		return ctx.Err()
	}), Timeout[ping](10*time.Millisecond))
	assert.ErrorIs(t, h.Handle(context.Background(), ping{}), context.DeadlineExceeded)
}

func TestRateLimitHonorsContext(t *testing.T) {
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	var calls atomic.Int32
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error {
		calls.Add(1)
		return nil
	}), RateLimit[ping](lim))

	require.NoError(t, h.Handle(context.Background(), ping{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, h.Handle(ctx, ping{}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryEventuallySucceeds(t *testing.T) {
	var calls atomic.Int32
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error {
		if calls.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}), Retry[ping](fastPolicy(5), logx.Nop()))

	require.NoError(t, h.Handle(context.Background(), ping{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryPermanentStopsAndUnwraps(t *testing.T) {
	boom := errors.New("bad input")
	var calls atomic.Int32
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error {
		calls.Add(1)
		return Permanent(boom)
	}), Retry[ping](fastPolicy(5), logx.Nop()))

	assert.Same(t, boom, h.Handle(context.Background(), ping{}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryReturnsLastError(t *testing.T) {
	boom := errors.New("down")
	var calls atomic.Int32
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error {
		calls.Add(1)
		return boom
	}), Retry[ping](fastPolicy(2), logx.Nop()))

	assert.Same(t, boom, h.Handle(context.Background(), ping{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRecover(t *testing.T) {
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error {
		panic("oops")
	}), Recover[ping](logx.Nop()))

	err := h.Handle(context.Background(), ping{})
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, ErrPanic))
	assert.Contains(t, err.Error(), "oops")
}

func TestLoggingPassesErrorThrough(t *testing.T) {
	boom := errors.New("boom")
	h := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error { return boom }), Logging[ping](logx.Nop(), "p"))
	assert.Same(t, boom, h.Handle(context.Background(), ping{}))
}

func TestChainKeepsSyncHandlerInline(t *testing.T) {
	calls := 0
	sync := notification.NewSyncHandler[ping](notification.SyncFunc[ping](func(ping) error {
		calls++
		return nil
	}))

	h := Chain[ping](sync, Logging[ping](logx.Nop(), "sync"), Recover[ping](logx.Nop()), Timeout[ping](time.Second))
	require.True(t, notification.IsInline(h))

	c := notification.Start(context.Background(), h, ping{N: 1})
	assert.True(t, c.IsCompleted())
	assert.NoError(t, c.Err())
	assert.Equal(t, 1, calls)
}

func TestWaitingDecoratorsDropInline(t *testing.T) {
	sync := notification.NewSyncHandler[ping](notification.SyncFunc[ping](func(ping) error { return nil }))

	limited := Chain[ping](sync, Timeout[ping](time.Second), RateLimit[ping](rate.NewLimiter(rate.Inf, 1)))
	assert.False(t, notification.IsInline(limited))

	retried := Chain[ping](sync, Retry[ping](fastPolicy(1), logx.Nop()))
	assert.False(t, notification.IsInline(retried))

	async := Chain[ping](notification.HandlerFunc[ping](func(context.Context, ping) error { return nil }), Timeout[ping](time.Second))
	assert.False(t, notification.IsInline(async))
}
