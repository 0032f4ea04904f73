// Package middleware decorates notification handlers.
//
// Decorators keep the capabilities of the handler they wrap: ordering reads
// and writes go to the inner handler when it implements notification.Ordered,
// and declared kinds are forwarded from notification.Acceptor. Decorators that
// never wait (Logging, Timeout, Recover) keep an inline handler inline;
// RateLimit and Retry do not.
package middleware

import (
	"context"

	"notifyd/pkg/notification"

	"github.com/shopspring/decimal"
)

type Middleware[N any] func(next notification.Handler[N]) notification.Handler[N]

// Chain wraps h so that mw[0] is the outermost decorator.
func Chain[N any](h notification.Handler[N], mw ...Middleware[N]) notification.Handler[N] {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			h = mw[i](h)
		}
	}
	return h
}

type decorated[N any] struct {
	inner notification.Handler[N]
	fn    func(ctx context.Context, n N) error
	own   notification.Ordering
	// passInline is set for decorators that add no waiting of their own.
	passInline bool
}

func decorate[N any](inner notification.Handler[N], fn func(ctx context.Context, n N) error) *decorated[N] {
	return &decorated[N]{inner: inner, fn: fn}
}

func decorateInline[N any](inner notification.Handler[N], fn func(ctx context.Context, n N) error) *decorated[N] {
	return &decorated[N]{inner: inner, fn: fn, passInline: true}
}

func (d *decorated[N]) Handle(ctx context.Context, n N) error { return d.fn(ctx, n) }

func (d *decorated[N]) RunsInline() bool {
	return d.passInline && notification.IsInline(d.inner)
}

// Unwrap returns the decorated handler.
func (d *decorated[N]) Unwrap() notification.Handler[N] { return d.inner }

func (d *decorated[N]) ordering() notification.Ordered {
	if o, ok := d.inner.(notification.Ordered); ok {
		return o
	}
	return &d.own
}

func (d *decorated[N]) Priority() decimal.Decimal     { return d.ordering().Priority() }
func (d *decorated[N]) SetPriority(p decimal.Decimal) { d.ordering().SetPriority(p) }
func (d *decorated[N]) Level() int                    { return d.ordering().Level() }
func (d *decorated[N]) SetLevel(l int)                { d.ordering().SetLevel(l) }

func (d *decorated[N]) Accepts() []notification.Kind {
	if a, ok := d.inner.(notification.Acceptor); ok {
		return a.Accepts()
	}
	return nil
}
