package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"notifyd/pkg/logx"
	"notifyd/pkg/notification"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

var ErrPanic = errors.New("middleware: handler panicked")

// Timeout bounds every call with d. Only handlers that observe ctx are cut
// short; d <= 0 disables the bound.
func Timeout[N any](d time.Duration) Middleware[N] {
	return func(next notification.Handler[N]) notification.Handler[N] {
		return decorateInline(next, func(ctx context.Context, n N) error {
			if d <= 0 {
				return next.Handle(ctx, n)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Handle(cctx, n)
		})
	}
}

// RateLimit waits for a token from lim before each call. If ctx ends first
// the wait error is returned and next is not called.
func RateLimit[N any](lim *rate.Limiter) Middleware[N] {
	return func(next notification.Handler[N]) notification.Handler[N] {
		return decorate(next, func(ctx context.Context, n N) error {
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return err
				}
			}
			return next.Handle(ctx, n)
		})
	}
}

// Permanent marks err so Retry gives up immediately. Retry returns err itself,
// not the marker.
func Permanent(err error) error { return backoff.Permanent(err) }

// Retry calls next again on failure, spacing attempts with a fresh policy from
// newPolicy. A nil newPolicy uses an exponential backoff capped at 30s total.
// The error of the final attempt is returned.
func Retry[N any](newPolicy func() backoff.BackOff, log logx.Logger) Middleware[N] {
	if newPolicy == nil {
		newPolicy = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		}
	}
	return func(next notification.Handler[N]) notification.Handler[N] {
		return decorate(next, func(ctx context.Context, n N) error {
			attempt := 0
			return backoff.RetryNotify(
				func() error {
					attempt++
					return next.Handle(ctx, n)
				},
				backoff.WithContext(newPolicy(), ctx),
				func(err error, wait time.Duration) {
					log.Debug("handler retry scheduled", logx.Int("attempt", attempt), logx.Duration("wait", wait), logx.Err(err))
				},
			)
		})
	}
}

// Recover turns a panic in next into an error marked ErrPanic.
func Recover[N any](log logx.Logger) Middleware[N] {
	return func(next notification.Handler[N]) notification.Handler[N] {
		return decorateInline(next, func(ctx context.Context, n N) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = errors.Mark(errors.Newf("panic: %s", fmt.Sprint(r)), ErrPanic)
				}
			}()
			return next.Handle(ctx, n)
		})
	}
}

// Logging logs the outcome and duration of every call.
func Logging[N any](log logx.Logger, name string) Middleware[N] {
	return func(next notification.Handler[N]) notification.Handler[N] {
		return decorateInline(next, func(ctx context.Context, n N) error {
			start := time.Now()
			err := next.Handle(ctx, n)
			fields := []logx.Field{logx.String("handler", name), logx.Duration("dur", time.Since(start))}
			if err != nil {
				log.Warn("notification failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("notification handled", fields...)
			}
			return err
		})
	}
}
