package app

import (
	"strings"

	"notifyd/internal/config"
	"notifyd/internal/sinks"
	"notifyd/pkg/logx"
	"notifyd/pkg/mediator"
	"notifyd/pkg/middleware"
	"notifyd/pkg/notification"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Built-in handler names, as used under "handlers" in the config.
const (
	HandlerLog = "log"
	HandlerBus = "bus"
)

func (a *App) registerHandlers(cfg *config.Config) error {
	logH, _ := sinks.NewLogSink(a.root)
	if err := register[notification.Envelope](a, HandlerLog, logH, cfg.Handlers[HandlerLog]); err != nil {
		return err
	}
	busH := sinks.NewBusSink(a.bus)
	if err := register[notification.Envelope](a, HandlerBus, busH, cfg.Handlers[HandlerBus]); err != nil {
		return err
	}
	a.collector.SetHandlers(len(a.med.Entries()))
	return nil
}

// register decorates h per hc and adds it to the mediator. Handlers without
// configured kinds accept RootKind.
func register[N any](a *App, name string, h notification.Handler[N], hc config.HandlerConfig) error {
	log := a.log.With(logx.String("handler", name))
	if !hc.IsEnabled() {
		log.Info("handler disabled")
		return nil
	}

	timeout, err := config.ParseDurationField("handlers."+name+".timeout", hc.Timeout)
	if err != nil {
		return err
	}
	prio, err := config.ParsePriority(hc.Priority)
	if err != nil {
		return err
	}

	mw := []middleware.Middleware[N]{middleware.Logging[N](log, name)}
	if hc.RatePerSec > 0 {
		mw = append(mw, middleware.RateLimit[N](rate.NewLimiter(rate.Limit(hc.RatePerSec), hc.RatePerSec)))
	}
	if hc.RetryMax > 0 {
		retries := uint64(hc.RetryMax)
		mw = append(mw, middleware.Retry[N](func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries)
		}, log))
	}
	if timeout > 0 {
		mw = append(mw, middleware.Timeout[N](timeout))
	}

	kinds := []notification.Kind{RootKind}
	if len(hc.Kinds) > 0 {
		kinds = kinds[:0]
		for _, k := range hc.Kinds {
			kinds = append(kinds, notification.Kind(strings.TrimSpace(k)))
		}
	}

	e, err := mediator.Register[N](a.med, name, middleware.Chain(h, mw...),
		mediator.WithKinds(kinds...),
		mediator.WithPriority(prio),
		mediator.WithLevel(hc.Level),
	)
	if err != nil {
		return err
	}
	log.Info("handler registered",
		logx.Any("kinds", e.Kinds),
		logx.Stringer("priority", e.Ordering.Priority()),
		logx.Int("level", e.Ordering.Level()),
	)
	return nil
}

// applyOrdering pushes handlers.<name>.priority|level onto the live
// registrations. A handler with no block goes back to zero.
func (a *App) applyOrdering(cfg *config.Config) {
	for _, e := range a.med.Entries() {
		hc := cfg.Handlers[e.Name]
		prio, err := config.ParsePriority(hc.Priority)
		if err != nil {
			a.log.Warn("invalid handler priority; keeping previous", logx.String("handler", e.Name), logx.Err(err))
			continue
		}
		if !e.Ordering.Priority().Equal(prio) || e.Ordering.Level() != hc.Level {
			e.Ordering.SetPriority(prio)
			e.Ordering.SetLevel(hc.Level)
			a.log.Info("handler ordering updated",
				logx.String("handler", e.Name),
				logx.Stringer("priority", prio),
				logx.Int("level", hc.Level),
			)
		}
	}
}
