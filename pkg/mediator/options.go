package mediator

import (
	"notifyd/pkg/logx"
	"notifyd/pkg/notification"

	"github.com/shopspring/decimal"
)

// Option configures a Mediator.
type Option func(*Mediator)

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(log logx.Logger) Option {
	return func(m *Mediator) { m.log = log }
}

// WithOrder installs a hook that may reorder the resolved entries before they
// are invoked. Without it entries run in registration order.
func WithOrder(fn func(entries []Entry)) Option {
	return func(m *Mediator) { m.order = fn }
}

// WithObserver adds an observer notified after every handler invocation.
func WithObserver(o Observer) Option {
	return func(m *Mediator) {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
}

// WithPanicRecovery converts handler panics into errors marked ErrHandlerPanic
// instead of letting them unwind through Publish.
func WithPanicRecovery(enabled bool) Option {
	return func(m *Mediator) { m.recoverPanics = enabled }
}

// RegisterOption configures a single registration.
type RegisterOption func(*registration)

type registration struct {
	kinds    []notification.Kind
	priority *decimal.Decimal
	level    *int
}

// WithKinds sets the kinds the handler accepts, overriding anything the
// handler declares itself.
func WithKinds(kinds ...notification.Kind) RegisterOption {
	return func(r *registration) { r.kinds = append(r.kinds, kinds...) }
}

// WithPriority presets the registration's priority.
func WithPriority(p decimal.Decimal) RegisterOption {
	return func(r *registration) { r.priority = &p }
}

// WithLevel presets the registration's level.
func WithLevel(l int) RegisterOption {
	return func(r *registration) { r.level = &l }
}
