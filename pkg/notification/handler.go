package notification

import "context"

// Handler processes notifications of type N.
//
// Handle returns when handling is finished. The returned error is whatever the
// handling logic produced; implementations should not wrap it on the way out.
// ctx may be observed to abandon in-flight work early.
//
// Calls for different notifications may run concurrently on the same handler.
// Handlers holding mutable state serialize access themselves.
type Handler[N any] interface {
	Handle(ctx context.Context, n N) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc[N any] func(ctx context.Context, n N) error

func (f HandlerFunc[N]) Handle(ctx context.Context, n N) error { return f(ctx, n) }

// Acceptor is implemented by handlers that declare the kinds they accept.
type Acceptor interface {
	Accepts() []Kind
}

// Inliner is implemented by handlers that can report whether Handle runs to
// completion on the calling goroutine. Decorators implement it by asking the
// handler they wrap.
type Inliner interface {
	RunsInline() bool
}

// IsInline reports whether h completes on the calling goroutine without
// suspending (e.g. a SyncHandler).
func IsInline(h any) bool {
	i, ok := h.(Inliner)
	return ok && i.RunsInline()
}

// Start invokes h and returns its Completion.
//
// Inline handlers run to completion before Start returns, so the Completion is
// already resolved. Any other handler runs on a new goroutine.
func Start[N any](ctx context.Context, h Handler[N], n N) *Completion {
	if IsInline(h) {
		return Completed(h.Handle(ctx, n))
	}
	return Go(func() error { return h.Handle(ctx, n) })
}
