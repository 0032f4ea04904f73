package notification

import "context"

// SyncBody is synchronous handling logic for notifications of type N.
type SyncBody[N any] interface {
	HandleSync(n N) error
}

// SyncFunc adapts a function to SyncBody.
type SyncFunc[N any] func(n N) error

func (f SyncFunc[N]) HandleSync(n N) error { return f(n) }

// SyncHandler presents a SyncBody as a Handler.
//
// The body runs on the caller's goroutine and finishes before Handle returns.
// The context is not inspected or forwarded: cancellation never pre-empts the
// body. Errors from the body come back unchanged and panics are not recovered.
type SyncHandler[N any] struct {
	Ordering
	body SyncBody[N]
}

// NewSyncHandler wraps body. It panics if body is nil.
func NewSyncHandler[N any](body SyncBody[N]) *SyncHandler[N] {
	if body == nil {
		panic("notification: nil SyncBody")
	}
	return &SyncHandler[N]{body: body}
}

// Handle runs the body. ctx is ignored.
func (h *SyncHandler[N]) Handle(_ context.Context, n N) error {
	return h.body.HandleSync(n)
}

// HandleAsync runs the body and returns an already-completed Completion
// carrying its error.
func (h *SyncHandler[N]) HandleAsync(ctx context.Context, n N) *Completion {
	return Completed(h.Handle(ctx, n))
}

// Accepts forwards the body's declared kinds, if any.
func (h *SyncHandler[N]) Accepts() []Kind {
	if a, ok := h.body.(Acceptor); ok {
		return a.Accepts()
	}
	return nil
}

// RunsInline is always true: the body never suspends.
func (h *SyncHandler[N]) RunsInline() bool { return true }
