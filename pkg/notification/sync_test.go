package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userCreated struct{ ID string }

func (userCreated) Kind() Kind { return "user.created" }

type recorder struct {
	seen []string
	err  error
}

func (r *recorder) HandleSync(n userCreated) error {
	r.seen = append(r.seen, n.ID)
	return r.err
}

func TestSyncHandlerRunsBodyBeforeReturning(t *testing.T) {
	rec := &recorder{}
	h := NewSyncHandler[userCreated](rec)

	c := h.HandleAsync(context.Background(), userCreated{ID: "u1"})

	require.Len(t, rec.seen, 1)
	assert.Equal(t, "u1", rec.seen[0])
	assert.True(t, c.IsCompleted())
	assert.NoError(t, c.Err())
}

func TestSyncHandlerIgnoresCanceledContext(t *testing.T) {
	rec := &recorder{}
	h := NewSyncHandler[userCreated](rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.Handle(ctx, userCreated{ID: "a"}))
	c := h.HandleAsync(ctx, userCreated{ID: "b"})
	require.True(t, c.IsCompleted())
	assert.NoError(t, c.Err())
	assert.Equal(t, []string{"a", "b"}, rec.seen)
}

func TestSyncHandlerPropagatesSameError(t *testing.T) {
	boom := errors.New("boom")
	h := NewSyncHandler[userCreated](&recorder{err: boom})

	err := h.Handle(context.Background(), userCreated{ID: "x"})
	assert.Same(t, boom, err)

	c := h.HandleAsync(context.Background(), userCreated{ID: "x"})
	require.True(t, c.IsCompleted())
	assert.Same(t, boom, c.Err())
	assert.Same(t, boom, c.Wait(context.Background()))
}

func TestSyncHandlerPanicsOnNilBody(t *testing.T) {
	assert.Panics(t, func() { NewSyncHandler[userCreated](nil) })
}

func TestSyncHandlerOrderingRoundTrip(t *testing.T) {
	h := NewSyncHandler[userCreated](SyncFunc[userCreated](func(userCreated) error { return nil }))

	var o Ordered = h
	assert.True(t, o.Priority().IsZero())
	assert.Equal(t, 0, o.Level())

	p := decimal.RequireFromString("2.75")
	o.SetPriority(p)
	o.SetLevel(-3)
	assert.True(t, p.Equal(o.Priority()))
	assert.Equal(t, -3, o.Level())
	// Reads don't change stored values.
	assert.True(t, p.Equal(o.Priority()))
	assert.Equal(t, -3, o.Level())
}

type acceptingBody struct{}

func (acceptingBody) HandleSync(Envelope) error { return nil }
func (acceptingBody) Accepts() []Kind           { return []Kind{"system"} }

func TestSyncHandlerForwardsAccepts(t *testing.T) {
	h := NewSyncHandler[Envelope](acceptingBody{})
	assert.Equal(t, []Kind{"system"}, h.Accepts())

	plain := NewSyncHandler[Envelope](SyncFunc[Envelope](func(Envelope) error { return nil }))
	assert.Nil(t, plain.Accepts())
}
