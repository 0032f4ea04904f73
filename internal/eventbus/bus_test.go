package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeQueued, Data: "x"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeQueued, e.Type)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	cnt, ok := b.(Counter)
	require.True(t, ok)
	assert.Equal(t, uint64(2), cnt.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "late"})
}
