package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/pkg/logx"
	"notifyd/pkg/mediator"
	"notifyd/pkg/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSinkLogsAcceptedKinds(t *testing.T) {
	var buf bytes.Buffer
	h, sink := NewLogSink(logx.NewJSON(&buf, "debug"), "system", " ", "audit")
	assert.True(t, notification.IsInline(h))
	assert.Equal(t, []notification.Kind{"system", "audit"}, h.Accepts())

	m := mediator.New()
	mediator.MustRegister[notification.Envelope](m, "log", h)

	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, m.Publish(ctx, notification.Envelope{
		Type: "disk.full", Parents: []notification.Kind{"system"}, Key: "db1", Payload: map[string]any{"pct": 97}, At: at,
	}))
	require.NoError(t, m.Publish(ctx, notification.Envelope{Type: "user.created"}))
	assert.Equal(t, uint64(1), sink.Seen())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "notification", line["message"])
	assert.Equal(t, "disk.full", line["kind"])
	assert.Equal(t, "db1", line["key"])
	assert.Equal(t, "log", line["sink"])
	assert.Equal(t, map[string]any{"pct": float64(97)}, line["payload"])
}

func TestBusSinkForwardsAndHonorsContext(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := NewBusSink(bus, "heartbeat")
	assert.False(t, notification.IsInline(s))
	env := notification.Envelope{Type: "heartbeat", Key: "k"}

	require.NoError(t, s.Handle(context.Background(), env))
	select {
	case e := <-ch:
		assert.Equal(t, eventbus.TypeForwarded, e.Type)
		assert.Equal(t, env, e.Data)
	case <-time.After(time.Second):
		t.Fatal("not forwarded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Handle(ctx, env), context.Canceled)
	assert.Empty(t, ch)
}
