// Package sinks holds the handlers notifyd registers out of the box.
package sinks

import (
	"context"
	"strings"
	"sync/atomic"

	"notifyd/internal/eventbus"
	"notifyd/pkg/logx"
	"notifyd/pkg/notification"
)

func kindsOf(in []string) []notification.Kind {
	out := make([]notification.Kind, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, notification.Kind(k))
		}
	}
	return out
}

// LogSink writes every envelope it receives to the log. It never suspends.
type LogSink struct {
	log   logx.Logger
	kinds []notification.Kind
	seen  atomic.Uint64
}

// NewLogSink returns the sink wrapped as an inline handler.
func NewLogSink(log logx.Logger, kinds ...string) (*notification.SyncHandler[notification.Envelope], *LogSink) {
	s := &LogSink{log: log.With(logx.String("sink", "log")), kinds: kindsOf(kinds)}
	return notification.NewSyncHandler[notification.Envelope](s), s
}

func (s *LogSink) Accepts() []notification.Kind { return s.kinds }

func (s *LogSink) HandleSync(e notification.Envelope) error {
	s.seen.Add(1)
	fields := []logx.Field{
		logx.Stringer("kind", e.Type),
		logx.Time("at", e.At),
	}
	if e.Key != "" {
		fields = append(fields, logx.String("key", e.Key))
	}
	if len(e.Parents) > 0 {
		fields = append(fields, logx.Any("parents", e.Parents))
	}
	if len(e.Payload) > 0 {
		fields = append(fields, logx.Any("payload", e.Payload))
	}
	s.log.Info("notification", fields...)
	return nil
}

// Seen is how many envelopes the sink has logged.
func (s *LogSink) Seen() uint64 { return s.seen.Load() }

// BusSink forwards envelopes to the event bus as sink.forwarded events.
type BusSink struct {
	bus   eventbus.Bus
	kinds []notification.Kind
}

func NewBusSink(bus eventbus.Bus, kinds ...string) *BusSink {
	return &BusSink{bus: bus, kinds: kindsOf(kinds)}
}

func (s *BusSink) Accepts() []notification.Kind { return s.kinds }

// Handle gives up without forwarding once ctx is done.
func (s *BusSink) Handle(ctx context.Context, e notification.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeForwarded, Data: e})
	return nil
}
