package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"notifyd/internal/dispatch"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
	"notifyd/pkg/mediator"
	"notifyd/pkg/notification"

	"github.com/google/uuid"
)

// journal records every handler invocation in storage. OnHandled only
// queues; a supervised loop does the writes.
type journal struct {
	store   storage.Store
	log     logx.Logger
	ch      chan storage.Delivery
	dropped atomic.Uint64
}

func newJournal(store storage.Store, log logx.Logger) *journal {
	return &journal{store: store, log: log.With(logx.String("comp", "journal")), ch: make(chan storage.Delivery, 1024)}
}

func (j *journal) OnHandled(_ context.Context, e mediator.Entry, n notification.Notification, took time.Duration, err error) {
	d := storage.Delivery{
		ID:      uuid.NewString(),
		At:      time.Now(),
		Handler: e.Name,
		Kind:    n.Kind().String(),
		OK:      err == nil,
		TookMS:  took.Milliseconds(),
	}
	if k, ok := n.(dispatch.Keyed); ok {
		d.Key = k.DedupKey()
	}
	if err != nil {
		d.Error = err.Error()
	}
	select {
	case j.ch <- d:
	default:
		j.dropped.Add(1)
	}
}

// run writes queued deliveries until ctx ends, then flushes what is left.
func (j *journal) run(ctx context.Context) error {
	for {
		select {
		case d := <-j.ch:
			j.write(ctx, d)
		case <-ctx.Done():
			for {
				select {
				case d := <-j.ch:
					j.write(context.Background(), d)
				default:
					if n := j.dropped.Load(); n > 0 {
						j.log.Warn("journal dropped deliveries", logx.Int64("count", int64(n)))
					}
					return nil
				}
			}
		}
	}
}

func (j *journal) write(ctx context.Context, d storage.Delivery) {
	if err := j.store.AppendDelivery(ctx, d); err != nil {
		j.log.Debug("journal write failed", logx.String("handler", d.Handler), logx.Err(err))
	}
}

// deliveriesHandler serves recent deliveries as JSON, newest first.
// ?limit= defaults to 50 and is capped at 1000.
func deliveriesHandler(store storage.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, 1000)
		}
		out, err := store.RecentDeliveries(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if out == nil {
			out = []storage.Delivery{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}
