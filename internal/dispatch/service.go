package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"notifyd/internal/eventbus"
	"notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	"notifyd/pkg/logx"
	"notifyd/pkg/notification"

	"golang.org/x/time/rate"
)

type job struct {
	n   notification.Notification
	key string
}

// Service is the async pipeline: queue, worker pool, rate limit and dedup.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	pub   Publisher
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *supervisor.Supervisor
	stopDone chan struct{} // non-nil while stopping

	dedup *dedupCache

	persistCh chan dedupWrite
}

type dedupWrite struct {
	key   string
	until time.Time
}

// New builds a stopped Service. bus and store may be nil.
func New(cfg Config, pub Publisher, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		pub:   pub,
		log:   log.With(logx.String("comp", "dispatch")),
		bus:   bus,
		store: store,
		dedup: newDedupCache(),
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Rate and dedup settings take effect immediately;
// Workers and QueueSize apply on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.PublishTimeout < 0 {
		cfg.PublishTimeout = 0
	}

	s.cfg = cfg
	if cfg.RatePerSec > 0 {
		// Burst equals the per-second rate so short spikes pass.
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		s.limiter = nil
	}
}

// Supervisor returns the worker supervisor, or nil when not started.
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Depth is the number of queued notifications.
func (s *Service) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Start launches the workers. It is idempotent and does nothing when the
// service is disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	// Dispatch is best-effort; worker failures never cancel the daemon.
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	sup, q, pch, st := s.sup, s.queue, s.persistCh, s.store
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return s.exitErr(c, "persist loop")
		}, supervisor.WithPublishFirstError(true))
	}
	for i := range workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return s.exitErr(c, "worker")
		}, supervisor.WithPublishFirstError(true))
	}
	s.log.Debug("dispatch started", logx.Int("workers", workers), logx.Int("queue_size", cap(q)))
}

// exitErr classifies a loop return: clean during shutdown, an error otherwise
// so the supervisor restarts it.
func (s *Service) exitErr(c context.Context, what string) error {
	s.mu.Lock()
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if stopping {
		return context.Canceled
	}
	if c.Err() != nil {
		return c.Err()
	}
	return fmt.Errorf("dispatch %s exited unexpectedly", what)
}

// Stop closes intake and lets workers drain the queue until ctx ends; then
// the workers are canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Enqueue calls finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.persistCh, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Debug("dispatch stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Enqueue queues n for publishing. A notification whose dedup key was seen
// within the window is dropped and Enqueue returns nil.
func (s *Service) Enqueue(ctx context.Context, n notification.Notification) error {
	if n == nil {
		return errors.New("dispatch: nil notification")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	cfg := s.cfg
	st := s.store
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	var key string
	if k, ok := n.(Keyed); ok {
		key = strings.TrimSpace(k.DedupKey())
	}
	kind := n.Kind().String()

	if cfg.DedupWindow > 0 && key != "" {
		if !s.dedupAllow(ctx, key, cfg, st, pch) {
			s.emit(eventbus.TypeDeduped, kind, key, nil)
			return nil
		}
	}

	select {
	case q <- job{n: n, key: key}:
		s.emit(eventbus.TypeQueued, kind, key, nil)
		return nil
	default:
		s.emit(eventbus.TypeDropped, kind, key, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) emit(typ, kind, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := Event{Kind: kind, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.publish(ctx, j)
		}
	}
}

func (s *Service) publish(runCtx context.Context, j job) {
	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.PublishTimeout
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
	}

	ctx := runCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}
	kind := j.n.Kind().String()
	if err := s.pub.Publish(ctx, j.n); err != nil {
		s.log.Debug("dispatch publish failed", logx.String("kind", kind), logx.String("key", j.key), logx.Err(err))
		s.emit(eventbus.TypeFailed, kind, j.key, err)
		return
	}
	s.emit(eventbus.TypePublished, kind, j.key, nil)
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(wctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}
