// Package schedule emits envelopes on cron and interval schedules.
package schedule

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"notifyd/pkg/logx"
	"notifyd/pkg/notification"

	"github.com/robfig/cron/v3"
)

// Def describes one schedule and the envelope it emits.
type Def struct {
	Name    string
	Spec    string
	Kind    notification.Kind
	Parents []notification.Kind
	Key     string
	Payload map[string]any
}

// Enqueuer accepts fired envelopes. *dispatch.Service satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, n notification.Notification) error
}

// EntryInfo is a read-only view of a loaded schedule.
type EntryInfo struct {
	Name   string
	Spec   string
	Kind   notification.Kind
	Next   time.Time
	Spread time.Duration
}

type entry struct {
	def    Def
	parsed ParsedSpec
	id     cron.EntryID
	spread time.Duration
}

// Runner owns a cron instance. Apply replaces the schedule set atomically;
// an invalid set leaves the previous one running.
type Runner struct {
	mu sync.Mutex

	log    logx.Logger
	out    Enqueuer
	parser cron.Parser
	loc    *time.Location
	spread bool

	c       *cron.Cron
	entries map[string]*entry
	ctx     context.Context
	running bool
}

type Option func(*Runner)

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithStartupSpread toggles the first-run jitter for interval schedules.
// It is on by default.
func WithStartupSpread(enabled bool) Option {
	return func(r *Runner) { r.spread = enabled }
}

func NewRunner(out Enqueuer, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		log:     log.With(logx.String("comp", "schedule")),
		out:     out,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     time.Local,
		spread:  true,
		entries: map[string]*entry{},
		ctx:     context.Background(),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// LoadLocation resolves an IANA timezone name; empty means time.Local.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Validate checks every def without touching the running set.
func (r *Runner) Validate(defs []Def) error {
	_, err := r.compile(defs)
	return err
}

func (r *Runner) compile(defs []Def) (map[string]*entry, error) {
	out := make(map[string]*entry, len(defs))
	for i, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, fmt.Errorf("schedule[%d]: name required", i)
		}
		if _, dup := out[d.Name]; dup {
			return nil, fmt.Errorf("schedule %q: duplicate name", d.Name)
		}
		if strings.TrimSpace(d.Kind.String()) == "" {
			return nil, fmt.Errorf("schedule %q: kind required", d.Name)
		}
		p, err := ParseSchedule(d.Spec)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", d.Name, err)
		}
		if p.Kind == SpecCron {
			if _, err := r.parser.Parse(p.Cron); err != nil {
				return nil, fmt.Errorf("schedule %q: invalid cron %q: %w", d.Name, p.Cron, err)
			}
		}
		out[d.Name] = &entry{def: d, parsed: p}
	}
	return out, nil
}

// Apply validates defs and swaps them in. While running, the cron instance
// is rebuilt.
func (r *Runner) Apply(defs []Def) error {
	next, err := r.compile(defs)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = next
	if r.running {
		r.restartLocked()
	}
	return nil
}

// Start begins firing. Fired envelopes are enqueued with ctx.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx = ctx
	r.running = true
	r.restartLocked()
}

// Stop halts the cron loop and waits for running jobs, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.running = false
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Runner) restartLocked() {
	// Jobs of the old instance may still be running; fire takes r.mu, so
	// don't wait for them here.
	if r.c != nil {
		r.c.Stop()
	}
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	now := time.Now().In(r.loc)
	for _, e := range r.entries {
		r.addLocked(e, now)
	}
	r.c.Start()
	r.log.Info("schedules loaded", logx.Int("count", len(r.entries)), logx.String("tz", r.loc.String()))
}

func (r *Runner) addLocked(e *entry, now time.Time) {
	name := e.def.Name
	job := cron.FuncJob(func() { r.fire(name) })
	e.spread = 0
	if e.parsed.Kind == SpecInterval {
		sched := cron.Schedule(cron.Every(e.parsed.Every))
		if r.spread {
			sched, e.spread = intervalWithSpread(e.parsed.Every, now, name)
		}
		e.id = r.c.Schedule(sched, job)
		return
	}
	id, err := r.c.AddJob(e.parsed.Cron, job)
	if err != nil {
		// compile already parsed it; only a parser change gets here.
		r.log.Warn("schedule rejected", logx.String("name", name), logx.Err(err))
		return
	}
	e.id = id
}

// Fire emits name's envelope now, outside its schedule.
func (r *Runner) Fire(name string) error {
	r.mu.Lock()
	_, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	return r.fire(name)
}

func (r *Runner) fire(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	ctx := r.ctx
	r.mu.Unlock()
	if !ok || r.out == nil {
		return nil
	}
	d := e.def
	env := notification.Envelope{
		Type:    d.Kind,
		Parents: append([]notification.Kind(nil), d.Parents...),
		Key:     d.Key,
		Payload: maps.Clone(d.Payload),
		At:      time.Now(),
	}
	if err := r.out.Enqueue(ctx, env); err != nil {
		r.log.Warn("schedule enqueue failed", logx.String("name", name), logx.Stringer("kind", d.Kind), logx.Err(err))
		return err
	}
	r.log.Debug("schedule fired", logx.String("name", name), logx.Stringer("kind", d.Kind))
	return nil
}

// Entries returns the loaded schedules sorted by name. Next is zero while
// the runner is stopped.
func (r *Runner) Entries() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		info := EntryInfo{Name: e.def.Name, Spec: e.parsed.CronSpec(), Kind: e.def.Kind, Spread: e.spread}
		if r.c != nil && e.id != 0 {
			info.Next = r.c.Entry(e.id).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
