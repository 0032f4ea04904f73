package schedule

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of an interval schedule by a per-name
// jitter so schedules sharing an interval don't all fire together.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalWithSpread returns the schedule and the jitter it applied. The
// jitter is stable for a given name.
func intervalWithSpread(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
