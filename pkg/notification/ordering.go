package notification

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ordered exposes the ordering metadata a dispatcher uses to sort handlers.
// The meaning of both values is up to the dispatcher.
type Ordered interface {
	Priority() decimal.Decimal
	SetPriority(p decimal.Decimal)
	Level() int
	SetLevel(l int)
}

// Ordering is a concrete Ordered record. The zero value has priority 0 and
// level 0 and is ready to use. Embed it to give a handler ordering storage.
//
// Ordering is safe for concurrent use; a write is visible to every later read.
type Ordering struct {
	mu       sync.RWMutex
	priority decimal.Decimal
	level    int
}

// NewOrdering returns an Ordering preset to p and l.
func NewOrdering(p decimal.Decimal, l int) *Ordering {
	return &Ordering{priority: p, level: l}
}

func (o *Ordering) Priority() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.priority
}

func (o *Ordering) SetPriority(p decimal.Decimal) {
	o.mu.Lock()
	o.priority = p
	o.mu.Unlock()
}

func (o *Ordering) Level() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.level
}

func (o *Ordering) SetLevel(l int) {
	o.mu.Lock()
	o.level = l
	o.mu.Unlock()
}
