package notification

import (
	"strings"
	"time"
)

// Kind identifies a notification type.
type Kind string

func (k Kind) String() string { return string(k) }

// Notification is the payload broadcast to handlers.
type Notification interface {
	Kind() Kind
}

// Lineage is implemented by notifications that also count as one or more
// supertypes. Handlers registered for an ancestor kind receive them too.
type Lineage interface {
	Ancestors() []Kind
}

// KindsOf returns n's own kind followed by its ancestors, without duplicates
// or empty values. Nil yields nil.
func KindsOf(n Notification) []Kind {
	if n == nil {
		return nil
	}
	out := make([]Kind, 0, 4)
	seen := map[Kind]struct{}{}
	add := func(k Kind) {
		k = Kind(strings.TrimSpace(string(k)))
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	add(n.Kind())
	if l, ok := n.(Lineage); ok {
		for _, k := range l.Ancestors() {
			add(k)
		}
	}
	return out
}

// Envelope is a dynamically typed notification. It is what schedules and
// config-driven publishers emit when no dedicated Go type exists.
type Envelope struct {
	Type    Kind           `json:"type"`
	Parents []Kind         `json:"parents,omitempty"`
	Key     string         `json:"key,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

func (e Envelope) Kind() Kind { return e.Type }

func (e Envelope) Ancestors() []Kind { return e.Parents }

// DedupKey returns Key. Queues use it to suppress repeats.
func (e Envelope) DedupKey() string { return e.Key }
