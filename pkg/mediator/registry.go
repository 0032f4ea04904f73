package mediator

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"notifyd/pkg/notification"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Entry is a snapshot of one registration.
//
// Ordering is shared with the registration: setting priority or level through
// it is seen by every later Resolve.
type Entry struct {
	ID       string
	Name     string
	Kinds    []notification.Kind
	Ordering notification.Ordered
	// Inline is true when the handler never suspends (notification.IsInline).
	Inline bool

	handler any
	invoke  func(ctx context.Context, n notification.Notification) error
}

// Handler returns the registered handler value.
func (e Entry) Handler() any { return e.handler }

// Accepts reports whether the entry is registered for any of kinds.
func (e Entry) Accepts(kinds ...notification.Kind) bool {
	for _, k := range kinds {
		if slices.Contains(e.Kinds, k) {
			return true
		}
	}
	return false
}

// Register adds h to m under name.
//
// The accepted kinds come from WithKinds, else from h's Accepts method, else
// from the Kind of N's zero value. Interface-typed N (a handler for a general
// notification) needs one of the first two.
//
// If h implements notification.Ordered the registration uses it directly;
// otherwise it gets its own Ordering. WithPriority and WithLevel go through
// the setters in both cases.
func Register[N any](m *Mediator, name string, h notification.Handler[N], opts ...RegisterOption) (Entry, error) {
	if isNil(h) {
		return Entry{}, ErrNilHandler
	}
	var r registration
	for _, o := range opts {
		if o != nil {
			o(&r)
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("%T", h)
	}

	kinds := acceptedKinds[N](h, r.kinds)
	if len(kinds) == 0 {
		return Entry{}, errors.Wrapf(ErrNoKinds, "handler %q (%s)", name, typeName[N]())
	}

	ord, ok := h.(notification.Ordered)
	if !ok {
		ord = &notification.Ordering{}
	}

	e := Entry{
		ID:       uuid.NewString(),
		Name:     name,
		Kinds:    kinds,
		Ordering: ord,
		Inline:   notification.IsInline(h),
		handler:  h,
	}
	e.invoke = func(ctx context.Context, n notification.Notification) error {
		v, ok := n.(N)
		if !ok {
			return errors.Mark(
				errors.Newf("handler %q expects %s, got %T", e.Name, typeName[N](), n),
				ErrTypeMismatch,
			)
		}
		return h.Handle(ctx, v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries {
		if existing.Name == name {
			return Entry{}, errors.Wrapf(ErrDuplicateName, "%q", name)
		}
	}
	// Options touch the handler only once the registration is certain.
	if r.priority != nil {
		ord.SetPriority(*r.priority)
	}
	if r.level != nil {
		ord.SetLevel(*r.level)
	}
	m.entries = append(m.entries, e)
	m.log.Debug("handler registered", m.entryFields(e)...)
	return e, nil
}

// MustRegister is Register that panics on error. Meant for program setup.
func MustRegister[N any](m *Mediator, name string, h notification.Handler[N], opts ...RegisterOption) Entry {
	e, err := Register(m, name, h, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Unregister removes the registration with the given ID.
func (m *Mediator) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = slices.Delete(m.entries, i, i+1)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "id %s", id)
}

// Lookup finds a registration by name.
func (m *Mediator) Lookup(name string) (Entry, bool) {
	name = strings.TrimSpace(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns every registration in registration order.
func (m *Mediator) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries)
}

// Resolve returns the registrations eligible for n: those accepting n's kind
// or one of its ancestors. Registration order, no duplicates.
func (m *Mediator) Resolve(n notification.Notification) []Entry {
	kinds := notification.KindsOf(n)
	if len(kinds) == 0 {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Accepts(kinds...) {
			out = append(out, e)
		}
	}
	return out
}

func acceptedKinds[N any](h any, explicit []notification.Kind) []notification.Kind {
	if len(explicit) > 0 {
		return normalizeKinds(explicit)
	}
	if a, ok := h.(notification.Acceptor); ok {
		if ks := normalizeKinds(a.Accepts()); len(ks) > 0 {
			return ks
		}
	}
	if k := zeroKind[N](); k != "" {
		return []notification.Kind{k}
	}
	return nil
}

// zeroKind asks a zero N for its Kind. Pointer types get a fresh element so
// value-less Kind methods on *T work too.
func zeroKind[N any]() (k notification.Kind) {
	t := reflect.TypeFor[N]()
	var v reflect.Value
	switch t.Kind() {
	case reflect.Interface:
		return ""
	case reflect.Pointer:
		v = reflect.New(t.Elem())
	default:
		v = reflect.New(t).Elem()
	}
	n, ok := v.Interface().(notification.Notification)
	if !ok {
		return ""
	}
	defer func() {
		if recover() != nil {
			k = ""
		}
	}()
	return notification.Kind(strings.TrimSpace(string(n.Kind())))
}

func normalizeKinds(in []notification.Kind) []notification.Kind {
	out := make([]notification.Kind, 0, len(in))
	for _, k := range in {
		k = notification.Kind(strings.TrimSpace(string(k)))
		if k == "" || slices.Contains(out, k) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func typeName[N any]() string { return reflect.TypeFor[N]().String() }

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
