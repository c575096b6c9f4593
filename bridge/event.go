package bridge

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ---------------------------------------------------------------------------
// Host events
// ---------------------------------------------------------------------------

// EventSource is implemented by host event fields. The bridge attaches
// script handlers through it without knowing F.
type EventSource interface {
	HandlerType() reflect.Type
	AddHandler(h reflect.Value) uint64
	RemoveHandler(id uint64) bool
}

// Event is a multicast host event with handlers of type F. The zero value
// is ready to use. Embed it as an exported struct field to expose it to
// scripts as obj.Field:Add(fn).
type Event[F any] struct {
	mu       sync.Mutex
	next     uint64
	handlers []eventHandler[F]
}

type eventHandler[F any] struct {
	id uint64
	fn F
}

// Add attaches fn and returns the token that removes it.
func (e *Event[F]) Add(fn F) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.handlers = append(e.handlers, eventHandler[F]{id: e.next, fn: fn})
	return e.next
}

// Remove detaches the handler added with id.
func (e *Event[F]) Remove(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Handlers returns a snapshot of the attached handlers in attach order.
// Raise an event by calling each of them.
func (e *Event[F]) Handlers() []F {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]F, len(e.handlers))
	for i, h := range e.handlers {
		out[i] = h.fn
	}
	return out
}

// Len returns the number of attached handlers.
func (e *Event[F]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}

func (e *Event[F]) HandlerType() reflect.Type {
	return reflect.TypeOf((*F)(nil)).Elem()
}

func (e *Event[F]) AddHandler(h reflect.Value) uint64 {
	return e.Add(h.Interface().(F))
}

func (e *Event[F]) RemoveHandler(id uint64) bool {
	return e.Remove(id)
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// Subscription records one script handler attached to a host event.
type Subscription struct {
	ID    uint64
	Event string // "Type.Field"

	source EventSource
	token  uint64
	fn     *lua.LFunction
}

// Function returns the subscribed script function.
func (s *Subscription) Function() *lua.LFunction { return s.fn }

// eventSource finds the event field name on target.
func eventSource(target reflect.Value, name string) (EventSource, error) {
	v := target
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil target", ErrNotEvent)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s has no fields", ErrNotEvent, target.Type())
	}
	sf, ok := v.Type().FieldByName(name)
	if !ok || !sf.IsExported() {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotEvent, v.Type(), name)
	}
	f := v.FieldByIndex(sf.Index)
	if f.CanAddr() {
		if es, ok := f.Addr().Interface().(EventSource); ok {
			return es, nil
		}
	}
	if f.Kind() == reflect.Ptr && !f.IsNil() {
		if es, ok := f.Interface().(EventSource); ok {
			return es, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNotEvent, v.Type(), name)
}

// Subscribe attaches fn to the event field of target through a delegate
// proxy and records the subscription for teardown.
func (b *Bridge) Subscribe(target any, event string, fn *lua.LFunction) (*Subscription, error) {
	tv := reflect.ValueOf(target)
	if !tv.IsValid() {
		return nil, fmt.Errorf("%w: nil target", ErrNotEvent)
	}
	src, err := eventSource(tv, event)
	if err != nil {
		return nil, err
	}
	return b.subscribe(src, b.types.TypeName(tv.Type())+"."+event, fn)
}

func (b *Bridge) subscribe(src EventSource, name string, fn *lua.LFunction) (*Subscription, error) {
	handler, err := b.delegateFor(fn, src.HandlerType())
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextSub++
	sub := &Subscription{
		ID:     b.nextSub,
		Event:  name,
		source: src,
		token:  src.AddHandler(handler),
		fn:     fn,
	}
	b.subs[sub.ID] = sub
	b.log.Debugf("subscribed #%d to %s", sub.ID, name)
	return sub, nil
}

// Unsubscribe detaches sub from its event and forgets it.
func (b *Bridge) Unsubscribe(sub *Subscription) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if sub == nil || b.subs[sub.ID] != sub {
		return ErrNotSubscribed
	}
	delete(b.subs, sub.ID)
	if !sub.source.RemoveHandler(sub.token) {
		return fmt.Errorf("%s: handler #%d already detached", sub.Event, sub.ID)
	}
	b.log.Debugf("unsubscribed #%d from %s", sub.ID, sub.Event)
	return nil
}

// Subscriptions returns the number of live subscriptions.
func (b *Bridge) Subscriptions() int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return len(b.subs)
}

// detachAll detaches every recorded subscription, oldest first. Called
// with b.subsMu held.
func (b *Bridge) detachAll() {
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		sub := b.subs[id]
		if !sub.source.RemoveHandler(sub.token) {
			b.log.Warningf("teardown: %s handler #%d already detached", sub.Event, sub.ID)
		}
	}
	b.subs = make(map[uint64]*Subscription)
}
