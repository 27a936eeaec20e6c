// Package events is the typed publish/subscribe hub protocol code uses to
// report state changes to the application.
//
// Subscribers of one Kind run in registration order. While the dispatcher is
// paused, firings are queued in a single FIFO and replayed in that order by
// Resume. A panicking subscriber is logged and never stops its siblings.
package events

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sessamekesh/kbengine-netcode-client/pkg/errors"
	"go.uber.org/zap"
)

// Subscriber is an opaque token identifying one listener for deregistration.
type Subscriber struct {
	id uuid.UUID
}

func NewSubscriber() Subscriber {
	return Subscriber{id: uuid.New()}
}

func (s Subscriber) String() string {
	return s.id.String()
}

type registration struct {
	kind    Kind
	sub     Subscriber
	invoke  func(Event)
	removed atomic.Bool
}

type deferredFiring struct {
	reg   *registration
	event Event
}

type Dispatcher struct {
	log     *zap.Logger
	metrics *dispatchMetrics

	mut_registrations sync.Mutex
	registrations     [kindCount][]*registration
	paused            bool
	deferred          []deferredFiring

	mut_owner sync.Mutex
	owner     string
}

type DispatcherParams struct {
	Logger *zap.Logger

	// Registerer receives the dispatcher's counters. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

func CreateDispatcher(params DispatcherParams) *Dispatcher {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	return &Dispatcher{
		log:     logger.With(zap.String("component", "EventDispatcher")),
		metrics: newDispatchMetrics(params.Registerer),
	}
}

// Register adds fn as a listener of the event type E under sub. Registering
// the same subscriber twice adds two independent listeners. E may be a pointer
// to a payload; an interface type names no kind and is ignored.
func Register[E Event](d *Dispatcher, sub Subscriber, fn func(E)) {
	kind, ok := kindOf[E]()
	if !ok || !kind.Valid() {
		d.log.Warn("Cannot listen to event type without a kind, ignoring",
			zap.Stringer("type", reflect.TypeOf((*E)(nil)).Elem()))
		return
	}

	reg := &registration{
		kind: kind,
		sub:  sub,
		invoke: func(ev Event) {
			typed, ok := ev.(E)
			if !ok {
				return
			}
			fn(typed)
		},
	}

	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()
	d.registrations[reg.kind] = append(d.registrations[reg.kind], reg)
}

// kindOf reads the Kind of E without calling Kind on a nil pointer.
func kindOf[E Event]() (Kind, bool) {
	t := reflect.TypeOf((*E)(nil)).Elem()
	switch t.Kind() {
	case reflect.Interface:
		return 0, false
	case reflect.Pointer:
		ev, ok := reflect.New(t.Elem()).Interface().(E)
		if !ok {
			return 0, false
		}
		return ev.Kind(), true
	default:
		var zero E
		return zero.Kind(), true
	}
}

// Subscribe registers fn under a fresh subscriber and returns it.
func Subscribe[E Event](d *Dispatcher, fn func(E)) Subscriber {
	sub := NewSubscriber()
	Register(d, sub, fn)
	return sub
}

// Fire delivers ev to every listener of its kind, or queues it while paused.
// Firing never fails. Invalid kinds are logged and dropped.
func (d *Dispatcher) Fire(ev Event) {
	kind := ev.Kind()
	if !kind.Valid() {
		d.log.Warn("Fired unknown event, ignoring", zap.Stringer("kind", kind))
		return
	}
	d.metrics.fired.WithLabelValues(kind.String()).Inc()

	d.mut_registrations.Lock()
	regs := append([]*registration(nil), d.registrations[kind]...)
	if d.paused {
		for _, reg := range regs {
			d.deferred = append(d.deferred, deferredFiring{reg: reg, event: ev})
		}
		d.mut_registrations.Unlock()
		d.metrics.deferred.Add(float64(len(regs)))
		return
	}
	d.mut_registrations.Unlock()

	if len(regs) == 0 {
		d.log.Debug("No subscribers for event", zap.Stringer("kind", kind))
		return
	}

	for _, reg := range regs {
		d.invoke(reg, ev)
	}
}

func (d *Dispatcher) invoke(reg *registration, ev Event) {
	if reg.removed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.metrics.panics.WithLabelValues(reg.kind.String()).Inc()
			d.log.Error("Event subscriber panicked",
				zap.Stringer("kind", reg.kind),
				zap.Stringer("subscriber", reg.sub),
				zap.Any("panic", r))
		}
	}()

	reg.invoke(ev)
}

// Pause queues every following firing until Resume.
func (d *Dispatcher) Pause() {
	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()
	d.paused = true
}

// Resume replays queued firings in the order they were fired. A subscriber
// that pauses again stops the replay; the rest stays queued.
func (d *Dispatcher) Resume() {
	d.mut_registrations.Lock()
	d.paused = false
	d.mut_registrations.Unlock()

	for {
		d.mut_registrations.Lock()
		if d.paused || len(d.deferred) == 0 {
			d.mut_registrations.Unlock()
			return
		}
		next := d.deferred[0]
		d.deferred[0] = deferredFiring{}
		d.deferred = d.deferred[1:]
		d.mut_registrations.Unlock()

		d.invoke(next.reg, next.event)
	}
}

func (d *Dispatcher) IsPaused() bool {
	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()
	return d.paused
}

// Pending is the number of queued firings.
func (d *Dispatcher) Pending() int {
	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()
	return len(d.deferred)
}

// Deregister removes every listener sub has for kind, including queued
// firings addressed to them.
func (d *Dispatcher) Deregister(kind Kind, sub Subscriber) {
	if !kind.Valid() {
		return
	}

	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()

	d.registrations[kind] = d.removeLocked(d.registrations[kind], sub)
	d.purgeDeferredLocked(func(reg *registration) bool {
		return reg.kind == kind && reg.sub == sub
	})
}

// DeregisterAll removes sub from every kind.
func (d *Dispatcher) DeregisterAll(sub Subscriber) {
	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()

	for kind := range d.registrations {
		d.registrations[kind] = d.removeLocked(d.registrations[kind], sub)
	}
	d.purgeDeferredLocked(func(reg *registration) bool {
		return reg.sub == sub
	})
}

func (d *Dispatcher) removeLocked(regs []*registration, sub Subscriber) []*registration {
	kept := regs[:0]
	for _, reg := range regs {
		if reg.sub == sub {
			reg.removed.Store(true)
			continue
		}
		kept = append(kept, reg)
	}
	clear(regs[len(kept):])
	return kept
}

func (d *Dispatcher) purgeDeferredLocked(match func(*registration) bool) {
	kept := d.deferred[:0]
	for _, f := range d.deferred {
		if !match(f.reg) {
			kept = append(kept, f)
		}
	}
	clear(d.deferred[len(kept):])
	d.deferred = kept
}

// SubscriberCount is the number of listeners registered for kind.
func (d *Dispatcher) SubscriberCount(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	d.mut_registrations.Lock()
	defer d.mut_registrations.Unlock()
	return len(d.registrations[kind])
}

// Claim binds the dispatcher to one owner. Claiming a dispatcher that
// already belongs to another owner fails.
func (d *Dispatcher) Claim(owner string) error {
	d.mut_owner.Lock()
	defer d.mut_owner.Unlock()

	if d.owner != "" && d.owner != owner {
		return &errors.AlreadyOwned{Resource: "events.Dispatcher"}
	}
	d.owner = owner
	return nil
}

// Release gives up a claim made by owner.
func (d *Dispatcher) Release(owner string) {
	d.mut_owner.Lock()
	defer d.mut_owner.Unlock()

	if d.owner == owner {
		d.owner = ""
	}
}
