package notify

import (
	"context"
	"errors"
	"sync"

	"onetime/matching-service/internal/logger"
)

// ErrStopped is returned when subscribing to a dispatcher that is not running.
var ErrStopped = errors.New("dispatcher stopped")

// allEvents keys subscribers that asked for every event name.
const allEvents EventName = "*"

// Fallback receives events that reached no live subscriber.
type Fallback interface {
	Deliver(ev Event)
}

type envelope struct {
	ev     Event
	remote bool
}

// Dispatcher is a single goroutine that owns the subscriber registry. Every
// mutation and every delivery happens on that goroutine, so events for one
// identity reach each subscriber in the order they were published.
type Dispatcher struct {
	log      *logger.Logger
	buffer   int
	fallback Fallback
	bus      Bus
	inbox    *Inbox

	in   chan envelope
	ops  chan func()
	done chan struct{}

	// registry: identity -> event name -> token -> subscription.
	// Only touched from the Run goroutine.
	rooms     map[string]map[EventName]map[uint64]*Subscription
	nextToken uint64
}

// Options configures a Dispatcher.
type Options struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
	// Inbox stores undeliverable events as notifications. May be nil.
	Inbox *Inbox
	// Bus fans events out to other instances. May be nil.
	Bus Bus
}

func NewDispatcher(opts Options, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	if opts.SubscriberBuffer < 1 {
		opts.SubscriberBuffer = 64
	}
	d := &Dispatcher{
		log:    log.With("component", "NotificationDispatcher"),
		buffer: opts.SubscriberBuffer,
		bus:    opts.Bus,
		inbox:  opts.Inbox,
		in:     make(chan envelope, 1024),
		ops:    make(chan func()),
		done:   make(chan struct{}),
		rooms:  make(map[string]map[EventName]map[uint64]*Subscription),
	}
	if opts.Inbox != nil {
		d.fallback = opts.Inbox
	}
	return d
}

// Inbox returns the offline inbox, or nil.
func (d *Dispatcher) Inbox() *Inbox { return d.inbox }

// Run owns the registry until ctx is cancelled, then closes every
// subscription. When a bus is configured, remote events are forwarded into
// the same loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	if d.bus != nil {
		err := d.bus.Start(ctx, func(ev Event) {
			select {
			case d.in <- envelope{ev: ev, remote: true}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			d.closeAll()
			return nil
		case op := <-d.ops:
			op()
		case env := <-d.in:
			d.deliver(ctx, env)
		}
	}
}

// Publish enqueues ev for delivery and returns without waiting for it.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.in <- envelope{ev: ev}:
	case <-d.done:
		d.log.Debug("dropping event, dispatcher stopped", "event", ev.Name)
	}
}

// Subscribe registers a live subscriber for identity. With no names, or
// with "*" among them, the subscriber receives every event of the room.
func (d *Dispatcher) Subscribe(ctx context.Context, identity string, names ...EventName) (*Subscription, error) {
	sub := &Subscription{
		identity: identity,
		names:    normalizeNames(names),
		ch:       make(chan Event, d.buffer),
		d:        d,
	}

	registered := make(chan struct{})
	op := func() {
		d.nextToken++
		sub.token = d.nextToken
		room := d.rooms[identity]
		if room == nil {
			room = make(map[EventName]map[uint64]*Subscription)
			d.rooms[identity] = room
		}
		for _, n := range sub.names {
			if room[n] == nil {
				room[n] = make(map[uint64]*Subscription)
			}
			room[n][sub.token] = sub
		}
		close(registered)
	}

	select {
	case d.ops <- op:
	case <-d.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	<-registered
	d.log.Debug("subscriber registered", "identity", identity, "token", sub.token)
	return sub, nil
}

// Subscribers reports how many live subscriptions identity has.
func (d *Dispatcher) Subscribers(identity string) int {
	result := make(chan int, 1)
	op := func() { result <- len(d.subscribersOf(identity)) }
	select {
	case d.ops <- op:
		return <-result
	case <-d.done:
		return 0
	}
}

func (d *Dispatcher) subscribersOf(identity string) map[uint64]*Subscription {
	out := make(map[uint64]*Subscription)
	for _, subs := range d.rooms[identity] {
		for tok, s := range subs {
			out[tok] = s
		}
	}
	return out
}

// normalizeNames drops duplicates and collapses any set containing the
// wildcard to the wildcard alone, so each subscription sits under one key
// per event.
func normalizeNames(names []EventName) []EventName {
	out := make([]EventName, 0, len(names))
	seen := make(map[EventName]bool, len(names))
	for _, n := range names {
		if n == allEvents {
			return []EventName{allEvents}
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return []EventName{allEvents}
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, env envelope) {
	ev := env.ev
	room := d.rooms[ev.Identity]

	delivered := 0
	sent := make(map[uint64]bool)
	for _, key := range []EventName{ev.Name, allEvents} {
		for tok, sub := range room[key] {
			if sent[tok] {
				continue
			}
			sent[tok] = true
			select {
			case sub.ch <- ev:
				delivered++
			default:
				d.log.Warn("evicting slow subscriber, buffer full",
					"identity", ev.Identity, "token", sub.token, "event", ev.Name)
				d.remove(sub)
			}
		}
	}

	if env.remote {
		return
	}
	if delivered == 0 && d.fallback != nil {
		d.fallback.Deliver(ev)
	}
	if d.bus != nil {
		if err := d.bus.Publish(ctx, ev); err != nil {
			d.log.Warn("bus publish failed", "event", ev.Name, "err", err)
		}
	}
}

// remove unregisters sub and closes its channel. Runs on the loop goroutine.
func (d *Dispatcher) remove(sub *Subscription) {
	room := d.rooms[sub.identity]
	present := false
	for _, n := range sub.names {
		if _, ok := room[n][sub.token]; ok {
			present = true
			delete(room[n], sub.token)
			if len(room[n]) == 0 {
				delete(room, n)
			}
		}
	}
	if len(room) == 0 {
		delete(d.rooms, sub.identity)
	}
	if present {
		close(sub.ch)
	}
}

func (d *Dispatcher) closeAll() {
	for identity := range d.rooms {
		for _, sub := range d.subscribersOf(identity) {
			d.remove(sub)
		}
	}
}

// Subscription is a live registration in one identity's room.
type Subscription struct {
	token    uint64
	identity string
	names    []EventName
	ch       chan Event
	d        *Dispatcher
	once     sync.Once
}

// Token identifies the subscription in the registry.
func (s *Subscription) Token() uint64 { return s.token }

// Events is closed when the subscription ends, whether by Unsubscribe,
// eviction or dispatcher shutdown.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		finished := make(chan struct{})
		select {
		case s.d.ops <- func() { s.d.remove(s); close(finished) }:
			<-finished
		case <-s.d.done:
		}
	})
}
