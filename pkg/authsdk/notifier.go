package authsdk

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Notifier fans auth state changes out to subscribers. Provider adapters
// publish into it; it guarantees that
//
//   - notifications are delivered one at a time, in publish order;
//   - a subscriber that arrives after the provider has published receives
//     the current state first;
//   - once Unsubscribe returns, no further delivery to that subscriber starts.
//
// Deliveries run on a notifier goroutine, never on the publisher's.
type Notifier struct {
	mu      sync.Mutex
	subs    []*Subscription
	queue   []delivery
	running bool
	primed  bool
	current *Subject
}

// delivery targets are fixed when it is queued, so a subscriber never sees a
// notification published before it subscribed except as its replay.
type delivery struct {
	subject *Subject
	to      []*Subscription
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	n      *Notifier
	fn     func(*Subject)
	active atomic.Bool
	once   sync.Once
}

// Subscribe registers fn.
func (n *Notifier) Subscribe(fn func(*Subject)) *Subscription {
	s := &Subscription{n: n, fn: fn}
	s.active.Store(true)

	n.mu.Lock()
	defer n.mu.Unlock()

	n.subs = append(n.subs, s)
	if n.primed {
		n.enqueueLocked(delivery{subject: n.current, to: []*Subscription{s}})
	}
	return s
}

// Publish records subject as the current state and notifies every subscriber.
// A nil subject means signed out.
func (n *Notifier) Publish(subject *Subject) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.primed = true
	n.current = subject
	n.enqueueLocked(delivery{subject: subject, to: slices.Clone(n.subs)})
}

// Current returns the last published subject and whether anything has been
// published yet.
func (n *Notifier) Current() (*Subject, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current, n.primed
}

func (n *Notifier) enqueueLocked(d delivery) {
	n.queue = append(n.queue, d)
	if !n.running {
		n.running = true
		go n.drain()
	}
}

func (n *Notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.running = false
			n.mu.Unlock()
			return
		}

		d := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		for _, s := range d.to {
			s.deliver(d.subject)
		}
	}
}

func (n *Notifier) remove(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = slices.DeleteFunc(n.subs, func(x *Subscription) bool { return x == s })
}

func (s *Subscription) deliver(subject *Subject) {
	if !s.active.Load() {
		return
	}
	s.fn(subject)
}

// Unsubscribe stops deliveries. It is safe to call more than once and from
// inside the subscriber's own callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.n.remove(s)
	})
}
