package modem

import "sync"

// URC is a parsed unsolicited result code: "+TAG: payload" or "+TAG,payload".
type URC struct {
	Tag string
	Body string
}

const subscriberInboxDepth = 10

// Subscription is a persistent URC subscriber keyed by tag. Its inbox is
// bounded; when full, the oldest pending URC is dropped to admit the new
// one. Grounded on internal/parser.Registry's mutex-guarded map shape,
// adapted from a protocol-number keyed parser table to a tag-keyed
// subscriber table.
type Subscription struct {
	tag string
	inbox chan URC
	parent *urcRegistry
}

// C returns the channel of delivered URCs for this subscription.
func (s *Subscription) C() <-chan URC { return s.inbox }

// Unsubscribe removes this subscription; further matching URCs are no
// longer delivered to it.
func (s *Subscription) Unsubscribe() { s.parent.remove(s) }

// urcRegistry is the persistent-subscriber pool: one entry per tag,
// fanning a matching URC out to every subscriber registered for it.
type urcRegistry struct {
	mu sync.Mutex
	subs map[string][]*Subscription
}

func newUrcRegistry() *urcRegistry {
	return &urcRegistry{subs: make(map[string][]*Subscription)}
}

func (r *urcRegistry) subscribe(tag string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Subscription{tag: tag, inbox: make(chan URC, subscriberInboxDepth), parent: r}
	r.subs[tag] = append(r.subs[tag], s)
	return s
}

func (r *urcRegistry) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[s.tag]
	for i, cand := range list {
		if cand == s {
			r.subs[s.tag] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// dispatch delivers u to every persistent subscriber registered for its
// tag, dropping the oldest queued URC on a full inbox rather than
// blocking the reader loop.
func (r *urcRegistry) dispatch(u URC) {
	r.mu.Lock()
	subs := append([]*Subscription(nil), r.subs[u.Tag]...)
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.inbox <- u:
		default:
			select {
			case <-s.inbox:
			default:
			}
			select {
			case s.inbox <- u:
			default:
			}
		}
	}
}

// oneShotRegistry holds subscribers waiting for exactly one matching URC,
// automatically removed after delivery or on the caller giving up
// (timeout). Separate pool from the persistent one.
type oneShotRegistry struct {
	mu sync.Mutex
	subs map[string][]chan URC
}

func newOneShotRegistry() *oneShotRegistry {
	return &oneShotRegistry{subs: make(map[string][]chan URC)}
}

// register returns a channel that receives exactly the next URC matching
// tag. Callers must call cancel if they stop waiting before delivery
// (e.g. on timeout) so the channel is removed from the pool.
func (r *oneShotRegistry) register(tag string) (ch chan URC, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := make(chan URC, 1)
	r.subs[tag] = append(r.subs[tag], c)

	cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[tag]
		for i, cand := range list {
			if cand == c {
				r.subs[tag] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return c, cancel
}

// dispatch delivers u to at most one waiting one-shot subscriber per
// registered channel for the tag, then removes them (one-shots are
// single-delivery by construction).
func (r *oneShotRegistry) dispatch(u URC) {
	r.mu.Lock()
	list := r.subs[u.Tag]
	delete(r.subs, u.Tag)
	r.mu.Unlock()

	for _, c := range list {
		select {
		case c <- u:
		default:
		}
	}
}
