// Package walltime implements the device-wide wall-clock publisher: a
// watch channel carrying the last (time, instant) pair announced by the
// GNSS actor, with microsecond-accurate interpolation for readers who
// ask "what time is it" between publications.
package walltime

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Publisher holds the most recently announced wall-clock reading and
// interpolates forward using a monotonic clock between publications.
type Publisher struct {
	clk clock.Clock

	mu sync.Mutex
	wall time.Time // wall-clock time at the last Publish
	instant time.Time // monotonic clock.Clock reading at the last Publish
	set bool
	waiters []chan struct{}
}

// NewPublisher creates a Publisher. A nil clk uses the real clock.
func NewPublisher(clk clock.Clock) *Publisher {
	if clk == nil {
		clk = clock.New()
	}
	return &Publisher{clk: clk}
}

// Publish announces a new authoritative wall-clock reading, typically
// called once by the GNSS actor on its first accepted fix per session.
func (p *Publisher) Publish(wall time.Time) {
	p.mu.Lock()
	p.wall = wall
	p.instant = p.clk.Now()
	p.set = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Now returns the current wall-clock estimate: the last published time
// plus elapsed monotonic time since publication. ok is false if no
// reading has ever been published.
func (p *Publisher) Now() (t time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return time.Time{}, false
	}
	elapsed := p.clk.Now().Sub(p.instant)
	return p.wall.Add(elapsed), true
}

// Wait blocks until the next Publish call, useful for actors that need
// to act as soon as the clock becomes authoritative.
func (p *Publisher) Wait() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	return ch
}
