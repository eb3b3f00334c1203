package modem

import (
	"errors"
	"sync"
	"time"
)

// RecvBufferCapacity is the fixed size of a per-connection receive buffer.
const RecvBufferCapacity = 256

// ErrRecvBufferFull is returned when an inline +RECEIVE frame would
// overflow a connection's bounded buffer.
var ErrRecvBufferFull = errors.New("modem: per-connection receive buffer full")

// RecvBuffer is a bounded, single-producer/single-consumer byte buffer.
// The modem transport is the sole producer (writing decoded +RECEIVE
// payloads); the upload actor is the sole consumer. Grounded on and
// the cooperative-wakeup style used throughout the spec's "suspension
// point" actors, implemented here with plain channel-based signalling
// since Go has no native async/await suspension point to hook into.
type RecvBuffer struct {
	mu sync.Mutex
	data []byte
	waiters []chan struct{}
}

// NewRecvBuffer creates an empty, ready-to-use receive buffer.
func NewRecvBuffer() *RecvBuffer {
	return &RecvBuffer{data: make([]byte, 0, RecvBufferCapacity)}
}

// Write appends p to the buffer. Returns ErrRecvBufferFull if p would
// overflow the fixed capacity; the caller (the modem transport) then
// logs the overflow and drops the frame rather than blocking.
func (b *RecvBuffer) Write(p []byte) error {
	b.mu.Lock()
	if len(b.data)+len(p) > RecvBufferCapacity {
		b.mu.Unlock()
		return ErrRecvBufferFull
	}
	b.data = append(b.data, p...)
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

// ReadExactBlock reads exactly len(out) bytes, blocking indefinitely
// until they are available.
func (b *RecvBuffer) ReadExactBlock(out []byte) {
	for {
		if b.tryRead(out) {
			return
		}
		<-b.wait()
	}
}

// ReadExactTimeout reads exactly len(out) bytes, waking whenever the
// buffer grows, returning true once enough bytes are available or false
// if timeout elapses first.
func (b *RecvBuffer) ReadExactTimeout(out []byte, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.tryRead(out) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-b.wait():
		case <-time.After(remaining):
		}
	}
}

// tryRead copies len(out) bytes and compacts the buffer to the front if
// enough data is present; returns false (no-op) otherwise.
func (b *RecvBuffer) tryRead(out []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) < len(out) {
		return false
	}
	copy(out, b.data[:len(out)])
	b.data = append(b.data[:0], b.data[len(out):]...)
	return true
}

// wait registers a one-shot notification channel, closed the next time
// Write succeeds.
func (b *RecvBuffer) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	return ch
}
