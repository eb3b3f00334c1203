package modem

import (
	"io"
	"sync"
)

// fakePort is an in-memory duplex byte stream standing in for the UART,
// giving the test full control over what bytes the transport reads and
// a place to capture what it writes.
type fakePort struct {
	toTransport *io.PipeReader
	toTransportW *io.PipeWriter

	mu      sync.Mutex
	written []byte
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{toTransport: r, toTransportW: w}
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.toTransport.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written = append(p.written, b...)
	p.mu.Unlock()
	return len(b), nil
}

// feed pushes bytes as though the modem had sent them.
func (p *fakePort) feed(s string) {
	go func() { _, _ = p.toTransportW.Write([]byte(s)) }()
}

func (p *fakePort) lastWritten() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}
