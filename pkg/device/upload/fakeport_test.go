package upload

import (
	"io"
	"strings"
	"sync"
)

// scriptedPort is an in-memory modem double: every Write is matched
// against a sequence of expected command substrings, each producing a
// scripted response fed back as though the modem had sent it.
type scriptedPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	expected []step
}

type step struct {
	contains string
	response string
}

func newScriptedPort(steps []step) *scriptedPort {
	r, w := io.Pipe()
	return &scriptedPort{r: r, w: w, expected: steps}
}

func (p *scriptedPort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	var matched *step
	idx := -1
	for i, s := range p.expected {
		if strings.Contains(string(b), s.contains) {
			matched = &p.expected[i]
			idx = i
			break
		}
	}
	if matched != nil {
		p.expected = append(p.expected[:idx], p.expected[idx+1:]...)
	}
	p.mu.Unlock()

	if matched != nil {
		resp := matched.response
		go func() { _, _ = p.w.Write([]byte(resp)) }()
	}
	return len(b), nil
}

// feedRaw pushes bytes directly, used for binary (non-AT-triggered)
// frames like inline +RECEIVE payloads that arrive unprompted from the
// test's perspective (the CIPSEND confirmation triggers them here).
func (p *scriptedPort) feedRaw(s string) {
	go func() { _, _ = p.w.Write([]byte(s)) }()
}
