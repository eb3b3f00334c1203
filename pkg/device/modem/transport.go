// Package modem implements the cellular-modem transport: a
// request/response AT-command API plus a URC subscription API,
// demultiplexing a mixed byte stream of AT responses, URCs, the
// ready-for-input prompt, and inline binary receive frames.
package modem

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Port is the transport's view of the physical UART: a duplex byte
// stream. Production wires a real serial port; tests wire an in-memory
// pipe or a scripted fake, per SPEC_FULL.md's "mock/simulated modem port"
// supplement.
type Port io.ReadWriter

// Transport owns one Port and demultiplexes it among concurrent
// requesters under a single exclusive lock.
type Transport struct {
	port Port
	log *zap.SugaredLogger
	writer *bufio.Writer

	lock sync.Mutex // the exclusive modem lock; held across a Txn's lifetime

	rx *rxBuffer
	pendingText []string

	pendingMu sync.Mutex
	pending chan atResult

	persistent *urcRegistry
	oneshot *oneShotRegistry

	recvMu sync.Mutex
	recvBuf map[int]*RecvBuffer

	closeOnce sync.Once
	done chan struct{}
}

type atResult struct {
	kind messageKind
	text string
}

// New creates a Transport over port and starts its read loop.
func New(port Port, log *zap.SugaredLogger) *Transport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Transport{
		port: port,
		log: log,
		writer: bufio.NewWriter(port),
		rx: newRxBuffer(),
		persistent: newUrcRegistry(),
		oneshot: newOneShotRegistry(),
		recvBuf: make(map[int]*RecvBuffer),
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Close stops the read loop. The underlying Port is not closed here; the
// caller owns it.
func (t *Transport) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

// Subscribe registers a persistent subscriber for all URCs whose tag
// matches. The returned Subscription must be Unsubscribe()'d when no
// longer needed.
func (t *Transport) Subscribe(tag string) *Subscription {
	return t.persistent.subscribe(tag)
}

// RecvBufferFor returns (creating if needed) the bounded receive buffer
// for a connection id, written to whenever an inline +RECEIVE frame for
// that connection is decoded.
func (t *Transport) RecvBufferFor(conn int) *RecvBuffer {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	if b, ok := t.recvBuf[conn]; ok {
		return b
	}
	b := NewRecvBuffer()
	t.recvBuf[conn] = b
	return b
}

// DropRecvBuffer forgets a connection's receive buffer (on session close).
func (t *Transport) DropRecvBuffer(conn int) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	delete(t.recvBuf, conn)
}

// Txn is one request/response transaction (or a sequence of them) held
// under the exclusive modem lock, mirroring the Rust source's pattern of
// holding a MutexGuard across an `.await` chain. Begin/End bracket
// the critical section.
type Txn struct {
	t *Transport
}

// Begin acquires the modem lock and returns a Txn for issuing one or more
// commands. Multi-step flows (connect, send, receive-nonce) call Begin
// once and issue every step through the same Txn, exactly like the
// upload actor deliberately holding the modem lock across a connect
// sequence.
func (t *Transport) Begin() *Txn {
	t.lock.Lock()
	return &Txn{t: t}
}

// End releases the modem lock.
func (x *Txn) End() { x.t.lock.Unlock() }

// Send writes cmd followed by \r and awaits exactly one terminal
// response: OK (with keepResult text if keepResult is true), or a typed
// error. On timeout, ErrTimeout is returned and the modem remains usable
// for the next independent command.
func (x *Txn) Send(cmd string, keepResult bool, timeout time.Duration) (string, error) {
	t := x.t

	resultCh := make(chan atResult, 1)
	t.pendingMu.Lock()
	t.pending = resultCh
	t.pendingMu.Unlock()

	if _, err := t.writer.WriteString(cmd + "\r"); err != nil {
		t.clearPending()
		return "", fmt.Errorf("%w: %v", ErrTxFailed, err)
	}
	if err := t.writer.Flush(); err != nil {
		t.clearPending()
		return "", fmt.Errorf("%w: %v", ErrTxFailed, err)
	}

	select {
	case res := <-resultCh:
		return classifyResult(res, keepResult)
	case <-time.After(timeout):
		t.clearPending()
		return "", ErrTimeout
	}
}

func classifyResult(res atResult, keepResult bool) (string, error) {
	switch res.kind {
	case kindOK:
		if keepResult {
			return res.text, nil
		}
		return "", nil
	case kindReadyPrompt:
		return "", nil
	case kindErr:
		return "", AtError{}
	case kindCME:
		return "", CMEError{Text: res.text}
	case kindCMS:
		return "", CMSError{Text: res.text}
	case kindIP:
		return "", IPError{Text: res.text}
	case kindCIP:
		return "", CIPError{Text: res.text}
	default:
		return "", fmt.Errorf("modem: unexpected response kind %d", res.kind)
	}
}

// SendAwaitPrompt is Send for the CIPSEND preamble: it waits for the
// ready-for-input prompt ('>') rather than OK.
func (x *Txn) SendAwaitPrompt(cmd string, timeout time.Duration) error {
	t := x.t

	resultCh := make(chan atResult, 1)
	t.pendingMu.Lock()
	t.pending = resultCh
	t.pendingMu.Unlock()

	if _, err := t.writer.WriteString(cmd + "\r"); err != nil {
		t.clearPending()
		return fmt.Errorf("%w: %v", ErrTxFailed, err)
	}
	if err := t.writer.Flush(); err != nil {
		t.clearPending()
		return fmt.Errorf("%w: %v", ErrTxFailed, err)
	}

	select {
	case res := <-resultCh:
		if res.kind == kindReadyPrompt {
			return nil
		}
		_, err := classifyResult(res, false)
		if err == nil {
			err = fmt.Errorf("modem: expected ready prompt, got OK")
		}
		return err
	case <-time.After(timeout):
		t.clearPending()
		return ErrTimeout
	}
}

// InterrogateURC sends cmd and awaits both its AT response and the first
// URC matching tag, used for asynchronous operations like
// NETOPEN/CIPOPEN.
func (x *Txn) InterrogateURC(cmd, tag string, timeout time.Duration) (string, URC, error) {
	t := x.t

	urcCh, cancel := t.oneshot.register(tag)
	defer cancel()

	text, err := x.Send(cmd, true, timeout)
	if err != nil {
		return "", URC{}, err
	}

	select {
	case u := <-urcCh:
		return text, u, nil
	case <-time.After(timeout):
		return "", URC{}, ErrTimeout
	}
}

// CipSendBytes sends a binary payload over an open socket connection:
// register a one-shot for the +CIPSEND confirmation, send AT+CIPSEND=conn,len,
// await the ready prompt, write the raw bytes, then await confirmation.
func (x *Txn) CipSendBytes(conn int, data []byte, timeout time.Duration) error {
	t := x.t

	confirmCh, cancel := t.oneshot.register("CIPSEND")
	defer cancel()

	if err := x.SendAwaitPrompt(fmt.Sprintf("AT+CIPSEND=%d,%d", conn, len(data)), timeout); err != nil {
		return err
	}

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrTxFailed, err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrTxFailed, err)
	}

	select {
	case <-confirmCh:
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}

func (t *Transport) clearPending() {
	t.pendingMu.Lock()
	t.pending = nil
	t.pendingMu.Unlock()
}

// readLoop continuously reads from the port, extracts framed messages,
// and routes each to the in-flight request, the URC registries, or a
// connection's receive buffer.
func (t *Transport) readLoop() {
	buf := make([]byte, 1024)
	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if err != io.EOF {
				t.log.Debugw("modem read error", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		t.rx.append(buf[:n])

		for {
			t.pendingMu.Lock()
			hasPending := t.pending != nil
			t.pendingMu.Unlock()

			msg, ok := t.rx.extract(&t.pendingText, hasPending)
			if !ok {
				break
			}
			t.route(msg)
		}
	}
}

func (t *Transport) route(msg message) {
	switch msg.kind {
	case kindURC:
		u := URC{Tag: msg.urcTag, Body: msg.urcBody}
		t.persistent.dispatch(u)
		t.oneshot.dispatch(u)
	case kindInlineReceive:
		buf := t.RecvBufferFor(msg.connID)
		if err := buf.Write(msg.inlineRx); err != nil {
			t.log.Warnw("receive buffer overflow", "conn", msg.connID, "error", err)
		}
	default:
		t.pendingText = nil
		t.pendingMu.Lock()
		pending := t.pending
		t.pending = nil
		t.pendingMu.Unlock()
		if pending != nil {
			pending <- atResult{kind: msg.kind, text: msg.text}
		}
	}
}
