package gnss

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelcon-group/triptracker/internal/walltime"
	"github.com/intelcon-group/triptracker/pkg/device/modem"
	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written []byte
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *fakePort) feed(s string)              { go func() { _, _ = p.w.Write([]byte(s)) }() }

// Write records each command and answers it with OK once it is sent.
func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written = append(p.written, b...)
	p.mu.Unlock()
	p.feed("OK\r\n")
	return len(b), nil
}

func (p *fakePort) writtenText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

type fakeStorage struct {
	mu     sync.Mutex
	start  time.Time
	points []trackcodec.Point
}

func (s *fakeStorage) SetStartTime(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = t
	return nil
}

func (s *fakeStorage) AppendTrackPoint(p trackcodec.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	return nil
}

func (s *fakeStorage) snapshot() (time.Time, []trackcodec.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start, append([]trackcodec.Point(nil), s.points...)
}

type fakeLED struct {
	mu     sync.Mutex
	hasFix bool
}

func (l *fakeLED) SetFixState(hasFix bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasFix = hasFix
}

func TestActorEnableSendsFixedSequence(t *testing.T) {
	port := newFakePort()
	tr := modem.New(port, nil)
	defer tr.Close()

	storage := &fakeStorage{}
	led := &fakeLED{}
	a := New(tr, storage, led, walltime.NewPublisher(nil), nil)

	require.NoError(t, a.enable())
	assert.Equal(t, "AT+CGNSSPWR=1\rAT+CGNSSMODE=15\rAT+CGNSSTST=1\rAT+CGNSSPORTSWITCH=0,1\r", port.writtenText())
}

func TestActorHandleURCSetsStartTimeAndAppendsPoint(t *testing.T) {
	port := newFakePort()
	tr := modem.New(port, nil)
	defer tr.Close()

	storage := &fakeStorage{}
	led := &fakeLED{}
	clockPub := walltime.NewPublisher(nil)
	a := New(tr, storage, led, clockPub, nil)

	a.handleURC(validBody())

	start, points := storage.snapshot()
	assert.False(t, start.IsZero())
	require.Len(t, points, 1)
	assert.InDelta(t, 48.8566, points[0].Latitude, 1e-9)

	now, ok := clockPub.Now()
	require.True(t, ok)
	assert.Equal(t, start.Unix(), now.Unix())
}

func TestActorHandleURCDiscardsMalformedSilently(t *testing.T) {
	port := newFakePort()
	tr := modem.New(port, nil)
	defer tr.Close()

	storage := &fakeStorage{}
	led := &fakeLED{}
	a := New(tr, storage, led, walltime.NewPublisher(nil), nil)

	a.handleURC("garbage")

	_, points := storage.snapshot()
	assert.Empty(t, points)
}
