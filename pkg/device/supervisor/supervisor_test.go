package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelcon-group/triptracker/internal/lifecycle"
)

type fakeWakePin struct {
	mu   sync.Mutex
	high bool
}

func (f *fakeWakePin) IsHigh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high
}

func (f *fakeWakePin) setHigh(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.high = v
}

type fakeSleeper struct {
	mu     sync.Mutex
	asked  bool
	woken  chan struct{}
}

func newFakeSleeper() *fakeSleeper {
	return &fakeSleeper{woken: make(chan struct{})}
}

func (f *fakeSleeper) EnterDeepSleep() {
	f.mu.Lock()
	f.asked = true
	f.mu.Unlock()
	close(f.woken)
}

func (f *fakeSleeper) wasAsked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.asked
}

func TestRegisterStopAllOrdersInReverse(t *testing.T) {
	var stopped []string
	var mu sync.Mutex

	termA := lifecycle.NewTerminator()
	termB := lifecycle.NewTerminator()
	termC := lifecycle.NewTerminator()

	record := func(name string, term *lifecycle.Terminator) {
		go func() {
			<-waitForTerminate(term)
			mu.Lock()
			stopped = append(stopped, name)
			mu.Unlock()
			term.Confirm()
		}()
	}
	record("a", termA)
	record("b", termB)
	record("c", termC)

	sup := New(&fakeWakePin{high: true}, newFakeSleeper(), clock.NewMock(), nil)
	sup.Register("a", termA)
	sup.Register("b", termB)
	sup.Register("c", termC)

	sup.StopAll()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c", "b", "a"}, stopped)
}

// waitForTerminate polls ShouldStop since Terminator exposes no channel
// for the request itself, only for confirmation.
func waitForTerminate(term *lifecycle.Terminator) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for !term.ShouldStop() {
			time.Sleep(time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func TestRunEntersDeepSleepAfterWakePinLowThreshold(t *testing.T) {
	pin := &fakeWakePin{high: false}
	sleeper := newFakeSleeper()
	clk := clock.NewMock()

	sup := New(pin, sleeper, clk, nil)
	sup.pollInterval = 10 * time.Millisecond
	sup.lowThreshold = 30 * time.Millisecond

	done := make(chan struct{})
	go func() {
		sup.Run()
		close(done)
	}()

	for i := 0; i < 10; i++ {
		clk.Add(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	select {
	case <-sleeper.woken:
	case <-time.After(time.Second):
		t.Fatal("deep sleep never requested")
	}
	<-done
	require.True(t, sleeper.wasAsked())
}

func TestRunResetsLowCounterWhenPinGoesHigh(t *testing.T) {
	pin := &fakeWakePin{high: false}
	sleeper := newFakeSleeper()
	clk := clock.NewMock()

	sup := New(pin, sleeper, clk, nil)
	sup.pollInterval = 10 * time.Millisecond
	sup.lowThreshold = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		sup.Run()
		close(done)
	}()

	// One low tick, short of the threshold, then the pin goes high:
	// the low-since counter must reset instead of carrying over.
	clk.Add(10 * time.Millisecond)
	time.Sleep(time.Millisecond)
	pin.setHigh(true)
	clk.Add(10 * time.Millisecond)
	time.Sleep(time.Millisecond)

	sup.term.Terminate()
	clk.Add(10 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor never stopped on its own terminator")
	}
	assert.False(t, sleeper.wasAsked())
}
