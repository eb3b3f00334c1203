package upload

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelcon-group/triptracker/pkg/device/modem"
	"github.com/intelcon-group/triptracker/pkg/device/storage"
)

type fakeStorage struct {
	counts  map[uint32]int
	entries []storage.UploadStatusEntry
	written []storage.UploadStatusEntry
	current uint32
}

func (s *fakeStorage) GetSessionTrackPointCount(localID uint32) (int, error) {
	return s.counts[localID], nil
}

func (s *fakeStorage) ReadTrackPoints(localID uint32, idx, count int) ([]byte, error) {
	return make([]byte, count*15), nil
}

func (s *fakeStorage) ReadUploadStatus() ([]storage.UploadStatusEntry, error) {
	return append([]storage.UploadStatusEntry(nil), s.entries...), nil
}

func (s *fakeStorage) WriteUploadStatus(entries []storage.UploadStatusEntry) error {
	s.written = entries
	return nil
}

func (s *fakeStorage) CurrentLocalSessionID() uint32 { return s.current }

type fakeStatePublisher struct {
	states []NetState
}

func (p *fakeStatePublisher) PublishNetState(s NetState) { p.states = append(p.states, s) }

type fakeInputs struct{ enabled bool }

func (i *fakeInputs) UploadEnabled() bool { return i.enabled }

func TestTickUploadDisabledPublishesIdle(t *testing.T) {
	port := newScriptedPort(nil)
	tr := modem.New(port, nil)
	defer tr.Close()

	st := &fakeStorage{}
	pub := &fakeStatePublisher{}
	inputs := &fakeInputs{enabled: false}

	a := New(tr, st, pub, inputs, Config{}, clock.NewMock(), nil)
	a.tick()

	require.NotEmpty(t, pub.states)
	assert.Equal(t, NetIdle, pub.states[len(pub.states)-1])
}

func TestTickNoSessionsIsNoOp(t *testing.T) {
	port := newScriptedPort(nil)
	tr := modem.New(port, nil)
	defer tr.Close()

	st := &fakeStorage{entries: nil}
	pub := &fakeStatePublisher{}
	inputs := &fakeInputs{enabled: true}

	a := New(tr, st, pub, inputs, Config{}, clock.NewMock(), nil)
	a.tick()

	assert.Equal(t, NetIdle, pub.states[len(pub.states)-1])
}

func TestMaxTrackPointsPerMessageFitsInOneByteCount(t *testing.T) {
	assert.LessOrEqual(t, maxTrackPointsPerMessage, 255)
}
