// Package sessionbuffer is the server-side per-session append journal:
// cheap append semantics for live points plus range reads for the
// real-time update API, promoted to long-term storage on session close.
package sessionbuffer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

type buffer struct {
	mu sync.Mutex
	file *os.File
	path string
	start int64 // Unix seconds, matches the 8-byte header
	points []trackcodec.Point
}

// Manager owns the directory of per-session journal files and the
// in-memory vectors loaded eagerly from them.
type Manager struct {
	dir string
	log *zap.SugaredLogger

	mu sync.Mutex
	buffers map[int64]*buffer
}

// Open scans dir for existing session files and loads each into memory.
// A file shorter than the 8-byte header, or one whose name doesn't parse
// as "<session_id>_<title>", is rejected (logged and skipped) rather than
// failing the whole scan.
func Open(dir string, log *zap.SugaredLogger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionbuffer: create dir: %w", err)
	}

	m := &Manager{dir: dir, log: log, buffers: make(map[int64]*buffer)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sessionbuffer: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSessionID(e.Name())
		if !ok {
			log.Warnw("skipping unrecognized session buffer file", "name", e.Name())
			continue
		}
		path := filepath.Join(dir, e.Name())
		b, err := loadBuffer(path, id)
		if err != nil {
			log.Warnw("skipping malformed session buffer file", "name", e.Name(), "error", err)
			continue
		}
		m.buffers[id] = b
	}
	return m, nil
}

func parseSessionID(name string) (int64, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func loadBuffer(path string, id int64) (*buffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < trackcodec.HeaderSize {
		f.Close()
		return nil, ErrMalformedFile
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	start, points, err := trackcodec.DecodeTSF(raw)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &buffer{file: f, path: path, start: start.Unix(), points: points}, nil
}

// StartSession creates a new journal file for id and writes its header
// eagerly, flushed before returning.
func (m *Manager) StartSession(id int64, title string, startUnix int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[id]; ok {
		return ErrSessionExists
	}

	name := fmt.Sprintf("%d_%s", id, sanitizeTitle(title))
	path := filepath.Join(m.dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sessionbuffer: create: %w", err)
	}

	header := trackcodec.EncodeHeader(time.Unix(startUnix, 0).UTC())
	if _, err := f.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("sessionbuffer: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sessionbuffer: sync header: %w", err)
	}

	m.buffers[id] = &buffer{file: f, path: path, start: startUnix}
	return nil
}

func sanitizeTitle(title string) string {
	return strings.ReplaceAll(title, "_", "-")
}

// AddPoints appends every point to id's journal, relative to its stored
// start time, and flushes once.
func (m *Manager) AddPoints(id int64, points []trackcodec.Point) error {
	m.mu.Lock()
	b, ok := m.buffers[id]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	startTime := time.Unix(b.start, 0).UTC()
	for _, p := range points {
		if _, err := b.file.Write(trackcodec.EncodePoint(p, startTime)); err != nil {
			return fmt.Errorf("sessionbuffer: append: %w", err)
		}
	}
	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("sessionbuffer: sync: %w", err)
	}
	b.points = append(b.points, points...)
	return nil
}

// GetAllTrackPoints returns the in-memory vector loaded or accumulated
// for id.
func (m *Manager) GetAllTrackPoints(id int64) ([]trackcodec.Point, bool) {
	m.mu.Lock()
	b, ok := m.buffers[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]trackcodec.Point(nil), b.points...), true
}

// GetTrackPointsSince returns every point with index >= index, answering
// "what's new since N?" for the real-time update API.
func (m *Manager) GetTrackPointsSince(id int64, index int) ([]trackcodec.Point, bool) {
	m.mu.Lock()
	b, ok := m.buffers[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.points) {
		return nil, true
	}
	return append([]trackcodec.Point(nil), b.points[index:]...), true
}

// CloseSession removes id's journal file and returns its final point
// vector, for the caller to promote to long-term storage.
func (m *Manager) CloseSession(id int64) ([]trackcodec.Point, error) {
	m.mu.Lock()
	b, ok := m.buffers[id]
	if ok {
		delete(m.buffers, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.file.Close()
	points := append([]trackcodec.Point(nil), b.points...)
	if err := os.Remove(b.path); err != nil {
		return points, fmt.Errorf("sessionbuffer: remove: %w", err)
	}
	return points, nil
}
