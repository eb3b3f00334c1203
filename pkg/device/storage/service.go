// Package storage implements the device-side storage service:
// the sole writer to the removable card, owning CONFIG.CFG, STATE.CSV,
// SYSTEM.LOG, and the per-power-cycle SESSIONS/<id>/ directories.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/intelcon-group/triptracker/pkg/trackcodec"
)

const (
	configFileName = "CONFIG.CFG"
	stateFileName = "STATE.CSV"
	systemLogFileName = "SYSTEM.LOG"
	sessionsDirName = "SESSIONS"
	sessionTSFFileName = "SESSION.TSF"
	sessionLogFileName = "SESSION.LOG"
)

// Service owns the removable volume rooted at Dir. It is the single
// writer to the card; all reads route through its methods too.
type Service struct {
	dir string
	log *zap.SugaredLogger

	mu sync.Mutex
	currentID uint32
	currentTSF *os.File
	currentLog *os.File
	haveStart bool
	stateFileLength int // previous STATE.CSV length, for the pad-in-place rewrite
}

// Open loads CONFIG.CFG, scans SESSIONS/ for the next local session id,
// and creates the new session's files. Both failures are fatal on the
// device.
func Open(dir string, log *zap.SugaredLogger) (*Service, Config, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	cfgFile, err := os.Open(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, Config{}, fmt.Errorf("%w: %v", ErrConfigOpen, err)
	}
	defer cfgFile.Close()

	cfg, err := ParseConfig(cfgFile)
	if err != nil {
		return nil, Config{}, err
	}

	sessionsDir := filepath.Join(dir, sessionsDirName)
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, Config{}, fmt.Errorf("%w: %v", ErrVolumeOpen, err)
	}

	nextID, err := nextLocalSessionID(sessionsDir)
	if err != nil {
		return nil, Config{}, fmt.Errorf("%w: %v", ErrVolumeOpen, err)
	}

	s := &Service{dir: dir, log: log, currentID: nextID}
	if err := s.createSessionFiles(nextID); err != nil {
		return nil, Config{}, fmt.Errorf("%w: %v", ErrVolumeOpen, err)
	}

	if statInfo, err := os.Stat(filepath.Join(dir, stateFileName)); err == nil {
		s.stateFileLength = int(statInfo.Size())
	}

	return s, cfg, nil
}

func nextLocalSessionID(sessionsDir string) (uint32, error) {
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return 0, err
	}
	var max int64 = -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if id > max {
			max = id
		}
	}
	return uint32(max + 1), nil
}

func (s *Service) createSessionFiles(id uint32) error {
	dir := filepath.Join(s.dir, sessionsDirName, strconv.FormatUint(uint64(id), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Not O_APPEND: SetStartTime's WriteAt(header, 0) needs the real
	// offset 0, and O_APPEND forces every write, including WriteAt, to
	// the current end of file instead. AppendTrackPoint seeks to the
	// end explicitly before each write.
	tsf, err := os.OpenFile(filepath.Join(dir, sessionTSFFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(dir, sessionLogFileName), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		tsf.Close()
		return err
	}

	s.currentTSF = tsf
	s.currentLog = logFile
	return nil
}

// CurrentLocalSessionID returns the local id created on Open.
func (s *Service) CurrentLocalSessionID() uint32 {
	return s.currentID
}

// SetStartTime writes the 8-byte big-endian Unix timestamp header at
// offset 0 of SESSION.TSF. Must be called exactly once before any
// AppendTrackPoint.
func (s *Service) SetStartTime(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveStart {
		return ErrStartTimeAlreadySet
	}
	header := trackcodec.EncodeHeader(t)
	if _, err := s.currentTSF.WriteAt(header, 0); err != nil {
		return err
	}
	if err := s.currentTSF.Sync(); err != nil {
		return err
	}
	s.haveStart = true
	return nil
}

// AppendTrackPoint writes exactly 15 bytes at end-of-file and flushes.
// The point is encoded relative to the session start-time already on
// disk.
func (s *Service) AppendTrackPoint(p trackcodec.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveStart {
		return ErrStartTimeNotSet
	}

	start, err := s.readStartTimeLocked()
	if err != nil {
		return err
	}

	encoded := trackcodec.EncodePoint(p, start)
	if _, err := s.currentTSF.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := s.currentTSF.Write(encoded); err != nil {
		return err
	}
	return s.currentTSF.Sync()
}

func (s *Service) readStartTimeLocked() (time.Time, error) {
	header := make([]byte, trackcodec.HeaderSize)
	if _, err := s.currentTSF.ReadAt(header, 0); err != nil {
		return time.Time{}, err
	}
	return trackcodec.DecodeHeader(header)
}

// ReadSessionStartTimestamp reads the 8-byte header of a (possibly
// historical) session's SESSION.TSF.
func (s *Service) ReadSessionStartTimestamp(localID uint32) (time.Time, error) {
	data, err := os.ReadFile(s.tsfPath(localID))
	if err != nil {
		return time.Time{}, err
	}
	if len(data) < trackcodec.HeaderSize {
		return time.Time{}, fmt.Errorf("%w: file too short", ErrBadTSFSize)
	}
	return trackcodec.DecodeHeader(data[:trackcodec.HeaderSize])
}

// GetSessionTrackPointCount returns (file_size-8)/15 for a session.
func (s *Service) GetSessionTrackPointCount(localID uint32) (int, error) {
	info, err := os.Stat(s.tsfPath(localID))
	if err != nil {
		return 0, err
	}
	n := trackcodec.PointCountForSize(info.Size())
	if (info.Size()-int64(trackcodec.HeaderSize))%int64(trackcodec.PointSize) != 0 {
		s.log.Warnw("TSF size not congruent to header mod point size", "local_id", localID, "size", info.Size())
	}
	return n, nil
}

// ReadTrackPoints opens the target SESSION.TSF, seeks to the record
// range, and returns the raw encoded bytes for idx..idx+count.
func (s *Service) ReadTrackPoints(localID uint32, idx, count int) ([]byte, error) {
	f, err := os.Open(s.tsfPath(localID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	offset := int64(trackcodec.HeaderSize + idx*trackcodec.PointSize)
	buf := make([]byte, count*trackcodec.PointSize)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Service) tsfPath(localID uint32) string {
	return filepath.Join(s.dir, sessionsDirName, strconv.FormatUint(uint64(localID), 10), sessionTSFFileName)
}

// ReadUploadStatus parses STATE.CSV, rewriting it with a bare header if
// it is missing or empty.
func (s *Service) ReadUploadStatus() ([]UploadStatusEntry, error) {
	path := filepath.Join(s.dir, stateFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		content = nil
	}

	entries, err := ParseUploadStatus(content)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		if err := s.WriteUploadStatus(nil); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// WriteUploadStatus serializes entries to STATE.CSV, padding with NUL
// bytes up to the previous file length to avoid a FAT truncation
// rewrite.
func (s *Service) WriteUploadStatus(entries []UploadStatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := SerializeUploadStatus(entries)
	padded := padTo(data, s.stateFileLength)

	path := filepath.Join(s.dir, stateFileName)
	if err := os.WriteFile(path, padded, 0o644); err != nil {
		return err
	}
	if len(padded) > s.stateFileLength {
		s.stateFileLength = len(padded)
	}
	return nil
}

// AppendSystemLog appends a free-text line to SYSTEM.LOG.
func (s *Service) AppendSystemLog(line string) error {
	f, err := os.OpenFile(filepath.Join(s.dir, systemLogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// Close flushes and closes the current session's files.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.currentLog != nil {
		if err := s.currentLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.currentTSF != nil {
		if err := s.currentTSF.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
