package storage

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

const uploadStatusHeader = "local_id,remote_id,uploaded\n"

// UploadStatusEntry is one line of STATE.CSV.
type UploadStatusEntry struct {
	LocalID uint32
	RemoteID int64 // -1 means unassigned ("?" on disk)
	Uploaded int64
}

// HasRemoteID reports whether a remote session id has been assigned.
func (e UploadStatusEntry) HasRemoteID() bool { return e.RemoteID >= 0 }

// ParseUploadStatus parses STATE.CSV content. A missing or empty file
// yields an empty status list; the caller then rewrites the header.
func ParseUploadStatus(content []byte) ([]UploadStatusEntry, error) {
	if len(content) == 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	if !scanner.Scan() {
		return nil, nil
	}
	// First line is the header; subsequent non-empty lines (trailing
	// NUL padding stops the scan) are entries.
	var entries []UploadStatusEntry
	for scanner.Scan() {
		line := scanner.Text()
		line = strings.TrimRight(line, "\x00")
		if line == "" {
			break // padding reached
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: malformed line %q", ErrUploadStatusParse, line)
		}
		localID, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad local_id: %v", ErrUploadStatusParse, err)
		}
		remoteID := int64(-1)
		if parts[1] != "?" {
			remoteID, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad remote_id: %v", ErrUploadStatusParse, err)
			}
		}
		uploaded, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad uploaded: %v", ErrUploadStatusParse, err)
		}
		entries = append(entries, UploadStatusEntry{LocalID: uint32(localID), RemoteID: remoteID, Uploaded: uploaded})
	}
	return entries, nil
}

// SerializeUploadStatus renders entries back to STATE.CSV text (without
// padding; the caller pads to the previous file length).
func SerializeUploadStatus(entries []UploadStatusEntry) []byte {
	var b strings.Builder
	b.WriteString(uploadStatusHeader)
	for _, e := range entries {
		remote := "?"
		if e.HasRemoteID() {
			remote = strconv.FormatInt(e.RemoteID, 10)
		}
		fmt.Fprintf(&b, "%d,%s,%d\n", e.LocalID, remote, e.Uploaded)
	}
	return []byte(b.String())
}

// padTo appends NUL bytes to data until it reaches at least length
// bytes, avoiding a truncation rewrite on the FAT driver.
func padTo(data []byte, length int) []byte {
	if len(data) >= length {
		return data
	}
	padded := make([]byte, length)
	copy(padded, data)
	return padded
}
