// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/logmonitor/lib/codec"
)

// Change classifies what happened to the store since the last poll.
type Change int

const (
	// ChangeNone: nothing relevant happened.
	ChangeNone Change = iota

	// ChangeAppend: new records were appended to the active segment.
	// The reader's position is still valid; continue reading.
	ChangeAppend

	// ChangeInvalidate: the store changed discontinuously (rotation
	// or vacuum). The reader must reseek — to its cursor when it has
	// one, else to the tail — before reading again.
	ChangeInvalidate
)

// ErrCursorMismatch is returned by SeekCursor for a token minted by a
// different store.
var ErrCursorMismatch = errors.New("cursor belongs to a different store")

// Reader iterates a store's records in production order. It is
// exclusively owned by one session and not safe for concurrent use.
//
// The read position is a sequence number: the next record delivered is
// the lowest-numbered record ≥ the position, wherever it lives —
// rotated segments are scanned lazily, then the active segment is
// tailed. A partial record at the end of the active segment (a write
// in progress) stays pending until its remaining bytes arrive.
type Reader struct {
	dir       string
	storeID   uuid.UUID
	inotifyFd int

	// minSeq is the read position: the lowest sequence number still
	// undelivered.
	minSeq uint64

	// backlog holds decoded records awaiting delivery.
	backlog []Record

	// pendingSegments are rotated segments not yet scanned, ordered
	// by number.
	pendingSegments []segment

	// activeOffset counts bytes consumed from the active segment
	// (including the undecoded tail held in pendingBytes).
	activeOffset int64

	// pendingBytes is the undecoded tail of the active segment.
	pendingBytes []byte

	// current is the record the read head is on: the last record
	// returned by Next. Accessors read from it.
	current *Record
}

// OpenReader opens a store for reading, positioned at the head. The
// returned reader's Fd is an inotify watch on the store directory,
// readable whenever the store may have changed; poll it, then call
// PollChange to classify.
func OpenReader(dir string) (*Reader, error) {
	storeID, err := readIdentity(dir)
	if err != nil {
		return nil, err
	}

	inotifyFd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	_, err = unix.InotifyAddWatch(inotifyFd, dir,
		unix.IN_MODIFY|unix.IN_CREATE|unix.IN_MOVED_TO|unix.IN_MOVED_FROM|unix.IN_DELETE)
	if err != nil {
		unix.Close(inotifyFd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", dir, err)
	}

	reader := &Reader{
		dir:       dir,
		storeID:   storeID,
		inotifyFd: inotifyFd,
	}
	if err := reader.SeekHead(); err != nil {
		reader.Close()
		return nil, err
	}
	return reader, nil
}

// Fd returns the readiness descriptor: readable when the store
// directory changed since the last PollChange.
func (r *Reader) Fd() int {
	return r.inotifyFd
}

// Close releases the inotify descriptor. The reader is unusable
// afterwards.
func (r *Reader) Close() error {
	if r.inotifyFd < 0 {
		return nil
	}
	err := unix.Close(r.inotifyFd)
	r.inotifyFd = -1
	return err
}

// resetScan rewinds the reader's iteration state to scan the whole
// store for records with sequence number ≥ minSeq.
func (r *Reader) resetScan(minSeq uint64) error {
	segments, err := listSegments(r.dir)
	if err != nil {
		return err
	}
	r.minSeq = minSeq
	r.backlog = nil
	r.pendingSegments = segments
	r.activeOffset = 0
	r.pendingBytes = nil
	r.current = nil
	return nil
}

// SeekHead positions the reader before the oldest retained record.
func (r *Reader) SeekHead() error {
	return r.resetScan(0)
}

// SeekCursor positions the reader immediately after the record the
// token identifies: the record itself is not delivered again. The
// token must have been minted by this store.
func (r *Reader) SeekCursor(token string) error {
	storeID, seq, err := parseCursor(token)
	if err != nil {
		return err
	}
	if storeID != r.storeID {
		return ErrCursorMismatch
	}
	return r.resetScan(seq + 1)
}

// SeekTail positions the reader after the newest record: only records
// produced from now on are delivered.
func (r *Reader) SeekTail() error {
	return r.SeekTailRecords(0)
}

// SeekTailRecords positions the reader so that the newest n records
// (or fewer, if the store holds fewer) are about to be read, followed
// by anything produced later.
func (r *Reader) SeekTailRecords(n int) error {
	if err := r.resetScan(0); err != nil {
		return err
	}

	// Drain the whole store, keeping a window of the last n records.
	// The drain leaves the reader positioned at the end of the active
	// segment; restoring the window to the backlog makes those n
	// records the next ones delivered.
	var window []Record
	for {
		record, ok, err := r.nextRecord()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if n > 0 {
			window = append(window, record)
			if len(window) > n {
				window = window[1:]
			}
		}
	}
	r.backlog = window
	r.current = nil
	return nil
}

// Next advances to the next available record. Returns false when no
// record is currently available; the caller waits for readiness and
// retries. After a true return, the accessor methods read the new
// current record.
func (r *Reader) Next() (bool, error) {
	record, ok, err := r.nextRecord()
	if err != nil || !ok {
		return false, err
	}
	r.current = &record
	return true, nil
}

// nextRecord produces the next record with sequence number ≥ minSeq
// and advances minSeq past it.
func (r *Reader) nextRecord() (Record, bool, error) {
	for {
		if len(r.backlog) > 0 {
			record := r.backlog[0]
			r.backlog = r.backlog[1:]
			r.minSeq = record.Seq + 1
			return record, true, nil
		}

		if len(r.pendingSegments) > 0 {
			seg := r.pendingSegments[0]
			r.pendingSegments = r.pendingSegments[1:]
			records, err := readSegmentRecords(seg)
			if err != nil {
				return Record{}, false, err
			}
			for _, record := range records {
				if record.Seq >= r.minSeq {
					r.backlog = append(r.backlog, record)
				}
			}
			continue
		}

		grew, err := r.refillFromActive()
		if err != nil {
			return Record{}, false, err
		}
		if !grew {
			return Record{}, false, nil
		}
	}
}

// refillFromActive reads newly appended bytes from the active segment
// and decodes complete records into the backlog. Returns true when the
// backlog gained at least one record.
func (r *Reader) refillFromActive() (bool, error) {
	file, err := os.Open(filepath.Join(r.dir, activeSegmentName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("opening active segment: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat active segment: %w", err)
	}
	if info.Size() < r.activeOffset {
		// The active segment shrank under us: a rotation whose rename
		// and truncate were observed in separate poll cycles. The read
		// offset no longer means anything; rescan the store for the
		// records still undelivered. Reporting progress makes the
		// caller's loop retry against the fresh scan state.
		if err := r.resetScan(r.minSeq); err != nil {
			return false, err
		}
		return true, nil
	}

	if _, err := file.Seek(r.activeOffset, io.SeekStart); err != nil {
		return false, fmt.Errorf("seeking active segment: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return false, fmt.Errorf("reading active segment: %w", err)
	}
	if len(data) == 0 {
		return false, nil
	}
	r.activeOffset += int64(len(data))
	r.pendingBytes = append(r.pendingBytes, data...)

	gained := false
	for len(r.pendingBytes) > 0 {
		var record Record
		rest, err := codec.UnmarshalFirst(r.pendingBytes, &record)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// A write in progress; the tail completes later.
				break
			}
			return false, fmt.Errorf("decoding active segment: %w", err)
		}
		r.pendingBytes = rest
		if record.Seq >= r.minSeq {
			r.backlog = append(r.backlog, record)
			gained = true
		}
	}
	return gained, nil
}

// Cursor returns the current record's resume token.
func (r *Reader) Cursor() (string, error) {
	if r.current == nil {
		return "", errors.New("no current record")
	}
	return formatCursor(r.storeID, r.current.Seq), nil
}

// RealtimeUsec returns the current record's wall-clock timestamp in
// microseconds since the epoch.
func (r *Reader) RealtimeUsec() (uint64, error) {
	if r.current == nil {
		return 0, errors.New("no current record")
	}
	return r.current.RealtimeUsec, nil
}

// Field returns the named field of the current record.
func (r *Reader) Field(name string) (string, bool) {
	if r.current == nil {
		return "", false
	}
	value, ok := r.current.Fields[name]
	return value, ok
}

// PollChange drains the readiness descriptor and classifies the
// accumulated changes. Discontinuities (segment creation, rename, or
// deletion — rotation and vacuum) take precedence over appends: the
// reader's position may reference moved data, so the caller must
// reseek before reading.
func (r *Reader) PollChange() (Change, error) {
	invalidate := false
	appended := false

	buffer := make([]byte, 4096)
	for {
		bytesRead, err := unix.Read(r.inotifyFd, buffer)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			if err == unix.EINTR {
				continue
			}
			return ChangeNone, fmt.Errorf("reading inotify events: %w", err)
		}
		if bytesRead == 0 {
			break
		}

		forEachInotifyEvent(buffer[:bytesRead], func(mask uint32, name string) {
			if mask&(unix.IN_CREATE|unix.IN_MOVED_TO|unix.IN_MOVED_FROM|unix.IN_DELETE) != 0 {
				// Ignore churn on temporary rotation files; the
				// rename into place arrives as IN_MOVED_TO.
				if filepath.Ext(name) != ".tmp" {
					invalidate = true
				}
			} else if mask&unix.IN_MODIFY != 0 && name == activeSegmentName {
				appended = true
			}
		})
	}

	switch {
	case invalidate:
		return ChangeInvalidate, nil
	case appended:
		return ChangeAppend, nil
	default:
		return ChangeNone, nil
	}
}

// forEachInotifyEvent walks a buffer of raw inotify events. Layout
// per inotify(7): wd (4 bytes), mask (4), cookie (4), name length
// (4), then the null-padded name.
func forEachInotifyEvent(buffer []byte, visit func(mask uint32, name string)) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventEnd := offset + unix.SizeofInotifyEvent + nameLength
		if eventEnd > len(buffer) {
			break
		}

		name := ""
		if nameLength > 0 {
			name = nullTerminatedString(buffer[offset+unix.SizeofInotifyEvent : eventEnd])
		}
		visit(mask, name)

		offset = eventEnd
	}
}

// nullTerminatedString extracts a string from a null-padded byte
// slice, stopping at the first null byte.
func nullTerminatedString(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
