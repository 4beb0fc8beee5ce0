// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/logmonitor/lib/codec"
)

// DefaultRotateAfterBytes is the active-segment size that triggers
// rotation when Options.RotateAfterBytes is zero.
const DefaultRotateAfterBytes = 4 * 1024 * 1024

// Options configures a Writer.
type Options struct {
	// RotateAfterBytes rotates the active segment once it reaches
	// this size. Zero means DefaultRotateAfterBytes; negative
	// disables automatic rotation (explicit Rotate still works).
	RotateAfterBytes int64

	// Compression is the storage mode for rotated segments.
	Compression Compression

	// MaxSegments caps the number of rotated segments; rotation
	// vacuums the oldest beyond the cap. Zero means unlimited.
	MaxSegments int

	// Now supplies record timestamps. Nil means time.Now. Tests
	// inject a fixed clock here.
	Now func() time.Time
}

// Writer appends records to a journal store. A store has at most one
// writer; the Writer is not safe for concurrent use.
type Writer struct {
	dir     string
	options Options
	storeID uuid.UUID

	active      *os.File
	activeSize  int64
	nextSeq     uint64
	nextSegment uint64
}

// Open opens a store for appending, creating the directory, identity
// file, and active segment as needed. The next sequence number and
// segment number are recovered from the store's existing contents; a
// torn trailing record in the active segment (crashed writer) is
// truncated away.
func Open(dir string, options Options) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	storeID, err := ensureIdentity(dir)
	if err != nil {
		return nil, err
	}

	writer := &Writer{
		dir:     dir,
		options: options,
		storeID: storeID,
		nextSeq: 1,
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		writer.nextSegment = last.number + 1
		records, err := readSegmentRecords(last)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			writer.nextSeq = records[len(records)-1].Seq + 1
		}
	} else {
		writer.nextSegment = 1
	}

	if err := writer.recoverActive(); err != nil {
		return nil, err
	}

	active, err := os.OpenFile(writer.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening active segment: %w", err)
	}
	writer.active = active

	info, err := active.Stat()
	if err != nil {
		active.Close()
		return nil, fmt.Errorf("stat active segment: %w", err)
	}
	writer.activeSize = info.Size()

	return writer, nil
}

// StoreID returns the store's identity UUID.
func (w *Writer) StoreID() uuid.UUID {
	return w.storeID
}

func (w *Writer) activePath() string {
	return filepath.Join(w.dir, activeSegmentName)
}

// recoverActive scans the active segment, advances nextSeq past its
// records, and truncates any torn trailing record left by a crashed
// writer so the append stream stays decodable.
func (w *Writer) recoverActive() error {
	data, err := os.ReadFile(w.activePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading active segment: %w", err)
	}

	consumed := int64(0)
	remaining := data
	for len(remaining) > 0 {
		var record Record
		rest, err := codec.UnmarshalFirst(remaining, &record)
		if err != nil {
			// Torn trailing bytes: cut them off.
			if err := os.Truncate(w.activePath(), consumed); err != nil {
				return fmt.Errorf("truncating torn active segment: %w", err)
			}
			return nil
		}
		consumed += int64(len(remaining) - len(rest))
		remaining = rest
		if record.Seq >= w.nextSeq {
			w.nextSeq = record.Seq + 1
		}
	}
	return nil
}

// Append stores one record with the next sequence number and the
// current wall-clock time, rotating afterwards if the active segment
// has grown past the configured threshold. Returns the record's
// sequence number.
//
// The encoded record is written with a single write call so a
// concurrent reader sees either the whole record or none of it.
func (w *Writer) Append(fields map[string]string) (uint64, error) {
	now := time.Now
	if w.options.Now != nil {
		now = w.options.Now
	}

	record := Record{
		Seq:          w.nextSeq,
		RealtimeUsec: uint64(now().UnixMicro()),
		Fields:       fields,
	}

	data, err := codec.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	if _, err := w.active.Write(data); err != nil {
		return 0, fmt.Errorf("appending record: %w", err)
	}

	w.nextSeq++
	w.activeSize += int64(len(data))

	rotateAfter := w.options.RotateAfterBytes
	if rotateAfter == 0 {
		rotateAfter = DefaultRotateAfterBytes
	}
	if rotateAfter > 0 && w.activeSize >= rotateAfter {
		if err := w.Rotate(); err != nil {
			return 0, err
		}
	}

	return record.Seq, nil
}

// Rotate moves the active segment's contents into the next numbered
// rotated segment and truncates the active segment. A no-op when the
// active segment is empty. The rotated segment is written to a
// temporary file and renamed into place so readers never observe a
// partial segment.
func (w *Writer) Rotate() error {
	if w.activeSize == 0 {
		return nil
	}

	data, err := os.ReadFile(w.activePath())
	if err != nil {
		return fmt.Errorf("reading active segment for rotation: %w", err)
	}

	compressed, err := compressSegment(data, w.options.Compression)
	if err != nil {
		return err
	}

	name := rotatedSegmentName(w.nextSegment, w.options.Compression)
	finalPath := filepath.Join(w.dir, name)
	temporaryPath := finalPath + ".tmp"
	if err := os.WriteFile(temporaryPath, compressed, 0o644); err != nil {
		return fmt.Errorf("writing rotated segment: %w", err)
	}
	if err := os.Rename(temporaryPath, finalPath); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming rotated segment: %w", err)
	}

	if err := w.active.Truncate(0); err != nil {
		return fmt.Errorf("truncating active segment: %w", err)
	}
	w.activeSize = 0
	w.nextSegment++

	if w.options.MaxSegments > 0 {
		if err := w.Vacuum(w.options.MaxSegments); err != nil {
			return err
		}
	}
	return nil
}

// Vacuum deletes the oldest rotated segments until at most
// maxSegments remain. Records in deleted segments are gone; readers
// positioned in them observe a discontinuity and reseek.
func (w *Writer) Vacuum(maxSegments int) error {
	segments, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	for len(segments) > maxSegments {
		if err := os.Remove(segments[0].path); err != nil {
			return fmt.Errorf("vacuuming segment: %w", err)
		}
		segments = segments[1:]
	}
	return nil
}

// Close releases the active segment handle.
func (w *Writer) Close() error {
	if w.active == nil {
		return nil
	}
	err := w.active.Close()
	w.active = nil
	return err
}

// readSegmentRecords loads and decodes every record in a rotated
// segment. Rotated segments are written atomically, so a decode
// failure means corruption, not a torn write.
func readSegmentRecords(seg segment) ([]Record, error) {
	stored, err := os.ReadFile(seg.path)
	if err != nil {
		return nil, fmt.Errorf("reading segment %s: %w", seg.path, err)
	}
	data, err := decompressSegment(stored, seg.compression)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", seg.path, err)
	}

	var records []Record
	for len(data) > 0 {
		var record Record
		rest, err := codec.UnmarshalFirst(data, &record)
		if err != nil {
			return nil, fmt.Errorf("decoding segment %s: %w", seg.path, err)
		}
		records = append(records, record)
		data = rest
	}
	return records, nil
}
