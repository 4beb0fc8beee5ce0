// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testClock returns a deterministic clock starting at a fixed instant
// and advancing one second per record.
func testClock() func() time.Time {
	instant := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		instant = instant.Add(time.Second)
		return instant
	}
}

func openTestWriter(t *testing.T, dir string, options Options) *Writer {
	t.Helper()
	if options.Now == nil {
		options.Now = testClock()
	}
	writer, err := Open(dir, options)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { writer.Close() })
	return writer
}

func openTestReader(t *testing.T, dir string) *Reader {
	t.Helper()
	reader, err := OpenReader(dir)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return reader
}

func appendMessage(t *testing.T, writer *Writer, message string) uint64 {
	t.Helper()
	seq, err := writer.Append(map[string]string{FieldMessage: message})
	if err != nil {
		t.Fatalf("Append(%q): %v", message, err)
	}
	return seq
}

// drainMessages reads every currently available record and returns the
// message fields in delivery order.
func drainMessages(t *testing.T, reader *Reader) []string {
	t.Helper()
	var messages []string
	for {
		ok, err := reader.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return messages
		}
		message, ok := reader.Field(FieldMessage)
		if !ok {
			t.Fatal("record has no message field")
		}
		messages = append(messages, message)
	}
}

func TestAppendAndReadInOrder(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{})

	want := []string{"boot ok", "disk warn", "heartbeat"}
	for _, message := range want {
		appendMessage(t, writer, message)
	}

	reader := openTestReader(t, dir)
	got := drainMessages(t, reader)
	if len(got) != len(want) {
		t.Fatalf("read %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSequenceNumbersAreContiguous(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{})

	for i, message := range []string{"a", "b", "c"} {
		seq := appendMessage(t, writer, message)
		if seq != uint64(i+1) {
			t.Errorf("Append %d returned seq %d, want %d", i, seq, i+1)
		}
	}
}

func TestSequenceSurvivesWriterReopen(t *testing.T) {
	dir := t.TempDir()

	writer := openTestWriter(t, dir, Options{})
	appendMessage(t, writer, "first")
	appendMessage(t, writer, "second")
	writer.Close()

	reopened := openTestWriter(t, dir, Options{})
	seq := appendMessage(t, reopened, "third")
	if seq != 3 {
		t.Errorf("seq after reopen = %d, want 3", seq)
	}
}

func TestSequenceSurvivesReopenAfterRotation(t *testing.T) {
	dir := t.TempDir()

	writer := openTestWriter(t, dir, Options{RotateAfterBytes: -1})
	appendMessage(t, writer, "first")
	appendMessage(t, writer, "second")
	if err := writer.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	writer.Close()

	// The active segment is empty; the last sequence number lives in
	// the rotated segment.
	reopened := openTestWriter(t, dir, Options{RotateAfterBytes: -1})
	seq := appendMessage(t, reopened, "third")
	if seq != 3 {
		t.Errorf("seq after rotation and reopen = %d, want 3", seq)
	}
}

func TestReadAcrossRotatedSegments(t *testing.T) {
	for _, compression := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(compression.String(), func(t *testing.T) {
			dir := t.TempDir()
			writer := openTestWriter(t, dir, Options{
				RotateAfterBytes: -1,
				Compression:      compression,
			})

			appendMessage(t, writer, "old one")
			appendMessage(t, writer, "old two")
			if err := writer.Rotate(); err != nil {
				t.Fatalf("Rotate: %v", err)
			}
			appendMessage(t, writer, "fresh")

			reader := openTestReader(t, dir)
			got := drainMessages(t, reader)
			want := []string{"old one", "old two", "fresh"}
			if len(got) != len(want) {
				t.Fatalf("read %d records, want %d: %v", len(got), len(want), got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("record %d = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestAutomaticRotationBySize(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: 1})

	// Threshold 1: every append rotates.
	appendMessage(t, writer, "a")
	appendMessage(t, writer, "b")

	segments, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("found %d rotated segments, want 2", len(segments))
	}

	reader := openTestReader(t, dir)
	got := drainMessages(t, reader)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("read %v, want [a b]", got)
	}
}

func TestSeekTailRecordsWindow(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{})
	for _, message := range []string{"one", "two", "three", "four", "five"} {
		appendMessage(t, writer, message)
	}

	cases := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{2, []string{"four", "five"}},
		{5, []string{"one", "two", "three", "four", "five"}},
		{10, []string{"one", "two", "three", "four", "five"}},
	}
	for _, c := range cases {
		reader := openTestReader(t, dir)
		if err := reader.SeekTailRecords(c.n); err != nil {
			t.Fatalf("SeekTailRecords(%d): %v", c.n, err)
		}
		got := drainMessages(t, reader)
		if len(got) != len(c.want) {
			t.Errorf("SeekTailRecords(%d) delivered %v, want %v", c.n, got, c.want)
			continue
		}
		for i := range c.want {
			if got[i] != c.want[i] {
				t.Errorf("SeekTailRecords(%d) record %d = %q, want %q", c.n, i, got[i], c.want[i])
			}
		}
	}
}

func TestSeekTailDeliversOnlyNewRecords(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{})
	appendMessage(t, writer, "history")

	reader := openTestReader(t, dir)
	if err := reader.SeekTail(); err != nil {
		t.Fatalf("SeekTail: %v", err)
	}
	if got := drainMessages(t, reader); len(got) != 0 {
		t.Fatalf("SeekTail delivered historical records: %v", got)
	}

	appendMessage(t, writer, "news")
	got := drainMessages(t, reader)
	if len(got) != 1 || got[0] != "news" {
		t.Errorf("after tail seek read %v, want [news]", got)
	}
}

func TestSeekCursorResumesWithoutDuplicate(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{})
	for _, message := range []string{"one", "two", "three"} {
		appendMessage(t, writer, message)
	}

	reader := openTestReader(t, dir)
	// Read two records; remember the second one's cursor.
	for i := 0; i < 2; i++ {
		ok, err := reader.Next()
		if err != nil || !ok {
			t.Fatalf("Next %d: ok=%v err=%v", i, ok, err)
		}
	}
	token, err := reader.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}

	resumed := openTestReader(t, dir)
	if err := resumed.SeekCursor(token); err != nil {
		t.Fatalf("SeekCursor: %v", err)
	}
	got := drainMessages(t, resumed)
	if len(got) != 1 || got[0] != "three" {
		t.Errorf("resume delivered %v, want [three]", got)
	}
}

func TestSeekCursorResumesAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: -1})
	appendMessage(t, writer, "one")
	appendMessage(t, writer, "two")

	reader := openTestReader(t, dir)
	ok, err := reader.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	token, err := reader.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}

	// Rotate the records the cursor points into out of the active
	// segment, then produce more.
	if err := writer.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	appendMessage(t, writer, "three")

	if err := reader.SeekCursor(token); err != nil {
		t.Fatalf("SeekCursor after rotation: %v", err)
	}
	got := drainMessages(t, reader)
	want := []string{"two", "three"}
	if len(got) != len(want) {
		t.Fatalf("resume delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSeekCursorRejectsForeignStore(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	writerA := openTestWriter(t, dirA, Options{})
	appendMessage(t, writerA, "a")
	openTestWriter(t, dirB, Options{})

	readerA := openTestReader(t, dirA)
	ok, err := readerA.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	token, err := readerA.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}

	readerB := openTestReader(t, dirB)
	if err := readerB.SeekCursor(token); !errors.Is(err, ErrCursorMismatch) {
		t.Errorf("SeekCursor with foreign token: err = %v, want ErrCursorMismatch", err)
	}
}

func TestSeekCursorRejectsMalformedToken(t *testing.T) {
	dir := t.TempDir()
	openTestWriter(t, dir, Options{})
	reader := openTestReader(t, dir)

	for _, token := range []string{"", "garbage", "s=;q=1", "s=not-a-uuid;q=1", "s=00000000-0000-0000-0000-000000000000;q=x"} {
		if err := reader.SeekCursor(token); err == nil {
			t.Errorf("SeekCursor(%q) accepted a malformed token", token)
		}
	}
}

func TestCursorRoundtrip(t *testing.T) {
	storeID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	token := formatCursor(storeID, 99)

	gotID, gotSeq, err := parseCursor(token)
	if err != nil {
		t.Fatalf("parseCursor(%q): %v", token, err)
	}
	if gotID != storeID {
		t.Errorf("store ID = %s, want %s", gotID, storeID)
	}
	if gotSeq != 99 {
		t.Errorf("seq = %d, want 99", gotSeq)
	}
}

func TestVacuumDropsOldestSegments(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: -1})

	for _, message := range []string{"one", "two", "three"} {
		appendMessage(t, writer, message)
		if err := writer.Rotate(); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}

	if err := writer.Vacuum(1); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	reader := openTestReader(t, dir)
	got := drainMessages(t, reader)
	if len(got) != 1 || got[0] != "three" {
		t.Errorf("after vacuum read %v, want [three]", got)
	}
}

func TestMaxSegmentsVacuumsOnRotation(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: 1, MaxSegments: 2})

	for _, message := range []string{"one", "two", "three", "four"} {
		appendMessage(t, writer, message)
	}

	segments, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("found %d rotated segments, want 2", len(segments))
	}

	reader := openTestReader(t, dir)
	got := drainMessages(t, reader)
	if len(got) != 2 || got[0] != "three" || got[1] != "four" {
		t.Errorf("after capped rotation read %v, want [three four]", got)
	}
}

func TestTornTrailingRecordIsTruncated(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{})
	appendMessage(t, writer, "intact")
	writer.Close()

	// Simulate a crashed writer: garbage trailing bytes that are a
	// truncated CBOR map header.
	activePath := filepath.Join(dir, activeSegmentName)
	file, err := os.OpenFile(activePath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening active segment: %v", err)
	}
	if _, err := file.Write([]byte{0xa3, 0x63}); err != nil {
		t.Fatalf("writing torn bytes: %v", err)
	}
	file.Close()

	reopened := openTestWriter(t, dir, Options{})
	seq := appendMessage(t, reopened, "after crash")
	if seq != 2 {
		t.Errorf("seq after recovery = %d, want 2", seq)
	}

	reader := openTestReader(t, dir)
	got := drainMessages(t, reader)
	want := []string{"intact", "after crash"}
	if len(got) != len(want) {
		t.Fatalf("read %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPollChangeClassification(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: -1})
	appendMessage(t, writer, "pre-existing")

	reader := openTestReader(t, dir)

	change, err := reader.PollChange()
	if err != nil {
		t.Fatalf("PollChange: %v", err)
	}
	if change != ChangeNone {
		t.Errorf("idle PollChange = %v, want ChangeNone", change)
	}

	appendMessage(t, writer, "appended")
	change, err = reader.PollChange()
	if err != nil {
		t.Fatalf("PollChange after append: %v", err)
	}
	if change != ChangeAppend {
		t.Errorf("PollChange after append = %v, want ChangeAppend", change)
	}

	if err := writer.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	change, err = reader.PollChange()
	if err != nil {
		t.Fatalf("PollChange after rotation: %v", err)
	}
	if change != ChangeInvalidate {
		t.Errorf("PollChange after rotation = %v, want ChangeInvalidate", change)
	}
}

func TestReaderRecoversFromStaggeredRotation(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: -1})
	for _, message := range []string{"one", "two", "three"} {
		appendMessage(t, writer, message)
	}

	reader := openTestReader(t, dir)
	got := drainMessages(t, reader)
	if len(got) != 3 {
		t.Fatalf("drained %v, want three records", got)
	}
	token, err := reader.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}

	// A rotation is rename-then-truncate, two syscalls another process
	// performs independently. Replay the first half only: the active
	// segment's contents appear as a rotated segment while the active
	// file itself is still full.
	activePath := filepath.Join(dir, activeSegmentName)
	data, err := os.ReadFile(activePath)
	if err != nil {
		t.Fatalf("reading active segment: %v", err)
	}
	rotatedPath := filepath.Join(dir, rotatedSegmentName(1, CompressionNone))
	if err := os.WriteFile(rotatedPath+".tmp", data, 0o644); err != nil {
		t.Fatalf("writing rotated copy: %v", err)
	}
	if err := os.Rename(rotatedPath+".tmp", rotatedPath); err != nil {
		t.Fatalf("renaming rotated copy: %v", err)
	}

	change, err := reader.PollChange()
	if err != nil {
		t.Fatalf("PollChange after rename: %v", err)
	}
	if change != ChangeInvalidate {
		t.Fatalf("PollChange after rename = %v, want ChangeInvalidate", change)
	}
	if err := reader.SeekCursor(token); err != nil {
		t.Fatalf("SeekCursor: %v", err)
	}
	if got := drainMessages(t, reader); len(got) != 0 {
		t.Fatalf("reseek delivered duplicates: %v", got)
	}

	// Second half of the rotation, then a fresh record. The active
	// segment is now smaller than the reader's consumed offset.
	if err := os.Truncate(activePath, 0); err != nil {
		t.Fatalf("truncating active segment: %v", err)
	}
	appendMessage(t, writer, "four")

	change, err = reader.PollChange()
	if err != nil {
		t.Fatalf("PollChange after truncate: %v", err)
	}
	if change != ChangeAppend {
		t.Fatalf("PollChange after truncate = %v, want ChangeAppend", change)
	}

	got = drainMessages(t, reader)
	if len(got) != 1 || got[0] != "four" {
		t.Errorf("after staggered rotation read %v, want [four]", got)
	}
}

func TestPollChangeAfterVacuumInvalidates(t *testing.T) {
	dir := t.TempDir()
	writer := openTestWriter(t, dir, Options{RotateAfterBytes: -1})
	appendMessage(t, writer, "doomed")
	if err := writer.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	reader := openTestReader(t, dir)
	if _, err := reader.PollChange(); err != nil {
		t.Fatalf("draining initial events: %v", err)
	}

	if err := writer.Vacuum(0); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	change, err := reader.PollChange()
	if err != nil {
		t.Fatalf("PollChange after vacuum: %v", err)
	}
	if change != ChangeInvalidate {
		t.Errorf("PollChange after vacuum = %v, want ChangeInvalidate", change)
	}
}

func TestRecordTimestampsComeFromClock(t *testing.T) {
	dir := t.TempDir()
	instant := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	writer := openTestWriter(t, dir, Options{Now: func() time.Time { return instant }})
	appendMessage(t, writer, "timed")

	reader := openTestReader(t, dir)
	ok, err := reader.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	usec, err := reader.RealtimeUsec()
	if err != nil {
		t.Fatalf("RealtimeUsec: %v", err)
	}
	if want := uint64(instant.UnixMicro()); usec != want {
		t.Errorf("RealtimeUsec = %d, want %d", usec, want)
	}
}

func TestParseCompression(t *testing.T) {
	cases := []struct {
		input string
		want  Compression
		valid bool
	}{
		{"zstd", CompressionZstd, true},
		{"lz4", CompressionLZ4, true},
		{"none", CompressionNone, true},
		{"gzip", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseCompression(c.input)
		if c.valid {
			if err != nil {
				t.Errorf("ParseCompression(%q): %v", c.input, err)
			} else if got != c.want {
				t.Errorf("ParseCompression(%q) = %v, want %v", c.input, got, c.want)
			}
		} else if err == nil {
			t.Errorf("ParseCompression(%q) accepted an invalid mode", c.input)
		}
	}
}
