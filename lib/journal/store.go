// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// activeSegmentName is the segment the writer appends to.
	activeSegmentName = "journal.cbor"

	// identityFileName holds the store UUID. Cursor tokens embed the
	// UUID so a cursor minted against one store is rejected by another.
	identityFileName = "identity"

	// rotatedSegmentPrefix starts every rotated segment filename:
	// journal-NNNNNNNN.cbor plus an optional compression extension.
	rotatedSegmentPrefix = "journal-"
)

// segment describes one rotated segment file.
type segment struct {
	path        string
	number      uint64
	compression Compression
}

// rotatedSegmentName builds the filename for rotated segment number n.
func rotatedSegmentName(n uint64, c Compression) string {
	return fmt.Sprintf("%s%08d.cbor%s", rotatedSegmentPrefix, n, c.extension())
}

// parseSegmentName extracts the segment number and compression mode
// from a rotated segment filename. Returns false for filenames that
// are not rotated segments (the active segment, the identity file,
// temporary files).
func parseSegmentName(name string) (number uint64, c Compression, ok bool) {
	rest, found := strings.CutPrefix(name, rotatedSegmentPrefix)
	if !found {
		return 0, 0, false
	}

	switch {
	case strings.HasSuffix(rest, ".cbor.zst"):
		c = CompressionZstd
		rest = strings.TrimSuffix(rest, ".cbor.zst")
	case strings.HasSuffix(rest, ".cbor.lz4"):
		c = CompressionLZ4
		rest = strings.TrimSuffix(rest, ".cbor.lz4")
	case strings.HasSuffix(rest, ".cbor"):
		c = CompressionNone
		rest = strings.TrimSuffix(rest, ".cbor")
	default:
		return 0, 0, false
	}

	number, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return number, c, true
}

// listSegments returns the store's rotated segments ordered by number.
func listSegments(dir string) ([]segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading store directory: %w", err)
	}

	var segments []segment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		number, compression, ok := parseSegmentName(entry.Name())
		if !ok {
			continue
		}
		segments = append(segments, segment{
			path:        filepath.Join(dir, entry.Name()),
			number:      number,
			compression: compression,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].number < segments[j].number
	})
	return segments, nil
}

// readIdentity loads the store UUID from the identity file.
func readIdentity(dir string) (uuid.UUID, error) {
	data, err := os.ReadFile(filepath.Join(dir, identityFileName))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("reading store identity: %w", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parsing store identity: %w", err)
	}
	return id, nil
}

// ensureIdentity loads the store UUID, creating a fresh one for a new
// store. Written with a trailing newline so the file reads cleanly in
// a terminal.
func ensureIdentity(dir string) (uuid.UUID, error) {
	id, err := readIdentity(dir)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return uuid.UUID{}, err
	}

	id = uuid.New()
	path := filepath.Join(dir, identityFileName)
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return uuid.UUID{}, fmt.Errorf("writing store identity: %w", err)
	}
	return id, nil
}
