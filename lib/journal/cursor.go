// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Cursor tokens are opaque to clients but have a fixed internal form:
// "s=<store-uuid>;q=<seq>". The store UUID ties a token to the store
// that minted it; the sequence number identifies the record.

// formatCursor builds the resume token for a record.
func formatCursor(storeID uuid.UUID, seq uint64) string {
	return fmt.Sprintf("s=%s;q=%d", storeID, seq)
}

// parseCursor validates a resume token and extracts its parts.
func parseCursor(token string) (uuid.UUID, uint64, error) {
	storePart, seqPart, found := strings.Cut(token, ";")
	if !found {
		return uuid.UUID{}, 0, fmt.Errorf("malformed cursor %q", token)
	}

	storeValue, ok := strings.CutPrefix(storePart, "s=")
	if !ok {
		return uuid.UUID{}, 0, fmt.Errorf("malformed cursor %q", token)
	}
	storeID, err := uuid.Parse(storeValue)
	if err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("malformed cursor %q: %w", token, err)
	}

	seqValue, ok := strings.CutPrefix(seqPart, "q=")
	if !ok {
		return uuid.UUID{}, 0, fmt.Errorf("malformed cursor %q", token)
	}
	seq, err := strconv.ParseUint(seqValue, 10, 64)
	if err != nil {
		return uuid.UUID{}, 0, fmt.Errorf("malformed cursor %q: %w", token, err)
	}

	return storeID, seq, nil
}
