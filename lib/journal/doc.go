// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal implements the on-disk log record store that
// logmonitord serves. A store is a directory holding an identity file,
// an active segment of concatenated CBOR records, and numbered rotated
// segments (optionally zstd- or lz4-compressed).
//
// The Writer appends records, rotates the active segment when it grows
// past the configured size, and vacuums old segments. The Reader
// iterates records in production order with cursor-based resume: a
// cursor token identifies a record, and seeking to it positions the
// reader exactly after that record, across rotation. The reader's
// readiness descriptor is an inotify watch on the store directory;
// PollChange classifies what happened since the last poll so a caller
// can distinguish plain appends from discontinuities (rotation or
// vacuum) that invalidate its read position.
package journal
