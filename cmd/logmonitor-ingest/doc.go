// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Logmonitor-ingest appends lines from standard input to a journal
// store, one record per line. It is the producer side of logmonitord:
// pipe a process's output through it and every line becomes a store
// record that streaming monitors pick up immediately.
//
// # Usage
//
//	some-daemon 2>&1 | logmonitor-ingest --identifier some-daemon --priority notice
//
// Rotation, retention, and compression follow the shared config file,
// so the ingest side and the serving side agree on the store layout.
package main
