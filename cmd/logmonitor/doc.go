// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Logmonitor is the command-line client for logmonitord. It calls the
// Monitor method over the service socket and prints the returned
// entries one per line; with --follow it keeps the call open and
// prints new entries as they arrive.
//
// # Usage
//
//	logmonitor --socket PATH [--lines N] [--follow] [--show-cursor]
package main
