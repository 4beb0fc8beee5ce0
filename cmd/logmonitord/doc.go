// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Logmonitord exposes a machine's journal store as a query/stream
// service on a unix socket. A client calls the Monitor method and
// receives the most recent entries in one reply; a client that
// negotiates continued replies additionally receives a streaming
// frame for every batch of newly produced entries until it
// disconnects.
//
// The process is a single event loop: one wait set holds the
// transport descriptor, a termination-signal descriptor, and the
// journal readiness descriptor of every streaming session. Each
// wake-up dispatches exactly one ready source to completion, so
// session state needs no synchronization. Sessions survive journal
// rotation and vacuum by reseeking to their cursor (or the tail, when
// nothing was delivered yet) when the store signals a discontinuity.
//
// # Usage
//
//	logmonitord [flags] ADDRESS
//
// ADDRESS is the unix socket path to serve on. When an activator
// passes an already-listening socket as file descriptor 3, it is used
// instead of binding ADDRESS. Exit codes: 1 Panic, 2 MissingAddress.
package main
