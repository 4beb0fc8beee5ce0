// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements logmonitor's call/reply protocol on a local
// unix socket. Frames are 4-byte big-endian length prefixes followed
// by a CBOR payload; a request names a method and may negotiate
// continued replies ("more"), in which case the call stays open and
// receives streaming reply frames until its terminal reply or the
// client's disconnect.
//
// The server side is built for a single-threaded event loop: Service
// owns an inner epoll aggregating the listener and every connection
// descriptor, exposes that epoll's descriptor for registration with
// the process's outer wait set, and drains all pending transport work
// in ProcessEvents without blocking. Method handlers and disconnect
// callbacks run synchronously inside ProcessEvents, so handler code
// never needs locks.
//
// The client side (Client, Stream) is a conventional blocking
// implementation for CLIs and tests.
package wire
