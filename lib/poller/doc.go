// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package poller wraps a single epoll instance behind a tagged
// registration table. Callers register file descriptors with an opaque
// tag and block in Wait, which yields exactly one ready
// (tag, descriptor) pair per cycle. The service's main loop dispatches
// on the tag's concrete type, so every event source — transport,
// termination signal, per-session reader — flows through one blocking
// primitive and every handler runs to completion before the next wait.
package poller
