// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding for logmonitor. Both the
// on-disk journal record format and the wire protocol use the modes
// configured here, so the encoding rules are defined once rather than
// mirrored between the store and the transport.
package codec
