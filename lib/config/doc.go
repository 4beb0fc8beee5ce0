// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the shared configuration file for logmonitor
// components. The file is optional: every field has a default, and
// command-line flags override file values. There is no automatic
// discovery — a file is only read when --config names one, which
// keeps configuration deterministic and auditable.
package config
