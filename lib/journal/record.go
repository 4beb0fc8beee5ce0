// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

// Record field names follow journal-export conventions so that
// records ingested from other tooling keep their familiar keys.
const (
	// FieldMessage is the human-readable message text.
	FieldMessage = "MESSAGE"

	// FieldPriority is the numeric severity level, 0 (debug) through
	// 7 (emergency), as a decimal string.
	FieldPriority = "PRIORITY"

	// FieldSyslogIdentifier is the identifier the logging process
	// declared for itself.
	FieldSyslogIdentifier = "SYSLOG_IDENTIFIER"

	// FieldComm is the actual command name of the logging process.
	FieldComm = "_COMM"
)

// Record is one stored log record. Seq is assigned by the Writer and
// increases monotonically across rotation, which is what makes cursor
// resume well-defined after the active segment's contents move into a
// rotated segment.
type Record struct {
	Seq          uint64            `cbor:"seq"`
	RealtimeUsec uint64            `cbor:"usec"`
	Fields       map[string]string `cbor:"fields"`
}
