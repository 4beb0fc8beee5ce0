// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging defines the wire types for the Monitor method: call
// parameters, reply frames, the entry shape, and the severity table.
// Both cmd/logmonitord (producer) and cmd/logmonitor (consumer) import
// this package so the wire contract is defined once.
package logging

// MethodMonitor is the method name a client calls to read the log.
// A call with more=false receives a single reply with the initial
// entries; a call with more=true additionally receives a continuing
// reply for every batch of newly produced entries until the client
// disconnects.
const MethodMonitor = "Monitor"

// DefaultInitialLines is the number of historical entries returned
// when the caller does not specify initial_lines.
const DefaultInitialLines = 10

// Error kinds carried in the wire error reply.
const (
	// ErrorInvalidParameter reports a malformed call parameter. The
	// error parameters name the offending field.
	ErrorInvalidParameter = "InvalidParameter"

	// ErrorPanic reports an internal log-access failure. The session
	// is torn down; the service keeps serving other sessions.
	ErrorPanic = "Panic"
)

// MonitorParameters are the decoded parameters of a Monitor call.
type MonitorParameters struct {
	// InitialLines is the number of most-recent historical entries to
	// include in the first reply. Absent means DefaultInitialLines.
	// Negative values are rejected with ErrorInvalidParameter.
	InitialLines *int64 `cbor:"initial_lines,omitempty"`
}

// MonitorReply is the shape of every Monitor reply frame: the initial
// batch and each subsequent streaming frame alike.
type MonitorReply struct {
	// Entries is ordered chronologically, most recent last. Streaming
	// frames carry only entries produced since the previous frame and
	// are only sent when at least one new entry exists.
	Entries []Entry `cbor:"entries"`
}

// InvalidParameterError is the error-parameter payload accompanying
// ErrorInvalidParameter.
type InvalidParameterError struct {
	// Parameter is the name of the rejected call parameter.
	Parameter string `cbor:"parameter"`
}

// Entry is one translated log record. Entries are constructed fresh
// per record and never mutated after creation.
type Entry struct {
	// Cursor is the record's opaque resume token. Passing it back via
	// the journal reader resumes iteration exactly after this entry.
	Cursor string `cbor:"cursor"`

	// Time is the record's wall-clock timestamp formatted as UTC
	// "YYYY-MM-DD HH:MM:SSZ", whole-second resolution.
	Time string `cbor:"time"`

	// Message is the record's message text.
	Message string `cbor:"message"`

	// Priority is the severity name for records carrying a numeric
	// level in [0,7]. Absent otherwise.
	Priority string `cbor:"priority,omitempty"`

	// Process is the originating process name: the record's declared
	// identifier when present, else its actual command name. Absent
	// when neither field is present.
	Process string `cbor:"process,omitempty"`
}

// severityNames maps numeric levels 0–7 to severity names. The order
// is a wire contract; changing it breaks every deployed client.
var severityNames = [8]string{
	"debug",
	"information",
	"notice",
	"warning",
	"error",
	"alert",
	"critical",
	"emergency",
}

// SeverityName returns the name for a numeric severity level, or
// ("", false) when the level is outside [0,7]. Out-of-range levels are
// not an error: the translator omits the priority field for them.
func SeverityName(level int64) (string, bool) {
	if level < 0 || level > 7 {
		return "", false
	}
	return severityNames[level], true
}

// SeverityLevel is the inverse of SeverityName: the numeric level for
// a severity name, or (0, false) when the name is unknown.
func SeverityLevel(name string) (int64, bool) {
	for level, candidate := range severityNames {
		if candidate == name {
			return int64(level), true
		}
	}
	return 0, false
}
