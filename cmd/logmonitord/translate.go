// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bureau-foundation/logmonitor/lib/journal"
	"github.com/bureau-foundation/logmonitor/lib/schema/logging"
)

// wireTimeLayout renders record timestamps as UTC with whole-second
// resolution; the sub-second part of the record is discarded.
const wireTimeLayout = "2006-01-02 15:04:05Z"

// translateRecord converts the reader's current record into a wire
// entry. Cursor, timestamp, and message must be present — their
// absence means the record set is not trustworthy and the whole batch
// is aborted. Priority and process are best-effort: an absent
// priority or an out-of-range level simply omits the field, and the
// process name falls back from the declared identifier to the actual
// command name.
func translateRecord(reader *journal.Reader) (logging.Entry, error) {
	cursor, err := reader.Cursor()
	if err != nil {
		return logging.Entry{}, err
	}
	usec, err := reader.RealtimeUsec()
	if err != nil {
		return logging.Entry{}, err
	}

	message, ok := reader.Field(journal.FieldMessage)
	if !ok {
		return logging.Entry{}, fmt.Errorf("record %s has no %s field", cursor, journal.FieldMessage)
	}

	entry := logging.Entry{
		Cursor:  cursor,
		Time:    formatWireTime(usec),
		Message: message,
	}

	if value, ok := reader.Field(journal.FieldPriority); ok {
		level, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return logging.Entry{}, fmt.Errorf("record %s has malformed %s field %q",
				cursor, journal.FieldPriority, value)
		}
		if name, valid := logging.SeverityName(level); valid {
			entry.Priority = name
		}
	}

	if process, ok := reader.Field(journal.FieldSyslogIdentifier); ok {
		entry.Process = process
	} else if process, ok := reader.Field(journal.FieldComm); ok {
		entry.Process = process
	}

	return entry, nil
}

// formatWireTime renders a microsecond epoch timestamp in the wire
// format.
func formatWireTime(usec uint64) string {
	return time.UnixMicro(int64(usec)).UTC().Format(wireTimeLayout)
}
