// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/bureau-foundation/logmonitor/lib/codec"
	"github.com/bureau-foundation/logmonitor/lib/journal"
	"github.com/bureau-foundation/logmonitor/lib/poller"
	"github.com/bureau-foundation/logmonitor/lib/schema/logging"
	"github.com/bureau-foundation/logmonitor/lib/wire"
)

// serviceContext carries the process-wide singletons the Monitor
// handler needs: the event loop's wait set, the store location, and
// the logger. Passed explicitly instead of living in globals.
type serviceContext struct {
	waitSet    *poller.Poller
	journalDir string
	logger     *slog.Logger
}

// monitor owns one client's streaming session: the in-flight call,
// an exclusively-owned journal reader, and the resume token of the
// last delivered record. A monitor is registered with the wait set
// exactly while its reader is open and the session is streaming.
type monitor struct {
	context *serviceContext
	call    *wire.Call
	reader  *journal.Reader

	// cursor is the resume token of the last delivered record, empty
	// until the first non-empty batch.
	cursor string

	registered bool
	freed      bool
}

// handleMonitor serves one Monitor call: validate parameters, deliver
// the initial batch, and — when the client negotiated continued
// replies — register the session with the wait set for streaming.
//
// Resources are acquired build-then-commit: until the session is
// fully established the deferred release tears down whatever exists,
// so no error path leaks a reader or a registration.
func handleMonitor(context *serviceContext, call *wire.Call, parameters codec.RawMessage) error {
	var params logging.MonitorParameters
	if len(parameters) > 0 {
		if err := codec.Unmarshal(parameters, &params); err != nil {
			return call.ReplyError(logging.ErrorInvalidParameter,
				logging.InvalidParameterError{Parameter: "initial_lines"})
		}
	}

	initialLines := int64(logging.DefaultInitialLines)
	if params.InitialLines != nil {
		initialLines = *params.InitialLines
	}
	if initialLines < 0 {
		// Rejected before any resource is acquired: no session
		// exists for a negative request.
		return call.ReplyError(logging.ErrorInvalidParameter,
			logging.InvalidParameterError{Parameter: "initial_lines"})
	}

	session := &monitor{context: context, call: call}
	committed := false
	defer func() {
		if !committed {
			session.free()
		}
	}()

	reader, err := journal.OpenReader(context.journalDir)
	if err != nil {
		context.logger.Error("opening journal reader failed", "error", err)
		return call.ReplyError(logging.ErrorPanic, nil)
	}
	session.reader = reader

	if err := reader.SeekTailRecords(int(initialLines)); err != nil {
		context.logger.Error("positioning journal reader failed", "error", err)
		return call.ReplyError(logging.ErrorPanic, nil)
	}

	entries, err := session.readBatch()
	if err != nil {
		context.logger.Error("reading initial batch failed", "error", err)
		return call.ReplyError(logging.ErrorPanic, nil)
	}

	if err := call.Reply(logging.MonitorReply{Entries: entries}, call.WantsMore()); err != nil {
		return err
	}
	if !call.WantsMore() {
		// Single-reply session: terminated right after the initial
		// batch, released by the deferred free.
		return nil
	}

	if err := context.waitSet.Add(reader.Fd(), session); err != nil {
		return err
	}
	session.registered = true
	call.OnDisconnect(session.free)
	committed = true
	return nil
}

// dispatch handles one readiness notification for a streaming
// session: classify the store change, reseek across discontinuities,
// and forward any newly available entries as a continuing reply. An
// empty batch sends nothing. Internal failures terminate this session
// only.
func (m *monitor) dispatch() {
	change, err := m.reader.PollChange()
	if err != nil {
		m.fail(err)
		return
	}

	switch change {
	case journal.ChangeNone:
		return

	case journal.ChangeInvalidate:
		// Rotation or vacuum moved the data under us. Resume from
		// the last delivered record when there is one; otherwise
		// nothing was delivered yet and the session starts at the
		// current tail.
		if m.cursor != "" {
			err = m.reader.SeekCursor(m.cursor)
		} else {
			err = m.reader.SeekTail()
		}
		if err != nil {
			m.fail(err)
			return
		}

	case journal.ChangeAppend:
		// Position still valid; read from here.
	}

	entries, err := m.readBatch()
	if err != nil {
		m.fail(err)
		return
	}
	if len(entries) == 0 {
		return
	}

	if err := m.call.Reply(logging.MonitorReply{Entries: entries}, true); err != nil {
		// The transport already tore the connection down (running
		// the disconnect callback); free is idempotent.
		m.context.logger.Debug("continuing reply failed", "error", err)
		m.free()
	}
}

// readBatch drains every record currently available from the reader,
// translating each in order. A non-empty batch advances the session
// cursor to its last entry; an empty batch leaves it unchanged.
func (m *monitor) readBatch() ([]logging.Entry, error) {
	entries := []logging.Entry{}
	for {
		ok, err := m.reader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		entry, err := translateRecord(m.reader)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if len(entries) > 0 {
		m.cursor = entries[len(entries)-1].Cursor
	}
	return entries, nil
}

// fail reports an internal failure to the client and tears the
// session down. The service keeps serving other sessions.
func (m *monitor) fail(err error) {
	m.context.logger.Error("monitor session failed", "error", err)
	m.call.ReplyError(logging.ErrorPanic, nil)
	m.free()
}

// free releases the session: wait-set deregistration strictly before
// the reader is closed, exactly once. Runs on handler error paths, on
// session termination, and as the call's disconnect callback.
func (m *monitor) free() {
	if m.freed {
		return
	}
	m.freed = true

	if m.registered {
		if err := m.context.waitSet.Remove(m.reader.Fd()); err != nil {
			m.context.logger.Error("deregistering session reader failed", "error", err)
		}
		m.registered = false
	}
	if m.reader != nil {
		m.reader.Close()
		m.reader = nil
	}
	m.call = nil
}
