// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/logmonitor/lib/codec"
)

// Call is one in-flight method invocation. The handler replies
// through it; a streaming call additionally outlives the handler and
// keeps replying from later dispatch cycles until its terminal reply
// or the client's disconnect.
type Call struct {
	service    *Service
	connection *connection

	// more records whether the client negotiated continued replies.
	more bool

	// completed blocks further replies once the terminal reply has
	// been sent or the connection is gone.
	completed bool

	// onDisconnect runs synchronously from the dispatch cycle that
	// observes the client's hangup. Cleared after one invocation.
	onDisconnect func()
}

// WantsMore reports whether the client negotiated continued replies.
func (c *Call) WantsMore() bool {
	return c.more
}

// OnDisconnect arms a callback invoked exactly once when the client
// disconnects while the call is open. The callback must fully release
// the session's resources before returning.
func (c *Call) OnDisconnect(notify func()) {
	c.onDisconnect = notify
}

// Reply sends a success reply. With continues=true the call stays
// open for further replies (only valid when the client negotiated
// continued replies); with continues=false this is the terminal reply
// and the call completes.
func (c *Call) Reply(parameters any, continues bool) error {
	if c.completed {
		return errors.New("call already completed")
	}
	if continues && !c.more {
		return errors.New("client did not negotiate continued replies")
	}

	reply := Reply{Continues: continues}
	if parameters != nil {
		raw, err := codec.Marshal(parameters)
		if err != nil {
			return fmt.Errorf("encoding reply parameters: %w", err)
		}
		reply.Parameters = raw
	}

	if err := c.send(reply); err != nil {
		return err
	}
	if !continues {
		c.complete()
	}
	return nil
}

// ReplyError sends a terminal error reply with the given kind and
// optional detail object, completing the call.
func (c *Call) ReplyError(kind string, parameters any) error {
	if c.completed {
		return errors.New("call already completed")
	}

	reply := Reply{Error: kind}
	if parameters != nil {
		raw, err := codec.Marshal(parameters)
		if err != nil {
			return fmt.Errorf("encoding error parameters: %w", err)
		}
		reply.Parameters = raw
	}

	if err := c.send(reply); err != nil {
		return err
	}
	c.complete()
	return nil
}

// send frames the reply onto the connection's outbound buffer and
// flushes what the socket will take.
func (c *Call) send(reply Reply) error {
	outbound, err := appendFrame(c.connection.outbound, reply)
	if err != nil {
		return err
	}
	c.connection.outbound = outbound
	if err := c.service.flush(c.connection); err != nil {
		c.service.closeConnection(c.connection)
		return fmt.Errorf("flushing reply: %w", err)
	}
	return nil
}

// complete releases the call: no further replies, no disconnect
// callback, and the connection returns to idle.
func (c *Call) complete() {
	c.completed = true
	c.onDisconnect = nil
	if c.connection.active == c {
		c.connection.active = nil
	}
}
