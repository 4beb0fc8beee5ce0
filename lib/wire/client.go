// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
	"net"

	"github.com/bureau-foundation/logmonitor/lib/codec"
)

// CallError is an error reply received from the service.
type CallError struct {
	// Kind is the error kind (InvalidParameter, Panic, ...).
	Kind string

	// Parameters is the raw error detail object, if any.
	Parameters codec.RawMessage
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call failed: %s", e.Kind)
}

// Client is a blocking protocol client for CLIs and tests. One call
// may be in flight at a time.
type Client struct {
	conn net.Conn
}

// Dial connects to the service socket at address.
func Dial(address string) (*Client, error) {
	conn, err := net.Dial("unix", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection. A streaming call in flight is torn
// down server-side via its disconnect callback.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with a single reply. The reply parameters are
// decoded into result when result is non-nil. An error reply is
// returned as *CallError.
func (c *Client) Call(method string, parameters, result any) error {
	if err := c.sendRequest(method, parameters, false); err != nil {
		return err
	}

	reply, err := c.readReply()
	if err != nil {
		return err
	}
	if reply.Continues {
		return errors.New("unexpected continuing reply on a single-reply call")
	}
	return decodeReply(reply, result)
}

// CallMore invokes method with continued replies negotiated and
// returns the reply stream.
func (c *Client) CallMore(method string, parameters any) (*Stream, error) {
	if err := c.sendRequest(method, parameters, true); err != nil {
		return nil, err
	}
	return &Stream{client: c}, nil
}

func (c *Client) sendRequest(method string, parameters any, more bool) error {
	request := Request{Method: method, More: more}
	if parameters != nil {
		raw, err := codec.Marshal(parameters)
		if err != nil {
			return fmt.Errorf("encoding call parameters: %w", err)
		}
		request.Parameters = raw
	}
	return writeFrame(c.conn, request)
}

func (c *Client) readReply() (Reply, error) {
	var reply Reply
	if err := readFrame(c.conn, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func decodeReply(reply Reply, result any) error {
	if reply.Error != "" {
		return &CallError{Kind: reply.Error, Parameters: reply.Parameters}
	}
	if result != nil && len(reply.Parameters) > 0 {
		if err := codec.Unmarshal(reply.Parameters, result); err != nil {
			return fmt.Errorf("decoding reply parameters: %w", err)
		}
	}
	return nil
}

// Stream is the reply sequence of a call with continued replies.
type Stream struct {
	client *Client
	done   bool
}

// Next blocks for the next reply frame and decodes its parameters
// into result. Returns continues=false after the terminal reply; an
// error reply is returned as *CallError and also ends the stream.
func (s *Stream) Next(result any) (continues bool, err error) {
	if s.done {
		return false, errors.New("stream already ended")
	}

	reply, err := s.client.readReply()
	if err != nil {
		s.done = true
		return false, err
	}
	if !reply.Continues {
		s.done = true
	}
	if err := decodeReply(reply, result); err != nil {
		s.done = true
		return false, err
	}
	return reply.Continues, nil
}
