// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bureau-foundation/logmonitor/lib/codec"
)

// frameHeaderLength is the fixed size of a frame header: a 4-byte
// big-endian payload length.
const frameHeaderLength = 4

// maxFramePayload bounds a single frame. 16 MB is far beyond any
// plausible entry batch; the limit exists so a malformed length
// prefix cannot exhaust memory.
const maxFramePayload = 16 * 1024 * 1024

// Request is the client-to-server frame payload.
type Request struct {
	// Method names the operation to invoke.
	Method string `cbor:"method"`

	// Parameters is the method's parameter object, decoded by the
	// handler.
	Parameters codec.RawMessage `cbor:"parameters,omitempty"`

	// More negotiates continued replies: the call stays open after
	// the first reply and receives streaming frames.
	More bool `cbor:"more,omitempty"`
}

// Reply is the server-to-client frame payload.
type Reply struct {
	// Error is the error kind for failure replies, empty on success.
	Error string `cbor:"error,omitempty"`

	// Parameters carries the reply object (or error detail object).
	Parameters codec.RawMessage `cbor:"parameters,omitempty"`

	// Continues marks a streaming reply: further frames follow on
	// this call.
	Continues bool `cbor:"continues,omitempty"`
}

// appendFrame encodes v and appends a complete frame to buffer.
func appendFrame(buffer []byte, v any) ([]byte, error) {
	payload, err := codec.Marshal(v)
	if err != nil {
		return buffer, fmt.Errorf("encoding frame payload: %w", err)
	}
	if len(payload) > maxFramePayload {
		return buffer, fmt.Errorf("frame payload %d exceeds maximum %d", len(payload), maxFramePayload)
	}

	var header [frameHeaderLength]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buffer = append(buffer, header[:]...)
	return append(buffer, payload...), nil
}

// extractFrame splits one complete frame payload off the front of
// buffer. ok is false when the buffer does not yet hold a whole frame.
func extractFrame(buffer []byte) (payload, rest []byte, ok bool, err error) {
	if len(buffer) < frameHeaderLength {
		return nil, buffer, false, nil
	}
	payloadLength := binary.BigEndian.Uint32(buffer[:frameHeaderLength])
	if payloadLength > maxFramePayload {
		return nil, buffer, false, fmt.Errorf("frame payload %d exceeds maximum %d", payloadLength, maxFramePayload)
	}
	frameEnd := frameHeaderLength + int(payloadLength)
	if len(buffer) < frameEnd {
		return nil, buffer, false, nil
	}
	return buffer[frameHeaderLength:frameEnd], buffer[frameEnd:], true, nil
}

// writeFrame encodes v and writes one complete frame to w. Blocking;
// used by the client side.
func writeFrame(w io.Writer, v any) error {
	frame, err := appendFrame(nil, v)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// readFrame reads one complete frame from r and decodes its payload
// into v. Blocking; used by the client side.
func readFrame(r io.Reader, v any) error {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("reading frame header: %w", err)
	}
	payloadLength := binary.BigEndian.Uint32(header[:])
	if payloadLength > maxFramePayload {
		return fmt.Errorf("frame payload %d exceeds maximum %d", payloadLength, maxFramePayload)
	}
	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("reading frame payload: %w", err)
	}
	if err := codec.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding frame payload: %w", err)
	}
	return nil
}
