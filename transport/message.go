// Package transport carries rollback.Session input and reset traffic over a
// wire. It knows nothing about the simulation being synchronized: a Message
// is an opaque input payload tagged with a step, plus a ping probe.
//
// Two Conn implementations are provided — a length-prefixed TCP framing
// (tcp.go) and a WebSocket alternative (ws.go) — to demonstrate that the
// rollback core's host contract is transport-pluggable.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType tags the kind of payload a Message carries.
type MsgType uint8

const (
	MsgReset MsgType = iota + 1
	MsgInput
	MsgPing
)

// Message is one frame of the wire protocol. Step is meaningful for
// MsgReset (the step the snapshot was taken at) and MsgInput (the step the
// input applies to); it's ignored for MsgPing. Payload carries the
// snapshot bytes for MsgReset, the encoded input for MsgInput, and the
// round-trip estimate (as a little-endian uint32 of milliseconds) for
// MsgPing.
type Message struct {
	Type    MsgType
	Step    int64
	Payload []byte
}

const maxPayloadLen = 1 << 20 // 1 MiB: generous for a toy host, still bounds a hostile length prefix.

// writeMessage encodes msg to w as Type(1) Step(8) Len(4) Payload(Len),
// all little-endian, mirroring the teacher's binary framing shape in
// netplay.Netplay's writer goroutine.
func writeMessage(w io.Writer, msg Message) error {
	header := make([]byte, 13)
	header[0] = byte(msg.Type)
	binary.LittleEndian.PutUint64(header[1:9], uint64(msg.Step))
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(msg.Payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("transport: write header: %w", err)
	}
	if len(msg.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(msg.Payload); err != nil {
		return fmt.Errorf("transport: write payload: %w", err)
	}
	return nil
}

// readMessage is writeMessage's inverse.
func readMessage(r io.Reader) (Message, error) {
	header := make([]byte, 13)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, fmt.Errorf("transport: read header: %w", err)
	}

	msg := Message{
		Type: MsgType(header[0]),
		Step: int64(binary.LittleEndian.Uint64(header[1:9])),
	}

	payloadLen := binary.LittleEndian.Uint32(header[9:13])
	if payloadLen > maxPayloadLen {
		return Message{}, fmt.Errorf("transport: payload length %d exceeds cap %d", payloadLen, maxPayloadLen)
	}
	if payloadLen == 0 {
		return msg, nil
	}

	msg.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		return Message{}, fmt.Errorf("transport: read payload: %w", err)
	}
	return msg, nil
}
