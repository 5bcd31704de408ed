// Package ipc implements the gateway's local binary IPC server: the
// length-prefixed wire protocol of spec.md §3.2/§3.3 and the
// single-threaded, non-blocking event loop of §4.5.
//
// No direct teacher analog exists for a binary framing protocol; this is
// built in the teacher's explicit-struct, explicit-error style
// (internal/controlplane/api/types.go's typed error constructors) applied
// to the exact byte layout spec.md names.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the 8-bit enum of spec.md §3.2.
type MessageType byte

const (
	TaskSubmit MessageType = 0x01
	TaskQuery  MessageType = 0x02
	TaskCancel MessageType = 0x03

	StreamChunkFirst MessageType = 0x04
	StreamChunkLast  MessageType = 0x07

	ResponseOK    MessageType = 0x10
	ResponseError MessageType = 0x11

	Ping MessageType = 0xF0
	Pong MessageType = 0xF1
)

// IsStreamChunk reports whether t is one of the reserved stream-chunk
// types (0x04-0x07).
func (t MessageType) IsStreamChunk() bool {
	return t >= StreamChunkFirst && t <= StreamChunkLast
}

const (
	// FrameHeaderSize is the 6-byte [length:u32][version:u8][type:u8] header.
	FrameHeaderSize = 6
	// ProtocolVersion is the only version this server accepts.
	ProtocolVersion byte = 0x01
	// MaxPayloadSize is spec.md §3.2's MAX_PAYLOAD = 4MiB - 6.
	MaxPayloadSize = 4*1024*1024 - FrameHeaderSize
	// MaxFrameSize is the largest legal total frame length.
	MaxFrameSize = MaxPayloadSize + FrameHeaderSize
)

// Message is spec.md §3.2's in-memory IpcMessage value type.
type Message struct {
	Type    MessageType
	Payload []byte
}

var (
	// ErrFrameTooSmall is returned by Decode for length < 6.
	ErrFrameTooSmall = errors.New("ipc: frame length below header size")
	// ErrFrameTooLarge is returned by Decode for length > MaxFrameSize.
	ErrFrameTooLarge = errors.New("ipc: frame exceeds max frame size")
	// ErrInvalidVersion is returned for version != ProtocolVersion.
	ErrInvalidVersion = errors.New("ipc: invalid protocol version")
	// ErrIncomplete signals the buffer does not yet contain a full frame;
	// not a protocol violation, the caller should wait for more bytes.
	ErrIncomplete = errors.New("ipc: incomplete frame")
)

// Encode renders m as a wire frame per spec.md §3.3:
// [length:u32 BE][version:u8][type:u8][payload].
func Encode(m Message) ([]byte, error) {
	total := FrameHeaderSize + len(m.Payload)
	if total > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = ProtocolVersion
	buf[5] = byte(m.Type)
	copy(buf[6:], m.Payload)
	return buf, nil
}

// PeekLength reads the 4-byte big-endian length prefix without consuming
// the buffer, returning ok=false if fewer than 4 bytes are available.
func PeekLength(buf []byte) (length uint32, ok bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[0:4]), true
}

// Decode parses one full frame from buf. buf must contain at least the
// frame's declared length (callers check via PeekLength first). It
// returns the consumed byte count so the caller can shift its receive
// buffer.
func Decode(buf []byte) (Message, int, error) {
	length, ok := PeekLength(buf)
	if !ok {
		return Message{}, 0, ErrIncomplete
	}
	if length < FrameHeaderSize {
		return Message{}, 0, ErrFrameTooSmall
	}
	if length > MaxFrameSize {
		return Message{}, 0, ErrFrameTooLarge
	}
	if uint32(len(buf)) < length {
		return Message{}, 0, ErrIncomplete
	}
	version := buf[4]
	if version != ProtocolVersion {
		return Message{}, int(length), ErrInvalidVersion
	}
	msgType := MessageType(buf[5])
	payload := make([]byte, length-FrameHeaderSize)
	copy(payload, buf[6:length])
	return Message{Type: msgType, Payload: payload}, int(length), nil
}

// ErrorPayload builds the JSON-ish error payload body of spec.md §4.5:
// `{"ok":false,"error":{"code":N,"message":S}}`.
func ErrorPayload(code int, message string) []byte {
	return []byte(fmt.Sprintf(`{"ok":false,"error":{"code":%d,"message":%q}}`, code, message))
}

// IPC error codes, spec.md §7.
const (
	ErrCodeInvalidVersion   = "IPC_ERR_INVALID_VERSION"
	ErrCodeInvalidType      = "IPC_ERR_INVALID_TYPE"
	ErrCodeFrameTooLarge    = "IPC_ERR_FRAME_TOO_LARGE"
	ErrCodeInvalidPayload   = "IPC_ERR_INVALID_PAYLOAD"
	ErrCodeTimeout          = "IPC_ERR_TIMEOUT"
	ErrCodeConnectionClosed = "IPC_ERR_CONNECTION_CLOSED"
	ErrCodeInternal         = "IPC_ERR_INTERNAL"
)

// ErrorMessage builds the string-coded error payload body used once a
// message has been decoded but a string code (rather than a bare int) is
// wanted, e.g. `{"ok":false,"error":{"code":"IPC_ERR_INVALID_TYPE","message":S}}`.
func ErrorMessage(code, message string) []byte {
	return []byte(fmt.Sprintf(`{"ok":false,"error":{"code":%q,"message":%q}}`, code, message))
}
