// Package xrdisplay talks to the secondary display service that hosts the
// input view on an external (XR) display.
//
// Messages are framed with a fixed 16 byte header followed by a JSON
// payload:
//   - requests and responses are paired by request id
//   - callbacks are pushed by the service with request id 0
//   - payloads are validated against embedded JSON schemas on receipt
package xrdisplay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Protocol version and magic.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x494d5852 // "IMXR"
)

// InvalidDisplay is the display id meaning "no display".
const InvalidDisplay = -1

// MessageType identifies the type of a message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgAck          MessageType = 0x0006

	// Service calls (transaction codes 30001..)
	MsgRegisterCallback       MessageType = 0x7531
	MsgSendClientWindowStatus MessageType = 0x7532
	MsgGetImeDisplay          MessageType = 0x7533
	MsgImeDisplay             MessageType = 0x7534

	// Callbacks pushed to registered clients
	MsgSetImeDisplay       MessageType = 0x7541
	MsgSetImeDisplayStatus MessageType = 0x7542
)

var messageNames = map[MessageType]string{
	MsgPing:                   "ping",
	MsgPong:                   "pong",
	MsgHandshake:              "handshake",
	MsgHandshakeAck:           "handshake-ack",
	MsgError:                  "error",
	MsgAck:                    "ack",
	MsgRegisterCallback:       "register-callback",
	MsgSendClientWindowStatus: "send-client-window-status",
	MsgGetImeDisplay:          "get-ime-display",
	MsgImeDisplay:             "ime-display",
	MsgSetImeDisplay:          "set-ime-display",
	MsgSetImeDisplayStatus:    "set-ime-display-status",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%#04x)", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags, reserved
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation, 0 for callbacks
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// MaxPayload bounds a single payload.
const MaxPayload = 1 << 20

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message as one frame. Header and payload go out in a
// single write so concurrent writers on a locked conn never interleave.
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	buf := make([]byte, HeaderSize, HeaderSize+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], m.Header.Magic)
	buf[4] = m.Header.Version
	buf[5] = m.Header.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Header.Type))
	binary.BigEndian.PutUint32(buf[8:12], m.Header.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], m.Header.Length)
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to open a session.
type HandshakeRequest struct {
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse acknowledges a handshake.
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// WindowStatusRequest reports whether the client shows its input window.
type WindowStatusRequest struct {
	Show bool `json:"show"`
}

// DisplayPayload carries a display id, in responses and callbacks.
type DisplayPayload struct {
	DisplayID int `json:"display_id"`
}

// DisplayStatusPayload carries the display visibility callback.
type DisplayStatusPayload struct {
	Show bool `json:"show"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnknown          = 1
	ErrCodeInvalidRequest   = 2
	ErrCodePermissionDenied = 4
	ErrCodeInternal         = 5
)

// Encode serializes a payload.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode deserializes a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage builds an error reply.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse builds a reply with an encoded payload.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
