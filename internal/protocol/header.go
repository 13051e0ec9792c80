package protocol

import (
	"fmt"
)

// Protocol constants for the streaming ASR binary framing
const (
	ProtocolVersion = 0x1
	HeaderWords     = 0x1 // Header length in 4-byte words
	HeaderSize      = 4   // HeaderWords * 4
	fieldSize       = 4   // Sequence, length, code and reserved fields are all 4 bytes
)

// MessageType identifies the kind of frame (high nibble of byte 1)
type MessageType uint8

const (
	MessageTypeFullRequest MessageType = 0x1 // Client: JSON configuration request
	MessageTypeAudioOnly   MessageType = 0x2 // Client: audio payload
	MessageTypeServerFull  MessageType = 0x9 // Server: recognition result
	MessageTypeServerError MessageType = 0xF // Server: error with code
)

// Flags are the message-type specific flags (low nibble of byte 1)
type Flags uint8

const (
	FlagNoSequence           Flags = 0x0
	FlagPositiveSequence     Flags = 0x1 // Sequence field present
	FlagLastPacket           Flags = 0x2 // Final packet of the stream
	FlagNegativeWithSequence Flags = 0x3 // Final packet, negated sequence present
	FlagReserved             Flags = 0x4 // Server frames: 4-byte reserved field follows the sequence
)

// HasSequence reports whether a sequence field follows the header
func (f Flags) HasSequence() bool {
	return f&FlagPositiveSequence != 0
}

// IsLast reports whether the frame is the last one of the stream
func (f Flags) IsLast() bool {
	return f&FlagLastPacket != 0
}

// HasReserved reports whether a reserved 4-byte field must be skipped
func (f Flags) HasReserved() bool {
	return f&FlagReserved != 0
}

// Serialization is the payload serialization method (high nibble of byte 2)
type Serialization uint8

const (
	SerializationNone Serialization = 0x0
	SerializationJSON Serialization = 0x1
)

// Compression is the payload compression method (low nibble of byte 2)
type Compression uint8

const (
	CompressionNone Compression = 0x0
	CompressionGzip Compression = 0x1
)

// Header is the decoded form of the fixed 4-byte frame header
// Layout: [Version:4|HeaderWords:4][MessageType:4|Flags:4][Serialization:4|Compression:4][Reserved:8]
type Header struct {
	Version       uint8
	HeaderWords   uint8
	MessageType   MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Reserved      uint8
}

// Size returns the header length in bytes as declared by the header itself
func (h Header) Size() int {
	return int(h.HeaderWords) * 4
}

// EncodeHeader packs the header fields into 4 bytes.
// Serialization is always JSON and the reserved byte is always zero.
func EncodeHeader(messageType MessageType, flags Flags, compression Compression) []byte {
	return []byte{
		byte(ProtocolVersion<<4 | HeaderWords),
		byte(messageType&0x0F)<<4 | byte(flags&0x0F),
		byte(SerializationJSON)<<4 | byte(compression&0x0F),
		0x00,
	}
}

// DecodeHeader parses the fixed 4-byte header at the start of data
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	h := Header{
		Version:       data[0] >> 4,
		HeaderWords:   data[0] & 0x0F,
		MessageType:   MessageType(data[1] >> 4),
		Flags:         Flags(data[1] & 0x0F),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0F),
		Reserved:      data[3],
	}

	if !IsValidMessageType(h.MessageType) {
		return Header{}, fmt.Errorf("unknown message type: 0x%x", uint8(h.MessageType))
	}
	if h.HeaderWords == 0 {
		return Header{}, fmt.Errorf("invalid header length: 0 words")
	}

	return h, nil
}

// IsValidMessageType checks if the message type is one the protocol defines
func IsValidMessageType(mt MessageType) bool {
	switch mt {
	case MessageTypeFullRequest, MessageTypeAudioOnly, MessageTypeServerFull, MessageTypeServerError:
		return true
	}
	return false
}

// String returns a human-readable message type name
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeFullRequest:
		return "full_request"
	case MessageTypeAudioOnly:
		return "audio_only"
	case MessageTypeServerFull:
		return "server_full"
	case MessageTypeServerError:
		return "server_error"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint8(mt))
	}
}
