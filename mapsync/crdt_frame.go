package mapsync

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type FrameType uint64

const (
	// replica sync message
	FrameSync FrameType = 0
	// ephemeral per-client state
	FrameAwareness FrameType = 1
	// edit permission announced by the server
	FrameWriteAccess FrameType = 4
)

func (self FrameType) String() string {
	switch self {
	case FrameSync:
		return "sync"
	case FrameAwareness:
		return "awareness"
	case FrameWriteAccess:
		return "writeAccess"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(self))
	}
}

var ErrUnknownFrame = errors.New("Unknown frame type.")

// a decoded channel frame. `Payload` is set for sync and awareness, `Writable` for write access.
type Frame struct {
	Type     FrameType
	Payload  []byte
	Writable bool
}

// varint type, then a length-prefixed payload
func EncodeSyncFrame(payload []byte) []byte {
	return encodePayloadFrame(FrameSync, payload)
}

func EncodeAwarenessFrame(payload []byte) []byte {
	return encodePayloadFrame(FrameAwareness, payload)
}

func encodePayloadFrame(frameType FrameType, payload []byte) []byte {
	b := make([]byte, 0, 2*protowire.SizeVarint(uint64(len(payload)))+len(payload))
	b = protowire.AppendVarint(b, uint64(frameType))
	b = protowire.AppendBytes(b, payload)
	return b
}

// [4, 1] writable, [4, 0] read-only
func EncodeWriteAccessFrame(writable bool) []byte {
	b := protowire.AppendVarint(nil, uint64(FrameWriteAccess))
	return protowire.AppendVarint(b, protowire.EncodeBool(writable))
}

// returns `ErrUnknownFrame` for types this client does not handle. Callers ignore those.
func DecodeFrame(b []byte) (*Frame, error) {
	frameTypeValue, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, fmt.Errorf("Bad frame type: %w", protowire.ParseError(n))
	}
	frameType := FrameType(frameTypeValue)
	b = b[n:]

	switch frameType {
	case FrameSync, FrameAwareness:
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("Bad %s payload: %w", frameType, protowire.ParseError(n))
		}
		return &Frame{
			Type:    frameType,
			Payload: payload,
		}, nil
	case FrameWriteAccess:
		value, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("Bad %s value: %w", frameType, protowire.ParseError(n))
		}
		return &Frame{
			Type:     frameType,
			Writable: protowire.DecodeBool(value),
		}, nil
	default:
		return &Frame{Type: frameType}, ErrUnknownFrame
	}
}
