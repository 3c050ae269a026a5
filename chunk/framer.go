// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package chunk implements the UA-TCP chunk framer: it slices whole
// protocol messages off a byte stream without buffering partial
// chunks itself.
package chunk

import (
	"encoding/binary"

	"github.com/absmach/uasc/errors"
	"github.com/absmach/uasc/ua"
)

// HeaderSize is the length, in bytes, of the fixed chunk header:
// 3-byte message type, 1-byte chunk type, 4-byte message size,
// 4-byte secure channel id.
const HeaderSize = 12

// Type identifies the chunk's position within its message.
type Type byte

const (
	TypeFinal        Type = 'F'
	TypeIntermediate Type = 'C'
	TypeAbort        Type = 'A'
)

// MessageType is the 3-ASCII-byte tag at the start of every chunk.
type MessageType string

const (
	MessageTypeOpen  MessageType = "OPN"
	MessageTypeClose MessageType = "CLO"
	MessageTypeMsg   MessageType = "MSG"
)

func (m MessageType) valid() bool {
	switch m {
	case MessageTypeOpen, MessageTypeClose, MessageTypeMsg:
		return true
	default:
		return false
	}
}

// Chunk is one framed unit handed to the orchestrator: the header
// fields plus the type-specific content that follows them.
type Chunk struct {
	MessageType     MessageType
	ChunkType       Type
	SecureChannelID uint32
	Body            []byte // content after the 12-byte header
}

// Framer peeks and slices whole chunks out of a transport-owned byte
// buffer. It holds no per-message state: accumulating chunks into a
// message is the orchestrator's job.
type Framer struct {
	ReceiveBufferSize uint32
}

// Next attempts to slice one whole chunk off the front of buf. It
// returns ok=false, with buf untouched, when fewer than message_size
// bytes are currently readable — the caller should wait for more
// bytes from the transport and call Next again. A non-nil error means
// the transport must be closed.
func (f *Framer) Next(buf []byte) (c Chunk, n int, ok bool, err error) {
	if len(buf) < HeaderSize {
		return Chunk{}, 0, false, nil
	}

	mt := MessageType(buf[0:3])
	if !mt.valid() {
		return Chunk{}, 0, false, ua.BadTcpMessageTypeInvalid.Err()
	}

	ct := Type(buf[3])
	size := binary.LittleEndian.Uint32(buf[4:8])

	if f.ReceiveBufferSize > 0 && size > f.ReceiveBufferSize {
		return Chunk{}, 0, false, ua.BadTcpMessageTooLarge.Err()
	}
	if size < HeaderSize {
		return Chunk{}, 0, false, errors.New("chunk shorter than its own header")
	}

	if uint32(len(buf)) < size {
		// Not enough bytes readable yet; wait for more.
		return Chunk{}, 0, false, nil
	}

	channelID := binary.LittleEndian.Uint32(buf[8:12])

	body := make([]byte, size-HeaderSize)
	copy(body, buf[HeaderSize:size])

	return Chunk{
		MessageType:     mt,
		ChunkType:       ct,
		SecureChannelID: channelID,
		Body:            body,
	}, int(size), true, nil
}

// WriteHeader serializes a chunk header (message type, chunk type,
// total size, secure channel id) for the encoder.
func WriteHeader(mt MessageType, ct Type, totalSize uint32, channelID uint32) []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:3], mt)
	h[3] = byte(ct)
	binary.LittleEndian.PutUint32(h[4:8], totalSize)
	binary.LittleEndian.PutUint32(h[8:12], channelID)
	return h
}
