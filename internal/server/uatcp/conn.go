// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package uatcp

import (
	"fmt"
	"io"
	"net"

	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/uasc"
)

// readBufferSize is the chunk size this listener is willing to
// buffer per read syscall; it is unrelated to maxMessageSize, which
// bounds each chunk's message_size field instead. The number of chunks
// accumulated per message is not limited.
const (
	readBufferSize = 64 * 1024
	maxMessageSize = 16 * 1024 * 1024
)

// pendingMessage accumulates the chunk bodies of one in-flight OPN or
// CLO message until its final chunk arrives.
type pendingMessage struct {
	messageType chunk.MessageType
	bodies      [][]byte
}

// serve owns conn for its lifetime: it frames incoming bytes into
// chunks, reassembles whole messages per secure channel id, dispatches
// each to the Handler, and writes back whatever chunks the Handler
// returns. It returns once conn is closed or a framing error occurs.
func (s *Server) serve(conn net.Conn) {
	transportID := conn.RemoteAddr().String()
	defer conn.Close()

	framer := &chunk.Framer{ReceiveBufferSize: maxMessageSize}
	pending := map[uint32]*pendingMessage{}
	pl := newPipeline(s.Handler)

	var buf []byte
	read := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(read)
		if n > 0 {
			buf = append(buf, read[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				s.Logger.Warn(fmt.Sprintf("uatcp connection %s read error: %s", transportID, err))
			}
			return
		}

		for {
			c, consumed, ok, ferr := framer.Next(buf)
			if ferr != nil {
				s.Logger.Warn(fmt.Sprintf("uatcp connection %s framing error: %s", transportID, ferr))
				return
			}
			if !ok {
				break
			}
			buf = buf[consumed:]

			if done, handled := s.accumulate(pending, c); handled {
				s.dispatch(conn, pl, transportID, c.MessageType, c.SecureChannelID, done)
			}
		}
	}
}

// accumulate folds one chunk into its message's pending body list,
// keyed by secure channel id; chunks for different channels never
// interleave within the same logical message under this protocol.
func (s *Server) accumulate(pending map[uint32]*pendingMessage, c chunk.Chunk) ([][]byte, bool) {
	switch c.ChunkType {
	case chunk.TypeAbort:
		delete(pending, c.SecureChannelID)
		return nil, false
	case chunk.TypeIntermediate:
		pm, ok := pending[c.SecureChannelID]
		if !ok {
			pm = &pendingMessage{messageType: c.MessageType}
			pending[c.SecureChannelID] = pm
		}
		pm.bodies = append(pm.bodies, c.Body)
		return nil, false
	case chunk.TypeFinal:
		pm, ok := pending[c.SecureChannelID]
		if !ok {
			return [][]byte{c.Body}, true
		}
		delete(pending, c.SecureChannelID)
		return append(pm.bodies, c.Body), true
	default:
		return nil, false
	}
}

func (s *Server) dispatch(conn net.Conn, pl *pipeline, transportID string, mt chunk.MessageType, channelID uint32, bodies [][]byte) {
	ctx := uasc.WithPipelineInstaller(s.Ctx, pipelineInstaller{pl})
	out, err := pl.HandleMessage(ctx, transportID, mt, channelID, bodies)
	if err != nil {
		s.Logger.Warn(fmt.Sprintf("uatcp connection %s: %s handling failed: %s", transportID, mt, err))
		return
	}

	for i, body := range out {
		ct := chunk.TypeIntermediate
		if i == len(out)-1 {
			ct = chunk.TypeFinal
		}
		frame := chunk.WriteHeader(mt, ct, uint32(chunk.HeaderSize+len(body)), channelID)
		frame = append(frame, body...)
		if _, err := conn.Write(frame); err != nil {
			s.Logger.Warn(fmt.Sprintf("uatcp connection %s: write failed: %s", transportID, err))
			return
		}
	}
}
