// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package chunk_test

import (
	"testing"

	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChunk(mt chunk.MessageType, ct chunk.Type, channelID uint32, body []byte) []byte {
	total := uint32(chunk.HeaderSize + len(body))
	out := chunk.WriteHeader(mt, ct, total, channelID)
	return append(out, body...)
}

func TestFramerNext(t *testing.T) {
	cases := []struct {
		desc       string
		buf        []byte
		wantOK     bool
		wantErr    error
		wantN      int
		wantChunk  bool
	}{
		{
			desc:      "single final OPN chunk succeeds",
			buf:       buildChunk(chunk.MessageTypeOpen, chunk.TypeFinal, 0, []byte("hello")),
			wantOK:    true,
			wantN:     chunk.HeaderSize + 5,
			wantChunk: true,
		},
		{
			desc:   "not enough bytes yet",
			buf:    buildChunk(chunk.MessageTypeOpen, chunk.TypeFinal, 0, []byte("hello"))[:chunk.HeaderSize-1],
			wantOK: false,
		},
		{
			desc:    "unknown message type",
			buf:     buildChunk("ZZZ", chunk.TypeFinal, 0, nil),
			wantErr: ua.BadTcpMessageTypeInvalid.Err(),
		},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			f := &chunk.Framer{}
			got, n, ok, err := f.Next(c.buf)
			if c.wantErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.wantErr.Error(), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.wantOK, ok)
			if !c.wantOK {
				return
			}
			assert.Equal(t, c.wantN, n)
			if c.wantChunk {
				assert.Equal(t, chunk.MessageTypeOpen, got.MessageType)
			}
		})
	}
}

func TestFramerRejectsOversizedMessage(t *testing.T) {
	f := &chunk.Framer{ReceiveBufferSize: 16}
	buf := buildChunk(chunk.MessageTypeOpen, chunk.TypeFinal, 0, make([]byte, 32))

	_, _, _, err := f.Next(buf)
	require.Error(t, err)
	assert.Equal(t, ua.BadTcpMessageTooLarge.Err().Error(), err.Error())
}

func TestFramerMultiChunkBoundary(t *testing.T) {
	// A two-chunk message: intermediate then final, in order.
	c1 := buildChunk(chunk.MessageTypeOpen, chunk.TypeIntermediate, 7, []byte("part1"))
	c2 := buildChunk(chunk.MessageTypeOpen, chunk.TypeFinal, 7, []byte("part2"))

	f := &chunk.Framer{}

	got1, n1, ok1, err1 := f.Next(c1)
	require.NoError(t, err1)
	require.True(t, ok1)
	assert.Equal(t, chunk.TypeIntermediate, got1.ChunkType)

	got2, n2, ok2, err2 := f.Next(c2)
	require.NoError(t, err2)
	require.True(t, ok2)
	assert.Equal(t, chunk.TypeFinal, got2.ChunkType)

	assert.Equal(t, len(c1), n1)
	assert.Equal(t, len(c2), n2)
}
