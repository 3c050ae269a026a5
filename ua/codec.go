// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ua

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/absmach/uasc/errors"
)

const nullLength = 0xFFFFFFFF

var errTruncated = errors.New("truncated OpenSecureChannel message body")

func readBytes(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, errTruncated
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if length == nullLength {
		return nil, 4, nil
	}
	if len(buf) < 4+int(length) {
		return nil, 0, errTruncated
	}
	out := make([]byte, length)
	copy(out, buf[4:4+length])
	return out, 4 + int(length), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	if b == nil {
		binary.LittleEndian.PutUint32(l[:], nullLength)
		buf.Write(l[:])
		return
	}
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func readString(buf []byte) (string, int, error) {
	b, n, err := readBytes(buf)
	return string(b), n, err
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readUint32(buf []byte) (uint32, int, error) {
	if len(buf) < 4 {
		return 0, 0, errTruncated
	}
	return binary.LittleEndian.Uint32(buf[0:4]), 4, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readInt64(buf []byte) (int64, int, error) {
	if len(buf) < 8 {
		return 0, 0, errTruncated
	}
	return int64(binary.LittleEndian.Uint64(buf[0:8])), 8, nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

// DecodeOpenSecureChannelRequest parses the plaintext body the
// asymmetric codec hands the orchestrator.
func DecodeOpenSecureChannelRequest(buf []byte) (OpenSecureChannelRequest, error) {
	var req OpenSecureChannelRequest
	off := 0

	handle, n, err := readUint32(buf[off:])
	if err != nil {
		return req, err
	}
	req.RequestHeader.RequestHandle = handle
	off += n

	v, n, err := readUint32(buf[off:])
	if err != nil {
		return req, err
	}
	req.ClientProtocolVersion = v
	off += n

	rt, n, err := readUint32(buf[off:])
	if err != nil {
		return req, err
	}
	req.RequestType = RequestType(rt)
	off += n

	mode, n, err := readUint32(buf[off:])
	if err != nil {
		return req, err
	}
	req.SecurityMode = MessageSecurityMode(mode)
	off += n

	nonce, n, err := readBytes(buf[off:])
	if err != nil {
		return req, err
	}
	req.ClientNonce = nonce
	off += n

	lifetime, n, err := readUint32(buf[off:])
	if err != nil {
		return req, err
	}
	req.RequestedLifetimeMs = lifetime

	return req, nil
}

// EncodeOpenSecureChannelRequest is the inverse of
// DecodeOpenSecureChannelRequest, used by test clients and by any
// future client-side orchestrator.
func EncodeOpenSecureChannelRequest(req OpenSecureChannelRequest) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, req.RequestHeader.RequestHandle)
	writeUint32(&buf, req.ClientProtocolVersion)
	writeUint32(&buf, uint32(req.RequestType))
	writeUint32(&buf, uint32(req.SecurityMode))
	writeBytes(&buf, req.ClientNonce)
	writeUint32(&buf, req.RequestedLifetimeMs)
	return buf.Bytes()
}

// DecodeOpenSecureChannelResponse is the client-side counterpart used
// by tests exercising the orchestrator end to end.
func DecodeOpenSecureChannelResponse(buf []byte) (OpenSecureChannelResponse, error) {
	var resp OpenSecureChannelResponse
	off := 0

	ts, n, err := readInt64(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.ResponseHeader.Timestamp = time.Unix(0, ts).UTC()
	off += n

	handle, n, err := readUint32(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.ResponseHeader.RequestHandle = handle
	off += n

	result, n, err := readString(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.ResponseHeader.ServiceResult = StatusCode(result)
	off += n

	spv, n, err := readUint32(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.ServerProtocolVersion = spv
	off += n

	channelID, n, err := readUint32(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.SecurityToken.ChannelID = channelID
	off += n

	tokenID, n, err := readUint32(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.SecurityToken.TokenID = tokenID
	off += n

	createdAt, n, err := readInt64(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.SecurityToken.CreatedAt = time.Unix(0, createdAt).UTC()
	off += n

	lifetime, n, err := readUint32(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.SecurityToken.RevisedLifetime = time.Duration(lifetime) * time.Millisecond
	off += n

	nonce, _, err := readBytes(buf[off:])
	if err != nil {
		return resp, err
	}
	resp.ServerNonce = nonce

	return resp, nil
}

// EncodeOpenSecureChannelResponse serializes the orchestrator's
// decision into the plaintext body the asymmetric codec then encrypts
// and signs.
func EncodeOpenSecureChannelResponse(resp OpenSecureChannelResponse) []byte {
	var buf bytes.Buffer
	writeInt64(&buf, resp.ResponseHeader.Timestamp.UnixNano())
	writeUint32(&buf, resp.ResponseHeader.RequestHandle)
	writeString(&buf, string(resp.ResponseHeader.ServiceResult))
	writeUint32(&buf, resp.ServerProtocolVersion)
	writeUint32(&buf, resp.SecurityToken.ChannelID)
	writeUint32(&buf, resp.SecurityToken.TokenID)
	writeInt64(&buf, resp.SecurityToken.CreatedAt.UnixNano())
	writeUint32(&buf, uint32(resp.SecurityToken.RevisedLifetime/time.Millisecond))
	writeBytes(&buf, resp.ServerNonce)
	return buf.Bytes()
}
