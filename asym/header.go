// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package asym implements the asymmetric envelope codec: decoding and
// encoding OpenSecureChannel chunks under the peer's certificate and
// the local key pair.
package asym

import (
	"bytes"
	"encoding/binary"

	"github.com/absmach/uasc/errors"
)

// Header is the wire record of the AsymmetricSecurityHeader: it is
// the identity of the handshake in progress, and every chunk after
// the first must carry a byte-equal copy.
type Header struct {
	PolicyURI              string
	SenderCertificate      []byte // DER, or nil
	ReceiverCertThumbprint []byte // 20-byte SHA-1, or nil
}

// Equal reports field-wise byte equality, the identity check required
// across a message's chunks.
func (h Header) Equal(o Header) bool {
	return h.PolicyURI == o.PolicyURI &&
		bytes.Equal(h.SenderCertificate, o.SenderCertificate) &&
		bytes.Equal(h.ReceiverCertThumbprint, o.ReceiverCertThumbprint)
}

const nullLength = 0xFFFFFFFF // wire encoding of a null byte string (-1 as int32)

var errTruncatedHeader = errors.New("truncated asymmetric security header")

// ReadHeader parses an AsymmetricSecurityHeader from the front of buf
// and returns it along with the number of bytes consumed.
func ReadHeader(buf []byte) (Header, int, error) {
	var h Header
	off := 0

	uri, n, err := readString(buf[off:])
	if err != nil {
		return Header{}, 0, err
	}
	h.PolicyURI = uri
	off += n

	cert, n, err := readBytes(buf[off:])
	if err != nil {
		return Header{}, 0, err
	}
	h.SenderCertificate = cert
	off += n

	thumb, n, err := readBytes(buf[off:])
	if err != nil {
		return Header{}, 0, err
	}
	h.ReceiverCertThumbprint = thumb
	off += n

	return h, off, nil
}

// WriteHeader serializes h in wire form.
func WriteHeader(h Header) []byte {
	var buf bytes.Buffer
	writeString(&buf, h.PolicyURI)
	writeBytes(&buf, h.SenderCertificate)
	writeBytes(&buf, h.ReceiverCertThumbprint)
	return buf.Bytes()
}

// SequenceHeader is the 8-byte (sequence_number, request_id) pair
// that follows the asymmetric security header on every chunk.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

const SequenceHeaderSize = 8

func ReadSequenceHeader(buf []byte) (SequenceHeader, error) {
	if len(buf) < SequenceHeaderSize {
		return SequenceHeader{}, errTruncatedHeader
	}
	return SequenceHeader{
		SequenceNumber: binary.LittleEndian.Uint32(buf[0:4]),
		RequestID:      binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

func WriteSequenceHeader(s SequenceHeader) []byte {
	buf := make([]byte, SequenceHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.SequenceNumber)
	binary.LittleEndian.PutUint32(buf[4:8], s.RequestID)
	return buf
}

func readString(buf []byte) (string, int, error) {
	b, n, err := readBytes(buf)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readBytes(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, errTruncatedHeader
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if length == nullLength {
		return nil, 4, nil
	}
	if len(buf) < 4+int(length) {
		return nil, 0, errTruncatedHeader
	}
	out := make([]byte, length)
	copy(out, buf[4:4+length])
	return out, 4 + int(length), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], nullLength)
		buf.Write(l[:])
		return
	}
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}
