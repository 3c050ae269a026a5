// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ua holds the minimal set of OPC UA structured types the
// secure-channel handshake consumes and produces. It stands in for the
// generated message-encoding/decoding layer as an external
// collaborator: enumerations, attribute structures, and their
// binary/XML codecs are out of scope here, so only the handful of
// types the handshake itself needs are hand-written.
package ua

import "github.com/absmach/uasc/errors"

// StatusCode is a typed OPC UA result/error code, named rather than
// represented as a raw integer.
type StatusCode string

const (
	Good StatusCode = "Good"

	BadTcpMessageTypeInvalid StatusCode = "Bad_TcpMessageTypeInvalid"
	BadTcpMessageTooLarge    StatusCode = "Bad_TcpMessageTooLarge"
	BadTcpSecureChannelUnknown StatusCode = "Bad_TcpSecureChannelUnknown"
	BadSecurityChecksFailed StatusCode = "Bad_SecurityChecksFailed"
	BadCertificateInvalid   StatusCode = "Bad_CertificateInvalid"
)

// Err returns a wrappable errors.Error carrying this status code as its
// message, so callers can both log a stable status name and compare it
// with errors.Contains.
func (s StatusCode) Err() errors.Error {
	return errors.New(string(s))
}

// RequestType distinguishes a brand-new channel from a renewal.
type RequestType uint32

const (
	Issue RequestType = 0
	Renew RequestType = 1
)

// MessageSecurityMode controls whether symmetric traffic under the
// resulting channel is protected.
type MessageSecurityMode uint32

const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

func (m MessageSecurityMode) RequiresSigning() bool {
	return m == MessageSecurityModeSign || m == MessageSecurityModeSignAndEncrypt
}

func (m MessageSecurityMode) RequiresEncryption() bool {
	return m == MessageSecurityModeSignAndEncrypt
}
