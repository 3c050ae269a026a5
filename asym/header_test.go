// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package asym_test

import (
	"testing"

	"github.com/absmach/uasc/asym"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		desc string
		h    asym.Header
	}{
		{
			desc: "none policy, null cert and thumbprint",
			h: asym.Header{
				PolicyURI: "http://opcfoundation.org/UA/SecurityPolicy#None",
			},
		},
		{
			desc: "populated cert and thumbprint",
			h: asym.Header{
				PolicyURI:              "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256",
				SenderCertificate:      []byte{0x30, 0x82, 0x01, 0x0a},
				ReceiverCertThumbprint: []byte("01234567890123456789"),
			},
		},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			wire := asym.WriteHeader(c.h)
			got, n, err := asym.ReadHeader(wire)
			require.NoError(t, err)
			assert.Equal(t, len(wire), n)
			assert.True(t, c.h.Equal(got))
		})
	}
}

func TestHeaderEqual(t *testing.T) {
	a := asym.Header{PolicyURI: "p", SenderCertificate: []byte{1, 2}}
	b := asym.Header{PolicyURI: "p", SenderCertificate: []byte{1, 2}}
	c := asym.Header{PolicyURI: "p", SenderCertificate: []byte{1, 3}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestSequenceHeaderRoundTrip(t *testing.T) {
	s := asym.SequenceHeader{SequenceNumber: 42, RequestID: 7}
	wire := asym.WriteSequenceHeader(s)
	got, err := asym.ReadSequenceHeader(wire)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
