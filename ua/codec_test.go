// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ua_test

import (
	"testing"
	"time"

	"github.com/absmach/uasc/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSecureChannelRequestRoundTrip(t *testing.T) {
	req := ua.OpenSecureChannelRequest{
		RequestHeader:         ua.RequestHeader{RequestHandle: 99},
		ClientProtocolVersion: 0,
		RequestType:           ua.Renew,
		SecurityMode:          ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:           []byte("client-nonce"),
		RequestedLifetimeMs:   60000,
	}
	wire := ua.EncodeOpenSecureChannelRequest(req)
	got, err := ua.DecodeOpenSecureChannelRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestOpenSecureChannelResponseRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	resp := ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     now,
			RequestHandle: 5,
			ServiceResult: ua.Good,
		},
		ServerProtocolVersion: ua.ServerProtocolVersion,
		SecurityToken: ua.ChannelSecurityToken{
			ChannelID:       3,
			TokenID:         1,
			CreatedAt:       now,
			RevisedLifetime: 30 * time.Second,
		},
		ServerNonce: []byte("server-nonce"),
	}
	wire := ua.EncodeOpenSecureChannelResponse(resp)
	got, err := ua.DecodeOpenSecureChannelResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestOpenSecureChannelRequestNullNonce(t *testing.T) {
	req := ua.OpenSecureChannelRequest{RequestType: ua.Issue}
	wire := ua.EncodeOpenSecureChannelRequest(req)
	got, err := ua.DecodeOpenSecureChannelRequest(wire)
	require.NoError(t, err)
	assert.Nil(t, got.ClientNonce)
}
