// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package uasc_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/absmach/uasc/asym"
	"github.com/absmach/uasc/securechannel"
	"github.com/absmach/uasc/ua"
	"github.com/absmach/uasc/uasc"
	"github.com/stretchr/testify/require"
)

type memCertStore struct {
	cert []byte
	key  *rsa.PrivateKey
}

func (s memCertStore) LookupByThumbprint([]byte) ([]byte, *rsa.PrivateKey, error) {
	return s.cert, s.key, nil
}

func generateCert(t *testing.T, serial int64) (*rsa.PrivateKey, []byte, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "uasc-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, der, cert
}

func newOrchestrator(store asym.CertStore) *uasc.Orchestrator {
	pool := securechannel.NewPool(context.Background(), 4)
	reg := securechannel.NewRegistry(pool, nil)
	return &uasc.Orchestrator{Registry: reg, Store: store}
}

// buildRequestChunks encodes req as a single asymmetric-envelope chunk
// under policy, signed/encrypted as a client would.
func buildRequestChunks(t *testing.T, policy securechannel.Policy, clientKey *rsa.PrivateKey, clientCert []byte, serverCert *x509.Certificate, req ua.OpenSecureChannelRequest) [][]byte {
	t.Helper()
	enc := &asym.Encoder{
		Policy: policy,
		Header: asym.Header{PolicyURI: policy.URI},
		RequestID: 1,
	}
	if !policy.None() {
		enc.Header.SenderCertificate = clientCert
		enc.Header.ReceiverCertThumbprint = asym.Thumbprint(serverCert.Raw)
		enc.LocalKey = clientKey
		enc.RemoteCert = serverCert
	}
	chunks, err := enc.EncodeAll(ua.EncodeOpenSecureChannelRequest(req))
	require.NoError(t, err)
	return chunks
}

func decodeResponse(t *testing.T, store asym.CertStore, chunks [][]byte) ua.OpenSecureChannelResponse {
	t.Helper()
	dec := asym.NewDecoder(store)
	for _, c := range chunks {
		require.NoError(t, dec.AddChunk(c))
	}
	msg, _, err := dec.Finish()
	require.NoError(t, err)
	resp, err := ua.DecodeOpenSecureChannelResponse(msg)
	require.NoError(t, err)
	return resp
}

func TestOpenSecureChannelIssueNone(t *testing.T) {
	orc := newOrchestrator(memCertStore{})
	chunks := buildRequestChunks(t, mustPolicy(t, securechannel.URINone), nil, nil, nil, ua.OpenSecureChannelRequest{
		RequestType:  ua.Issue,
		SecurityMode: ua.MessageSecurityModeNone,
	})

	respChunks, err := orc.OpenSecureChannel(context.Background(), "transport-1", 0, chunks)
	require.NoError(t, err)

	resp := decodeResponse(t, memCertStore{}, respChunks)
	require.Equal(t, ua.Good, resp.ResponseHeader.ServiceResult)
	require.Equal(t, uint32(1), resp.SecurityToken.TokenID)
	require.Equal(t, 300*time.Second, resp.SecurityToken.RevisedLifetime)
	require.Empty(t, resp.ServerNonce)
}

func TestOpenSecureChannelIssueBasic256Sha256(t *testing.T) {
	serverKey, serverCertDER, serverCert := generateCert(t, 1)
	clientKey, clientCertDER, _ := generateCert(t, 2)
	store := memCertStore{cert: serverCertDER, key: serverKey}
	orc := newOrchestrator(store)

	policy := mustPolicy(t, securechannel.URIBasic256Sha256)
	clientNonce := make([]byte, policy.NonceLength)
	_, err := rand.Read(clientNonce)
	require.NoError(t, err)

	chunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Issue,
		SecurityMode: ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:  clientNonce,
	})

	respChunks, err := orc.OpenSecureChannel(context.Background(), "transport-1", 0, chunks)
	require.NoError(t, err)

	resp := decodeResponse(t, store, respChunks)
	require.Equal(t, ua.Good, resp.ResponseHeader.ServiceResult)
	require.Len(t, resp.ServerNonce, policy.NonceLength)
}

func TestOpenSecureChannelRenewalSameTransport(t *testing.T) {
	serverKey, serverCertDER, serverCert := generateCert(t, 1)
	clientKey, clientCertDER, _ := generateCert(t, 2)
	store := memCertStore{cert: serverCertDER, key: serverKey}
	orc := newOrchestrator(store)
	policy := mustPolicy(t, securechannel.URIBasic256Sha256)

	issueChunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Issue,
		SecurityMode: ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:  make([]byte, policy.NonceLength),
	})
	issueResp, err := orc.OpenSecureChannel(context.Background(), "transport-1", 0, issueChunks)
	require.NoError(t, err)
	first := decodeResponse(t, store, issueResp)

	renewChunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Renew,
		SecurityMode: ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:  make([]byte, policy.NonceLength),
	})
	renewResp, err := orc.OpenSecureChannel(context.Background(), "transport-1", first.SecurityToken.ChannelID, renewChunks)
	require.NoError(t, err)
	second := decodeResponse(t, store, renewResp)

	require.Equal(t, first.SecurityToken.TokenID+1, second.SecurityToken.TokenID)

	ch, ok := orc.Registry.Get(first.SecurityToken.ChannelID)
	require.True(t, ok)
	snap := ch.Snapshot()
	require.True(t, snap.HasPreviousEpoch)
}

func TestOpenSecureChannelRenewalModeChangeFails(t *testing.T) {
	serverKey, serverCertDER, serverCert := generateCert(t, 1)
	clientKey, clientCertDER, _ := generateCert(t, 2)
	store := memCertStore{cert: serverCertDER, key: serverKey}
	orc := newOrchestrator(store)
	policy := mustPolicy(t, securechannel.URIBasic256Sha256)

	issueChunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Issue,
		SecurityMode: ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:  make([]byte, policy.NonceLength),
	})
	issueResp, err := orc.OpenSecureChannel(context.Background(), "transport-1", 0, issueChunks)
	require.NoError(t, err)
	first := decodeResponse(t, store, issueResp)

	renewChunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Renew,
		SecurityMode: ua.MessageSecurityModeSign, // changed mode
		ClientNonce:  make([]byte, policy.NonceLength),
	})
	_, err = orc.OpenSecureChannel(context.Background(), "transport-1", first.SecurityToken.ChannelID, renewChunks)
	require.ErrorContains(t, err, "Bad_SecurityChecksFailed")
}

func TestOpenSecureChannelRenewalWrongTransportFails(t *testing.T) {
	serverKey, serverCertDER, serverCert := generateCert(t, 1)
	clientKey, clientCertDER, _ := generateCert(t, 2)
	store := memCertStore{cert: serverCertDER, key: serverKey}
	orc := newOrchestrator(store)
	policy := mustPolicy(t, securechannel.URIBasic256Sha256)

	issueChunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Issue,
		SecurityMode: ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:  make([]byte, policy.NonceLength),
	})
	issueResp, err := orc.OpenSecureChannel(context.Background(), "transport-1", 0, issueChunks)
	require.NoError(t, err)
	first := decodeResponse(t, store, issueResp)

	renewChunks := buildRequestChunks(t, policy, clientKey, clientCertDER, serverCert, ua.OpenSecureChannelRequest{
		RequestType:  ua.Renew,
		SecurityMode: ua.MessageSecurityModeSignAndEncrypt,
		ClientNonce:  make([]byte, policy.NonceLength),
	})
	_, err = orc.OpenSecureChannel(context.Background(), "transport-2", first.SecurityToken.ChannelID, renewChunks)
	require.Error(t, err)

	_, ok := orc.Registry.Get(first.SecurityToken.ChannelID)
	require.True(t, ok, "the original channel must remain live")
}

func TestOpenSecureChannelLifetimeExpiry(t *testing.T) {
	orc := newOrchestrator(memCertStore{})
	chunks := buildRequestChunks(t, mustPolicy(t, securechannel.URINone), nil, nil, nil, ua.OpenSecureChannelRequest{
		RequestType:         ua.Issue,
		SecurityMode:        ua.MessageSecurityModeNone,
		RequestedLifetimeMs: 10, // clamped up to the 1s minLifetime floor
	})

	respChunks, err := orc.OpenSecureChannel(context.Background(), "transport-1", 0, chunks)
	require.NoError(t, err)
	resp := decodeResponse(t, memCertStore{}, respChunks)

	require.Eventually(t, func() bool {
		_, ok := orc.Registry.Get(resp.SecurityToken.ChannelID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func mustPolicy(t *testing.T, uri string) securechannel.Policy {
	t.Helper()
	p, err := securechannel.LookupPolicy(uri)
	require.NoError(t, err)
	return p
}

type fakeInstaller struct {
	installed int
}

func (f *fakeInstaller) InstallSymmetricHandler() {
	f.installed++
}

func TestOpenSecureChannelInstallsSymmetricHandlerOnFirstIssueOnly(t *testing.T) {
	orc := newOrchestrator(memCertStore{})
	installer := &fakeInstaller{}
	ctx := uasc.WithPipelineInstaller(context.Background(), installer)

	chunks := buildRequestChunks(t, mustPolicy(t, securechannel.URINone), nil, nil, nil, ua.OpenSecureChannelRequest{
		RequestType:  ua.Issue,
		SecurityMode: ua.MessageSecurityModeNone,
	})
	respChunks, err := orc.OpenSecureChannel(ctx, "transport-1", 0, chunks)
	require.NoError(t, err)
	require.Equal(t, 1, installer.installed)

	resp := decodeResponse(t, memCertStore{}, respChunks)

	renewChunks := buildRequestChunks(t, mustPolicy(t, securechannel.URINone), nil, nil, nil, ua.OpenSecureChannelRequest{
		RequestType:  ua.Renew,
		SecurityMode: ua.MessageSecurityModeNone,
	})
	_, err = orc.OpenSecureChannel(ctx, "transport-1", resp.SecurityToken.ChannelID, renewChunks)
	require.NoError(t, err)
	require.Equal(t, 1, installer.installed, "a renewal must not reinstall the symmetric handler")
}
