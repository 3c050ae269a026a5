// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package asym_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/absmach/uasc/asym"
	"github.com/absmach/uasc/securechannel"
	"github.com/stretchr/testify/require"
)

type fakeCertStore struct {
	cert []byte
	key  *rsa.PrivateKey
}

func (f fakeCertStore) LookupByThumbprint(thumbprint []byte) ([]byte, *rsa.PrivateKey, error) {
	return f.cert, f.key, nil
}

func generateCert(t *testing.T, serial int64) (*rsa.PrivateKey, []byte) {
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
	return key, der
}

func TestCodecRoundTripNone(t *testing.T) {
	policy, err := securechannel.LookupPolicy(securechannel.URINone)
	require.NoError(t, err)

	enc := &asym.Encoder{
		Policy:    policy,
		Header:    asym.Header{PolicyURI: securechannel.URINone},
		RequestID: 7,
	}
	plaintext := []byte("OpenSecureChannelRequest-payload")
	chunks, err := enc.EncodeAll(plaintext)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	dec := asym.NewDecoder(fakeCertStore{})
	for _, c := range chunks {
		require.NoError(t, dec.AddChunk(c))
	}
	got, reqID, err := dec.Finish()
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
	require.Equal(t, uint32(7), reqID)
}

func TestCodecRoundTripBasic256Sha256(t *testing.T) {
	policy, err := securechannel.LookupPolicy(securechannel.URIBasic256Sha256)
	require.NoError(t, err)

	clientKey, clientCert := generateCert(t, 1)
	serverKey, serverCert := generateCert(t, 2)

	serverX509, err := x509.ParseCertificate(serverCert)
	require.NoError(t, err)

	enc := &asym.Encoder{
		Policy: policy,
		Header: asym.Header{
			PolicyURI:              securechannel.URIBasic256Sha256,
			SenderCertificate:      clientCert,
			ReceiverCertThumbprint: asym.Thumbprint(serverCert),
		},
		LocalKey:   clientKey,
		RemoteCert: serverX509,
		RequestID:  42,
	}

	plaintext := make([]byte, 500)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	chunks, err := enc.EncodeAll(plaintext)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "500 bytes should not fit in one 2048-bit OAEP block")

	dec := asym.NewDecoder(fakeCertStore{cert: serverCert, key: serverKey})
	for _, c := range chunks {
		require.NoError(t, dec.AddChunk(c))
	}
	got, reqID, err := dec.Finish()
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
	require.Equal(t, uint32(42), reqID)
}

func TestCodecRejectsTamperedSignature(t *testing.T) {
	policy, err := securechannel.LookupPolicy(securechannel.URIBasic256Sha256)
	require.NoError(t, err)

	clientKey, clientCert := generateCert(t, 3)
	serverKey, serverCert := generateCert(t, 4)
	serverX509, err := x509.ParseCertificate(serverCert)
	require.NoError(t, err)

	enc := &asym.Encoder{
		Policy: policy,
		Header: asym.Header{
			PolicyURI:              securechannel.URIBasic256Sha256,
			SenderCertificate:      clientCert,
			ReceiverCertThumbprint: asym.Thumbprint(serverCert),
		},
		LocalKey:   clientKey,
		RemoteCert: serverX509,
		RequestID:  1,
	}
	chunks, err := enc.EncodeAll([]byte("hello"))
	require.NoError(t, err)

	tampered := append([]byte(nil), chunks[0]...)
	tampered[len(tampered)-1] ^= 0xFF

	dec := asym.NewDecoder(fakeCertStore{cert: serverCert, key: serverKey})
	require.Error(t, dec.AddChunk(tampered))
}

func TestCodecRejectsHeaderMismatchAcrossChunks(t *testing.T) {
	dec := asym.NewDecoder(fakeCertStore{})
	require.NoError(t, dec.AddChunk(append(asym.WriteHeader(asym.Header{PolicyURI: securechannel.URINone}), asym.WriteSequenceHeader(asym.SequenceHeader{SequenceNumber: 1, RequestID: 1})...)))

	mismatched := append(asym.WriteHeader(asym.Header{PolicyURI: securechannel.URINone, SenderCertificate: []byte{1}}),
		asym.WriteSequenceHeader(asym.SequenceHeader{SequenceNumber: 2, RequestID: 1})...)
	require.Error(t, dec.AddChunk(mismatched))
}

func TestCodecRejectsNonMonotonicSequenceNumber(t *testing.T) {
	dec := asym.NewDecoder(fakeCertStore{})
	header := asym.WriteHeader(asym.Header{PolicyURI: securechannel.URINone})

	first := append(append([]byte(nil), header...), asym.WriteSequenceHeader(asym.SequenceHeader{SequenceNumber: 5, RequestID: 1})...)
	require.NoError(t, dec.AddChunk(first))

	second := append(append([]byte(nil), header...), asym.WriteSequenceHeader(asym.SequenceHeader{SequenceNumber: 5, RequestID: 1})...)
	require.Error(t, dec.AddChunk(second))
}
