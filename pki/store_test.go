// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pki_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/uasc/asym"
	"github.com/absmach/uasc/pki"
	"github.com/stretchr/testify/require"
)

func writeSelfSignedPair(t *testing.T, dir string) (certPath, keyPath string, certDER []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "uasc-pki-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath, der
}

func TestLoadFileStoreLookupByThumbprint(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, der := writeSelfSignedPair(t, dir)

	store, err := pki.LoadFileStore(certPath, keyPath)
	require.NoError(t, err)

	gotDER, gotKey, err := store.LookupByThumbprint(asym.Thumbprint(der))
	require.NoError(t, err)
	require.Equal(t, der, gotDER)
	require.NotNil(t, gotKey)

	_, _, err = store.LookupByThumbprint([]byte("not-a-real-thumbprint"))
	require.ErrorIs(t, err, pki.ErrUnknownThumbprint)
}

func TestLoadFileStoreMissingPaths(t *testing.T) {
	_, err := pki.LoadFileStore("", "")
	require.ErrorIs(t, err, pki.ErrMissingCerts)
}

func TestFileStoreRotate(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, der := writeSelfSignedPair(t, dir)

	store, err := pki.LoadFileStore(certPath, keyPath)
	require.NoError(t, err)

	_, otherKeyPath, otherDER := writeSelfSignedPair(t, t.TempDir())
	_ = otherKeyPath

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	store.Rotate(otherDER, otherKey)

	_, _, err = store.LookupByThumbprint(asym.Thumbprint(der))
	require.ErrorIs(t, err, pki.ErrUnknownThumbprint)

	gotDER, gotKey, err := store.LookupByThumbprint(asym.Thumbprint(otherDER))
	require.NoError(t, err)
	require.Equal(t, otherDER, gotDER)
	require.Equal(t, otherKey, gotKey)
}
