// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pki supplies the server's own certificate/key identity to
// the handshake: a certificate/key store with lookup by thumbprint.
// Store implementations back asym.CertStore either from a local PEM
// pair (FileStore) or from a HashiCorp Vault PKI secrets engine
// (VaultStore).
package pki

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sync"

	"github.com/absmach/uasc/asym"
	"github.com/absmach/uasc/errors"
)

var (
	// ErrMissingCerts indicates an incomplete certificate/key pair path.
	ErrMissingCerts = errors.New("certificate path or key path not set")

	// ErrUnknownThumbprint indicates a receiver thumbprint this store
	// holds no identity for; callers map it to Bad_SecurityChecksFailed.
	ErrUnknownThumbprint = errors.New("no certificate/key pair for requested thumbprint")
)

// FileStore is a single, static server identity loaded once from a
// PEM certificate/key pair on disk. It answers LookupByThumbprint for
// exactly the thumbprint of its own certificate.
type FileStore struct {
	mu         sync.RWMutex
	certDER    []byte
	key        *rsa.PrivateKey
	thumbprint []byte
}

var _ asym.CertStore = (*FileStore)(nil)

// LoadFileStore reads a certificate/key pair the way certs.go's
// LoadCertificates did, but keeps the parsed RSA key instead of a
// tls.Certificate: the asymmetric codec operates on *rsa.PrivateKey
// directly.
func LoadFileStore(certPath, keyPath string) (*FileStore, error) {
	if certPath == "" || keyPath == "" {
		return nil, ErrMissingCerts
	}

	if _, err := os.Stat(certPath); err != nil {
		return nil, err
	}
	if _, err := os.Stat(keyPath); err != nil {
		return nil, err
	}

	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	key, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("certificate key is not RSA")
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	cert, err := ReadCert(certPEM)
	if err != nil {
		return nil, err
	}

	return &FileStore{
		certDER:    cert.Raw,
		key:        key,
		thumbprint: asym.Thumbprint(cert.Raw),
	}, nil
}

// ReadCert parses a single PEM-encoded certificate, the way
// certs.go's ReadCert did.
func ReadCert(b []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("failed to decode PEM data")
	}
	return x509.ParseCertificate(block.Bytes)
}

// LookupByThumbprint implements asym.CertStore.
func (s *FileStore) LookupByThumbprint(thumbprint []byte) ([]byte, *rsa.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if string(thumbprint) != string(s.thumbprint) {
		return nil, nil, ErrUnknownThumbprint
	}
	return s.certDER, s.key, nil
}

// Rotate swaps in a freshly issued identity, e.g. after VaultStore
// renews the underlying PKI certificate. Existing handshakes already
// mid-flight keep using the certDER/key pair they already captured;
// only new LookupByThumbprint calls observe the rotation.
func (s *FileStore) Rotate(certDER []byte, key *rsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certDER = certDER
	s.key = key
	s.thumbprint = asym.Thumbprint(certDER)
}
