// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package asym

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // required by the Basic128Rsa15/Basic256 profiles
	"crypto/sha256"
	"crypto/x509"
	"hash"

	"github.com/absmach/uasc/errors"
	"github.com/absmach/uasc/securechannel"
	"github.com/absmach/uasc/ua"
)

// Thumbprint returns the 20-byte SHA-1 thumbprint of a DER
// certificate, the identifier a Header uses to name a certificate
// without embedding it.
func Thumbprint(certDER []byte) []byte {
	sum := sha1.Sum(certDER) //nolint:gosec // thumbprint, not a security boundary
	return sum[:]
}

// CertStore resolves the local certificate/key pair a receiver names
// by thumbprint.
type CertStore interface {
	LookupByThumbprint(thumbprint []byte) (certDER []byte, key *rsa.PrivateKey, err error)
}

func hashFor(name string) (crypto.Hash, hash.Hash, error) {
	switch name {
	case "sha1":
		return crypto.SHA1, sha1.New(), nil
	case "sha256":
		return crypto.SHA256, sha256.New(), nil
	default:
		return 0, nil, errors.New("unsupported asymmetric hash: " + name)
	}
}

// Decoder accumulates the chunks of one OpenSecureChannel message
// under decode, enforcing the per-chunk decryption/signature-check
// steps and the header-equality / monotone-sequence-number invariants.
type Decoder struct {
	store CertStore

	policy     securechannel.Policy
	header     *Header
	remoteCert *x509.Certificate
	localCert  []byte
	localKey   *rsa.PrivateKey

	requestID   uint32
	haveReqID   bool
	lastSeq     uint32
	haveLastSeq bool

	message []byte
}

func NewDecoder(store CertStore) *Decoder {
	return &Decoder{store: store}
}

// Policy returns the policy resolved from the first chunk's header.
// Only valid after AddChunk has succeeded at least once.
func (d *Decoder) Policy() securechannel.Policy { return d.policy }

// RemoteCertificate returns the peer certificate resolved from the
// first chunk, or nil under SecurityPolicy#None.
func (d *Decoder) RemoteCertificate() *x509.Certificate { return d.remoteCert }

// LocalCertificate and LocalKey return the server identity the store
// resolved via the first chunk's receiver thumbprint, or (nil, nil)
// under SecurityPolicy#None.
func (d *Decoder) LocalCertificate() []byte    { return d.localCert }
func (d *Decoder) LocalKey() *rsa.PrivateKey { return d.localKey }

// AddChunk decodes one chunk's asymmetric envelope and appends its
// plaintext body to the in-progress message.
func (d *Decoder) AddChunk(body []byte) error {
	h, off, err := ReadHeader(body)
	if err != nil {
		return ua.BadSecurityChecksFailed.Err()
	}

	if d.header == nil {
		policy, err := securechannel.LookupPolicy(h.PolicyURI)
		if err != nil {
			return err
		}
		d.policy = policy
		d.header = &h

		if !policy.None() {
			if len(h.SenderCertificate) == 0 {
				return ua.BadCertificateInvalid.Err()
			}
			cert, err := x509.ParseCertificate(h.SenderCertificate)
			if err != nil {
				return ua.BadCertificateInvalid.Err()
			}
			d.remoteCert = cert

			localCert, localKey, err := d.store.LookupByThumbprint(h.ReceiverCertThumbprint)
			if err != nil {
				return ua.BadSecurityChecksFailed.Err()
			}
			d.localCert = localCert
			d.localKey = localKey
		}
	} else if !d.header.Equal(h) {
		return ua.BadSecurityChecksFailed.Err()
	}

	rest := body[off:]

	var plaintext []byte
	if d.policy.None() {
		plaintext = rest
	} else {
		decrypted, err := d.decrypt(rest)
		if err != nil {
			return ua.BadSecurityChecksFailed.Err()
		}

		sigLen := d.remoteCert.PublicKey.(*rsa.PublicKey).Size()
		if len(decrypted) < sigLen {
			return ua.BadSecurityChecksFailed.Err()
		}
		plainBody := decrypted[:len(decrypted)-sigLen]
		signature := decrypted[len(decrypted)-sigLen:]

		hashID, hasher, err := hashFor(d.policy.AsymmetricHash)
		if err != nil {
			return err
		}
		hasher.Write(body[:off])
		hasher.Write(plainBody)
		digest := hasher.Sum(nil)

		pub := d.remoteCert.PublicKey.(*rsa.PublicKey)
		if err := rsa.VerifyPKCS1v15(pub, hashID, digest, signature); err != nil {
			return ua.BadSecurityChecksFailed.Err()
		}

		plaintext = plainBody
	}

	seq, err := ReadSequenceHeader(plaintext)
	if err != nil {
		return ua.BadSecurityChecksFailed.Err()
	}
	if !d.haveReqID {
		d.requestID = seq.RequestID
		d.haveReqID = true
	} else if seq.RequestID != d.requestID {
		return ua.BadSecurityChecksFailed.Err()
	}
	if d.haveLastSeq && seq.SequenceNumber <= d.lastSeq {
		return ua.BadSecurityChecksFailed.Err()
	}
	d.lastSeq = seq.SequenceNumber
	d.haveLastSeq = true

	d.message = append(d.message, plaintext[SequenceHeaderSize:]...)
	return nil
}

func (d *Decoder) decrypt(ciphertext []byte) ([]byte, error) {
	if d.policy.AsymmetricEncryptionOAEP {
		_, hasher, err := hashFor(d.policy.AsymmetricHash)
		if err != nil {
			return nil, err
		}
		return rsa.DecryptOAEP(hasher, rand.Reader, d.localKey, ciphertext, nil)
	}
	return rsa.DecryptPKCS1v15(rand.Reader, d.localKey, ciphertext)
}

// Finish returns the reassembled plaintext message and the request id
// carried by its sequence headers.
func (d *Decoder) Finish() (message []byte, requestID uint32, err error) {
	if d.header == nil {
		return nil, 0, ua.BadSecurityChecksFailed.Err()
	}
	return d.message, d.requestID, nil
}

// Encoder splits and encodes a plaintext OpenSecureChannel message
// into one or more framed chunk bodies.
type Encoder struct {
	Policy         securechannel.Policy
	Header         Header
	LocalKey       *rsa.PrivateKey
	RemoteCert     *x509.Certificate
	RequestID      uint32
	StartSeqNumber uint32
}

// maxPlaintextPerChunk returns how many plaintext bytes fit in one
// RSA block given the peer's key size, this policy's padding overhead,
// and (when signing) the signature appended ahead of encryption.
func (e *Encoder) maxPlaintextPerChunk() int {
	if e.Policy.None() {
		return 1 << 20 // effectively unbounded; framing layer still caps message_size
	}
	modulus := e.RemoteCert.PublicKey.(*rsa.PublicKey).Size()
	overhead := 11
	if e.Policy.AsymmetricEncryptionOAEP {
		_, hasher, _ := hashFor(e.Policy.AsymmetricHash)
		overhead = 2*hasher.Size() + 2
	}
	return modulus - overhead - e.LocalKey.Size()
}

// Encode produces one encoded chunk body (header + ciphertext, where
// the ciphertext wraps the sequence header, the plaintext payload and
// its trailing signature together) per call, consuming as much of
// plaintext as fits one RSA block, and reports how much was consumed.
func (e *Encoder) Encode(plaintext []byte, seqNumber uint32) (body []byte, consumed int, err error) {
	headerBytes := WriteHeader(e.Header)

	budget := e.maxPlaintextPerChunk() - SequenceHeaderSize
	if budget < 1 {
		return nil, 0, errors.New("peer key too small for this policy's padding overhead")
	}
	if len(plaintext) > budget {
		consumed = budget
	} else {
		consumed = len(plaintext)
	}

	seq := WriteSequenceHeader(SequenceHeader{SequenceNumber: seqNumber, RequestID: e.RequestID})
	signed := append(append([]byte(nil), seq...), plaintext[:consumed]...)

	if e.Policy.None() {
		return append(headerBytes, signed...), consumed, nil
	}

	hashID, hasher, err := hashFor(e.Policy.AsymmetricHash)
	if err != nil {
		return nil, 0, err
	}
	hasher.Write(headerBytes)
	hasher.Write(signed)
	digest := hasher.Sum(nil)

	signature, err := rsa.SignPKCS1v15(rand.Reader, e.LocalKey, hashID, digest)
	if err != nil {
		return nil, 0, err
	}

	ciphertext, err := e.encrypt(append(append([]byte(nil), signed...), signature...))
	if err != nil {
		return nil, 0, err
	}

	out := append(append([]byte(nil), headerBytes...), ciphertext...)
	return out, consumed, nil
}

func (e *Encoder) encrypt(plaintext []byte) ([]byte, error) {
	pub := e.RemoteCert.PublicKey.(*rsa.PublicKey)
	if e.Policy.AsymmetricEncryptionOAEP {
		_, hasher, err := hashFor(e.Policy.AsymmetricHash)
		if err != nil {
			return nil, err
		}
		return rsa.EncryptOAEP(hasher, rand.Reader, pub, plaintext, nil)
	}
	return rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
}

// EncodeAll splits plaintext across as many chunks as needed.
func (e *Encoder) EncodeAll(plaintext []byte) ([][]byte, error) {
	var chunks [][]byte
	seq := e.StartSeqNumber
	for len(plaintext) > 0 || len(chunks) == 0 {
		body, n, err := e.Encode(plaintext, seq)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, body)
		plaintext = plaintext[n:]
		seq++
		if n == 0 {
			break
		}
	}
	return chunks, nil
}
