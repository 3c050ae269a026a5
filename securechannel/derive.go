// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required by the Basic128Rsa15/Basic256 profiles
	"crypto/sha256"
	"hash"

	"github.com/absmach/uasc/errors"
)

// Secrets is the per-direction key material of one SecuritySecrets
// triple.
type Secrets struct {
	SigningKey           []byte
	EncryptionKey        []byte
	InitializationVector []byte
}

// KeySet holds both directions' Secrets for one channel epoch:
// Sender keys protect what this server writes, Receiver keys verify
// and decrypt what it reads.
type KeySet struct {
	Sender   Secrets
	Receiver Secrets
}

var errPolicyNone = errors.New("cannot derive symmetric keys for SecurityPolicy#None")

// newHash returns the PRF hash constructor named by the policy's
// KDFHash field.
func newHash(name string) (func() hash.Hash, error) {
	switch name {
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	default:
		return nil, errors.New("unsupported key-derivation hash: " + name)
	}
}

// pHash implements the TLS-style P_hash pseudo-random function OPC UA
// reuses for key derivation: P_hash(secret, seed) =
// HMAC(secret, A(1)||seed) || HMAC(secret, A(2)||seed) || ...
// where A(0) = seed and A(i) = HMAC(secret, A(i-1)).
func pHash(h func() hash.Hash, secret, seed []byte, length int) []byte {
	out := make([]byte, 0, length)

	a := seed
	for len(out) < length {
		mac := hmac.New(h, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(h, secret)
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}

	return out[:length]
}

// Derive expands (secretNonce, seedNonce) into one direction's
// SecuritySecrets under
// policy. The caller orders the nonces to obtain sender keys
// (Derive(policy, remoteNonce, localNonce)) or receiver keys
// (Derive(policy, localNonce, remoteNonce)). Deterministic; no I/O.
func Derive(policy Policy, secretNonce, seedNonce []byte) (Secrets, error) {
	if policy.None() {
		return Secrets{}, errPolicyNone
	}

	h, err := newHash(policy.KDFHash)
	if err != nil {
		return Secrets{}, err
	}

	total := policy.SigningKeyLength + policy.EncryptionKeyLength + policy.BlockSize
	material := pHash(h, secretNonce, seedNonce, total)

	s := Secrets{
		SigningKey:           append([]byte(nil), material[:policy.SigningKeyLength]...),
		EncryptionKey:        append([]byte(nil), material[policy.SigningKeyLength:policy.SigningKeyLength+policy.EncryptionKeyLength]...),
		InitializationVector: append([]byte(nil), material[policy.SigningKeyLength+policy.EncryptionKeyLength:]...),
	}
	return s, nil
}

// DeriveKeySet derives both directions' Secrets for a freshly
// negotiated epoch: sender keys are derived from (remoteNonce as
// secret, localNonce as seed) and receiver keys from the swapped
// pair.
func DeriveKeySet(policy Policy, localNonce, remoteNonce []byte) (KeySet, error) {
	if policy.None() {
		return KeySet{}, nil
	}

	sender, err := Derive(policy, remoteNonce, localNonce)
	if err != nil {
		return KeySet{}, err
	}
	receiver, err := Derive(policy, localNonce, remoteNonce)
	if err != nil {
		return KeySet{}, err
	}
	return KeySet{Sender: sender, Receiver: receiver}, nil
}
