// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package securechannel implements the non-wire, non-crypto-codec core
// of the handshake: key derivation, the process-wide channel
// registry, and the channel/security data model.
package securechannel

import "github.com/absmach/uasc/errors"

// Policy names a security policy's algorithm suite and the byte
// lengths its symmetric key derivation produces. Values follow the
// published OPC UA security-policy profiles.
type Policy struct {
	URI string

	// SigningKeyLength, EncryptionKeyLength and BlockSize size the
	// SecuritySecrets this policy's Derive call produces.
	SigningKeyLength    int
	EncryptionKeyLength int
	BlockSize           int

	// NonceLength is the length of the local/remote nonces exchanged
	// during the handshake; for PolicyNone it is 0.
	NonceLength int

	// KDFHash names the PRF this policy derives keys with: "sha1" or
	// "sha256" (P_SHA1 / P_SHA256).
	KDFHash string

	// AsymmetricHash names the hash used for asymmetric signing and
	// OAEP/PKCS1 padding: "sha1" or "sha256".
	AsymmetricHash string

	// AsymmetricEncryptionOAEP selects RSA-OAEP over RSA-PKCS1v15 for
	// asymmetric body encryption.
	AsymmetricEncryptionOAEP bool
}

const (
	URINone           = "http://opcfoundation.org/UA/SecurityPolicy#None"
	URIBasic128Rsa15  = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	URIBasic256       = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	URIBasic256Sha256 = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
)

var (
	// ErrUnknownPolicy indicates a security_policy_uri this server does
	// not recognize.
	ErrUnknownPolicy = errors.New("unknown security policy")

	policies = map[string]Policy{
		URINone: {
			URI:            URINone,
			NonceLength:    0,
			KDFHash:        "sha1",
			AsymmetricHash: "sha1",
		},
		URIBasic128Rsa15: {
			URI:                 URIBasic128Rsa15,
			SigningKeyLength:    16,
			EncryptionKeyLength: 16,
			BlockSize:           16,
			NonceLength:         16,
			KDFHash:             "sha1",
			AsymmetricHash:      "sha1",
		},
		URIBasic256: {
			URI:                 URIBasic256,
			SigningKeyLength:    24,
			EncryptionKeyLength: 32,
			BlockSize:           16,
			NonceLength:         32,
			KDFHash:             "sha1",
			AsymmetricHash:      "sha1",
		},
		URIBasic256Sha256: {
			URI:                      URIBasic256Sha256,
			SigningKeyLength:         32,
			EncryptionKeyLength:      32,
			BlockSize:                16,
			NonceLength:              32,
			KDFHash:                  "sha256",
			AsymmetricHash:           "sha256",
			AsymmetricEncryptionOAEP: true,
		},
	}
)

// LookupPolicy resolves a security_policy_uri to its Policy, or
// ErrUnknownPolicy.
func LookupPolicy(uri string) (Policy, error) {
	p, ok := policies[uri]
	if !ok {
		return Policy{}, ErrUnknownPolicy
	}
	return p, nil
}

// None reports whether this policy disables asymmetric and symmetric
// cryptography entirely.
func (p Policy) None() bool {
	return p.URI == URINone
}
