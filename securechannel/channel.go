// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"sync"
	"time"

	"github.com/absmach/uasc/ua"
)

// State is a connection's position in the handshake lifecycle.
type State int

const (
	StateUnsecured State = iota
	StateHandshakePending
	StateSecured
	StateRenewPending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnsecured:
		return "Unsecured"
	case StateHandshakePending:
		return "HandshakePending"
	case StateSecured:
		return "Secured"
	case StateRenewPending:
		return "RenewPending"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Token is the immutable ChannelSecurityToken tuple: the pair
// (ChannelID, TokenID) uniquely identifies a key epoch.
type Token struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime time.Duration
}

// ToUA converts a Token to the wire-facing ua.ChannelSecurityToken.
// Kept here rather than in package ua to avoid ua importing
// securechannel.
func (t Token) ToUA() ua.ChannelSecurityToken {
	return ua.ChannelSecurityToken{
		ChannelID:       t.ChannelID,
		TokenID:         t.TokenID,
		CreatedAt:       t.CreatedAt,
		RevisedLifetime: t.RevisedLifetime,
	}
}

// Epoch pairs one key derivation with the token that names it.
type Epoch struct {
	Keys  KeySet
	Token Token
}

// Security holds up to two epochs for a channel: Current is always
// populated once the channel is Secured; Previous is populated only
// immediately after a renewal, for the overlap window during which
// either key epoch may still decrypt incoming traffic. Nothing in this
// module clears it: a later renewal replaces it with the epoch that
// was current until then.
type Security struct {
	Current  Epoch
	Previous *Epoch
}

// Channel is the mutable record of one SecureChannel. Mutation is the
// registry's and the owning connection's
// responsibility; Channel itself only serializes access via mu so
// that the admin API's read-only snapshot (package api) can observe
// it concurrently with the owning connection's handshake goroutine.
type Channel struct {
	mu sync.Mutex

	ID     uint32
	Policy Policy
	Mode   ua.MessageSecurityMode

	LocalCert  []byte
	LocalKey   *rsa.PrivateKey
	RemoteCert *x509.Certificate

	LocalNonce  []byte
	RemoteNonce []byte

	Security Security
	State    State

	// TransportID identifies the one transport this channel is bound
	// to: a channel has exactly one bound transport at any instant,
	// and a renewal must arrive over that same transport.
	TransportID string

	queue *jobQueue
}

// WithLock runs fn with the channel's mutex held, the only sanctioned
// way to read or mutate fields shared with the admin-API snapshot.
func (c *Channel) WithLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Submit enqueues fn on this channel's single-slot queue and blocks
// for its result. The registry starts one Route goroutine per channel
// for its lifetime (see Registry.Open), so the queue always has a
// drain in progress; Submit itself never spawns one, or repeated
// calls would leak a goroutine each.
func (c *Channel) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	job := Job{Run: fn, Done: make(chan jobResult, 1)}
	if err := c.queue.Submit(ctx, job); err != nil {
		return nil, err
	}

	select {
	case res := <-job.Done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot is a point-in-time, lock-free copy of the fields the admin
// API is allowed to expose.
type Snapshot struct {
	ID               uint32
	PolicyURI        string
	State            string
	CurrentTokenID   uint32
	HasPreviousEpoch bool
	TransportID      string
	Encrypted        bool
}

func (c *Channel) Snapshot() Snapshot {
	var s Snapshot
	c.WithLock(func() {
		s = Snapshot{
			ID:               c.ID,
			PolicyURI:        c.Policy.URI,
			State:            c.State.String(),
			CurrentTokenID:   c.Security.Current.Token.TokenID,
			HasPreviousEpoch: c.Security.Previous != nil,
			TransportID:      c.TransportID,
			Encrypted:        c.Mode.RequiresEncryption(),
		}
	})
	return s
}
