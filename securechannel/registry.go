// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/uasc/errors"
)

// ErrUnknownChannel indicates a channel id the registry has no live
// entry for; callers map it to Bad_TcpSecureChannelUnknown.
var ErrUnknownChannel = errors.New("unknown secure channel")

// Registry is the process-wide table of live channels: a mapping from
// channel id to Channel, a monotonic next-channel-id counter, and a
// monotonic next-token-id counter. All
// operations are linearizable across the multiple transport
// goroutines that share one Registry.
type Registry struct {
	mu       sync.Mutex
	channels map[uint32]*Channel

	nextChannelID atomic.Uint32
	nextTokenID   atomic.Uint32

	pool *Pool

	// onExpire is invoked (outside the registry lock) when a
	// channel's lifetime timer fires without renewal, after the
	// channel has already been removed from the table.
	onExpire func(channelID uint32)
}

// NewRegistry constructs an empty registry backed by pool for
// per-channel crypto/derivation work.
func NewRegistry(pool *Pool, onExpire func(channelID uint32)) *Registry {
	return &Registry{
		channels: make(map[uint32]*Channel),
		pool:     pool,
		onExpire: onExpire,
	}
}

// Open allocates a fresh channel id, inserts an empty Channel, and
// returns it. Used on OpenSecureChannel(Issue) when the client sent
// secure_channel_id = 0.
func (r *Registry) Open() *Channel {
	id := r.nextChannelID.Add(1)
	ch := &Channel{
		ID:    id,
		State: StateUnsecured,
		queue: newJobQueue(),
	}

	r.mu.Lock()
	r.channels[id] = ch
	r.mu.Unlock()

	// One Route goroutine per channel, for the channel's lifetime:
	// it drains ch.queue into the shared pool so unrelated channels'
	// jobs never wait on each other.
	go r.pool.Route(context.Background(), ch.queue)

	return ch
}

// Get returns the live channel for id, or (nil, false).
func (r *Registry) Get(id uint32) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Close removes id from the registry. It is idempotent: closing an
// already-absent id is not an error.
func (r *Registry) Close(id uint32) {
	r.mu.Lock()
	ch, ok := r.channels[id]
	if ok {
		delete(r.channels, id)
	}
	r.mu.Unlock()

	if ok {
		ch.WithLock(func() { ch.State = StateClosed })
	}
}

// Snapshot returns a point-in-time list of every live channel, for the
// admin API's registry listing.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	chans := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(chans))
	for i, ch := range chans {
		out[i] = ch.Snapshot()
	}
	return out
}

// NextToken returns a fresh, process-unique token id.
func (r *Registry) NextToken() uint32 {
	return r.nextTokenID.Add(1)
}

// IssuedOrRenewed schedules the lifetime timer for a just-issued or
// just-renewed token. If the timer fires while the channel's current
// token id is still tokenID — i.e. no later renewal has superseded it
// — the channel is closed. Comparing the token id at fire time (rather
// than merely at schedule time) is what resolves the race between a
// renewal and the previous epoch's expiry.
func (r *Registry) IssuedOrRenewed(ch *Channel, tokenID uint32, lifetime time.Duration) {
	time.AfterFunc(lifetime, func() {
		var expired bool
		ch.WithLock(func() {
			if ch.Security.Current.Token.TokenID == tokenID {
				expired = true
			}
		})
		if !expired {
			return
		}

		r.Close(ch.ID)
		if r.onExpire != nil {
			r.onExpire(ch.ID)
		}
	})
}
