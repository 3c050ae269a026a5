// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package uasc wires the chunk framer, the asymmetric envelope codec
// and the secure-channel registry into the handshake orchestrator: the
// single entry point a transport adapter calls with a reassembled
// OpenSecureChannel message and gets back the chunks to write in
// response.
package uasc

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/absmach/uasc/asym"
	"github.com/absmach/uasc/audit"
	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/errors"
	"github.com/absmach/uasc/events"
	"github.com/absmach/uasc/securechannel"
	"github.com/absmach/uasc/ua"
)

// Lifetime bounds applied to RequestedLifetimeMs: a zero or absent
// request falls back to defaultLifetime; anything
// outside [minLifetime, maxLifetime] is clamped rather than rejected.
const (
	defaultLifetime = 300 * time.Second
	minLifetime     = time.Second
	maxLifetime     = 24 * time.Hour
)

func reviseLifetime(requestedMs uint32) time.Duration {
	if requestedMs == 0 {
		return defaultLifetime
	}
	d := time.Duration(requestedMs) * time.Millisecond
	if d < minLifetime {
		return minLifetime
	}
	if d > maxLifetime {
		return maxLifetime
	}
	return d
}

// Clock lets tests substitute a deterministic time source; in
// production it is time.Now.
type Clock func() time.Time

// Orchestrator is the handshake service. One Orchestrator serves every
// transport connection; per-connection state lives entirely in the
// Channel the registry hands back.
type Orchestrator struct {
	Registry *securechannel.Registry
	Store    asym.CertStore
	Clock    Clock

	// Audit records every token issuance, renewal and closure. Nil is
	// treated as audit.NopRepository{}.
	Audit audit.Repository

	// Events announces channel lifecycle transitions over NATS. Nil is
	// treated as events.NopPublisher{}.
	Events events.Publisher

	Logger *slog.Logger
}

func (o *Orchestrator) audit() audit.Repository {
	if o.Audit == nil {
		return audit.NopRepository{}
	}
	return o.Audit
}

func (o *Orchestrator) events() events.Publisher {
	if o.Events == nil {
		return events.NopPublisher{}
	}
	return o.Events
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Service is the interface the tracing middleware wraps: the
// orchestrator's two entry points, message dispatch and the
// OpenSecureChannel handler it calls into.
type Service interface {
	HandleMessage(ctx context.Context, transportID string, mt chunk.MessageType, secureChannelID uint32, bodies [][]byte) ([][]byte, error)
	OpenSecureChannel(ctx context.Context, transportID string, secureChannelID uint32, chunks [][]byte) ([][]byte, error)
}

var _ Service = (*Orchestrator)(nil)

type installerKey struct{}

// PipelineInstaller lets a transport adapter react when a fresh Issue
// succeeds by swapping in whatever handles MessageSecureChannel
// traffic on this connection from then on. A renewal never calls it.
type PipelineInstaller interface {
	InstallSymmetricHandler()
}

// WithPipelineInstaller attaches installer to ctx so OpenSecureChannel
// can call back into the transport once a fresh Issue completes.
func WithPipelineInstaller(ctx context.Context, installer PipelineInstaller) context.Context {
	return context.WithValue(ctx, installerKey{}, installer)
}

func pipelineInstallerFrom(ctx context.Context) PipelineInstaller {
	installer, _ := ctx.Value(installerKey{}).(PipelineInstaller)
	return installer
}

// OpenSecureChannel runs one full OpenSecureChannel(Issue|Renew) turn:
// it decodes the asymmetric envelope across chunks, resolves or opens
// the channel, derives a fresh key epoch, schedules the lifetime
// timer, and encodes the response envelope. secureChannelID is the
// id carried by the chunk header the transport already stripped; 0
// means "assign me one".
func (o *Orchestrator) OpenSecureChannel(ctx context.Context, transportID string, secureChannelID uint32, chunks [][]byte) ([][]byte, error) {
	decoder := asym.NewDecoder(o.Store)
	for _, body := range chunks {
		if err := decoder.AddChunk(body); err != nil {
			return nil, err
		}
	}
	message, _, err := decoder.Finish()
	if err != nil {
		return nil, err
	}

	req, err := ua.DecodeOpenSecureChannelRequest(message)
	if err != nil {
		return nil, ua.BadSecurityChecksFailed.Err()
	}
	policy := decoder.Policy()

	ch, isRenewal, err := o.resolveChannel(secureChannelID, transportID, req, policy, decoder)
	if err != nil {
		return nil, err
	}
	ch.WithLock(func() {
		if isRenewal {
			ch.State = securechannel.StateRenewPending
		} else {
			ch.State = securechannel.StateHandshakePending
		}
	})

	result, err := ch.Submit(ctx, func(ctx context.Context) (any, error) {
		return o.negotiate(ctx, ch, isRenewal, transportID, req, policy, decoder)
	})
	if err != nil {
		// No partial state survives a failure: a channel this call
		// itself allocated is torn down again rather than left
		// registered with no epoch.
		if !isRenewal {
			o.Registry.Close(ch.ID)
		}
		return nil, err
	}
	resp := result.(ua.OpenSecureChannelResponse)

	out, err := o.encodeResponse(decoder, resp)
	if err != nil {
		if !isRenewal {
			o.Registry.Close(ch.ID)
		}
		return nil, err
	}

	if !isRenewal {
		if installer := pipelineInstallerFrom(ctx); installer != nil {
			installer.InstallSymmetricHandler()
		}
	}

	return out, nil
}

// resolveChannel implements the admission rule: Issue with
// secure_channel_id = 0 always opens a fresh channel; Renew must name
// a live channel bound to this same transport, with the same peer
// certificate and message security mode as the channel's last epoch.
func (o *Orchestrator) resolveChannel(secureChannelID uint32, transportID string, req ua.OpenSecureChannelRequest, policy securechannel.Policy, decoder *asym.Decoder) (*securechannel.Channel, bool, error) {
	if secureChannelID == 0 {
		if req.RequestType != ua.Issue {
			return nil, false, ua.BadTcpSecureChannelUnknown.Err()
		}
		return o.Registry.Open(), false, nil
	}

	ch, ok := o.Registry.Get(secureChannelID)
	if !ok {
		return nil, false, ua.BadTcpSecureChannelUnknown.Err()
	}
	if req.RequestType != ua.Renew {
		return nil, false, errors.New("open with a nonzero secure_channel_id must be a renewal")
	}

	var mismatch error
	ch.WithLock(func() {
		if ch.TransportID != transportID {
			mismatch = ua.BadSecurityChecksFailed.Err()
			return
		}
		if ch.State == securechannel.StateClosed {
			mismatch = ua.BadTcpSecureChannelUnknown.Err()
			return
		}
		if ch.Policy.URI != "" && ch.Policy.URI != policy.URI {
			mismatch = ua.BadSecurityChecksFailed.Err()
			return
		}
		if ch.Mode != ua.MessageSecurityModeInvalid && ch.Mode != req.SecurityMode {
			mismatch = ua.BadSecurityChecksFailed.Err()
			return
		}
		if !policy.None() && ch.RemoteCert != nil && !ch.RemoteCert.Equal(decoder.RemoteCertificate()) {
			mismatch = ua.BadSecurityChecksFailed.Err()
		}
	})
	if mismatch != nil {
		return nil, false, mismatch
	}
	return ch, true, nil
}

// negotiate runs on the channel's worker-pool slot: it derives the
// new key epoch, installs it, and schedules the lifetime timer. It
// never touches the wire; that is encodeResponse's job, back on the
// caller's goroutine.
func (o *Orchestrator) negotiate(ctx context.Context, ch *securechannel.Channel, isRenewal bool, transportID string, req ua.OpenSecureChannelRequest, policy securechannel.Policy, decoder *asym.Decoder) (ua.OpenSecureChannelResponse, error) {
	var localNonce []byte
	if !policy.None() {
		localNonce = make([]byte, policy.NonceLength)
		if _, err := rand.Read(localNonce); err != nil {
			return ua.OpenSecureChannelResponse{}, err
		}
	}

	mode := req.SecurityMode
	if policy.None() {
		if mode != ua.MessageSecurityModeNone {
			return ua.OpenSecureChannelResponse{}, ua.BadSecurityChecksFailed.Err()
		}
	} else if !mode.RequiresSigning() {
		return ua.OpenSecureChannelResponse{}, ua.BadSecurityChecksFailed.Err()
	}

	keys, err := securechannel.DeriveKeySet(policy, localNonce, req.ClientNonce)
	if err != nil {
		return ua.OpenSecureChannelResponse{}, ua.BadSecurityChecksFailed.Err()
	}

	tokenID := o.Registry.NextToken()
	lifetime := reviseLifetime(req.RequestedLifetimeMs)
	now := o.now()

	epoch := securechannel.Epoch{
		Keys: keys,
		Token: securechannel.Token{
			ChannelID:       ch.ID,
			TokenID:         tokenID,
			CreatedAt:       now,
			RevisedLifetime: lifetime,
		},
	}

	ch.WithLock(func() {
		ch.Policy = policy
		ch.Mode = mode
		ch.RemoteCert = decoder.RemoteCertificate()
		ch.LocalCert = decoder.LocalCertificate()
		ch.LocalKey = decoder.LocalKey()
		ch.LocalNonce = localNonce
		ch.RemoteNonce = req.ClientNonce
		ch.TransportID = transportID

		if isRenewal {
			prev := ch.Security.Current
			ch.Security.Previous = &prev
		}
		ch.Security.Current = epoch
		ch.State = securechannel.StateSecured
	})

	o.Registry.IssuedOrRenewed(ch, tokenID, lifetime)

	op := audit.OpIssued
	if isRenewal {
		op = audit.OpRenewed
	}
	if err := o.audit().Save(ctx, audit.Record{
		ChannelID:   ch.ID,
		TokenID:     tokenID,
		Operation:   op,
		TransportID: transportID,
		PolicyURI:   policy.URI,
		Lifetime:    lifetime,
		OccurredAt:  now,
	}); err != nil {
		o.logger().Warn("failed to persist secure channel audit record", slog.Any("error", err))
	}

	if isRenewal {
		if err := o.events().ChannelRenewed(ch.ID, tokenID, transportID, policy.URI); err != nil {
			o.logger().Warn("failed to publish channel renewed event", slog.Any("error", err))
		}
	} else {
		if err := o.events().ChannelOpened(ch.ID, tokenID, transportID, policy.URI); err != nil {
			o.logger().Warn("failed to publish channel opened event", slog.Any("error", err))
		}
	}

	return ua.OpenSecureChannelResponse{
		ResponseHeader: ua.ResponseHeader{
			Timestamp:     now,
			RequestHandle: req.RequestHeader.RequestHandle,
			ServiceResult: ua.Good,
		},
		ServerProtocolVersion: ua.ServerProtocolVersion,
		SecurityToken:         epoch.Token.ToUA(),
		ServerNonce:           localNonce,
	}, nil
}

func (o *Orchestrator) encodeResponse(decoder *asym.Decoder, resp ua.OpenSecureChannelResponse) ([][]byte, error) {
	plaintext := ua.EncodeOpenSecureChannelResponse(resp)

	enc := &asym.Encoder{
		Policy:     decoder.Policy(),
		RequestID:  resp.ResponseHeader.RequestHandle,
		LocalKey:   decoder.LocalKey(),
		RemoteCert: decoder.RemoteCertificate(),
	}
	enc.Header = asym.Header{PolicyURI: decoder.Policy().URI}
	if !decoder.Policy().None() {
		enc.Header.SenderCertificate = decoder.LocalCertificate()
		enc.Header.ReceiverCertThumbprint = asym.Thumbprint(decoder.RemoteCertificate().Raw)
	}

	return enc.EncodeAll(plaintext)
}

