// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package uasc

import (
	"context"
	"log/slog"

	"github.com/absmach/uasc/audit"
	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/ua"
)

// HandleMessage dispatches one reassembled message by its chunk
// message type. CLOSE is terminal and never raises; anything other
// than OPN/CLO at this stage is out of phase.
func (o *Orchestrator) HandleMessage(ctx context.Context, transportID string, mt chunk.MessageType, secureChannelID uint32, bodies [][]byte) ([][]byte, error) {
	switch mt {
	case chunk.MessageTypeClose:
		o.closeChannel(ctx, transportID, secureChannelID)
		return nil, nil
	case chunk.MessageTypeOpen:
		return o.OpenSecureChannel(ctx, transportID, secureChannelID, bodies)
	default:
		return nil, ua.BadTcpMessageTypeInvalid.Err()
	}
}

// closeChannel reads the channel's token id and policy before tearing
// it out of the registry, since Registry.Close discards the Channel,
// and then records the closure.
func (o *Orchestrator) closeChannel(ctx context.Context, transportID string, secureChannelID uint32) {
	var tokenID uint32
	var policyURI string
	if ch, ok := o.Registry.Get(secureChannelID); ok {
		ch.WithLock(func() {
			tokenID = ch.Security.Current.Token.TokenID
			policyURI = ch.Policy.URI
		})
	}

	o.Registry.Close(secureChannelID)

	if err := o.audit().Save(ctx, audit.Record{
		ChannelID:   secureChannelID,
		TokenID:     tokenID,
		Operation:   audit.OpClosed,
		TransportID: transportID,
		PolicyURI:   policyURI,
	}); err != nil {
		o.logger().Warn("failed to persist secure channel audit record", slog.Any("error", err))
	}

	if err := o.events().ChannelClosed(secureChannelID, transportID); err != nil {
		o.logger().Warn("failed to publish channel closed event", slog.Any("error", err))
	}
}
