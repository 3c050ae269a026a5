// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"

	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/uasc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ uasc.Service = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	svc    uasc.Service
}

// New returns a uasc.Service that traces every call to the wrapped
// service's entry points.
func New(svc uasc.Service, tracer trace.Tracer) uasc.Service {
	return &tracingMiddleware{tracer, svc}
}

func (tm *tracingMiddleware) HandleMessage(ctx context.Context, transportID string, mt chunk.MessageType, secureChannelID uint32, bodies [][]byte) ([][]byte, error) {
	ctx, span := tm.tracer.Start(ctx, "handle_message", trace.WithAttributes(
		attribute.String("transport_id", transportID),
		attribute.String("message_type", string(mt)),
		attribute.Int64("secure_channel_id", int64(secureChannelID)),
	))
	defer span.End()

	return tm.svc.HandleMessage(ctx, transportID, mt, secureChannelID, bodies)
}

func (tm *tracingMiddleware) OpenSecureChannel(ctx context.Context, transportID string, secureChannelID uint32, chunks [][]byte) ([][]byte, error) {
	ctx, span := tm.tracer.Start(ctx, "open_secure_channel", trace.WithAttributes(
		attribute.String("transport_id", transportID),
		attribute.Int64("secure_channel_id", int64(secureChannelID)),
	))
	defer span.End()

	return tm.svc.OpenSecureChannel(ctx, transportID, secureChannelID, chunks)
}
