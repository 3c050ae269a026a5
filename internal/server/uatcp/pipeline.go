// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package uatcp

import (
	"context"
	"sync"

	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/uasc"
)

// symmetricHandler stands in for the MessageSecureChannel handler a
// connection hands traffic to once its channel is secured. Its
// internals are out of scope here; it only keeps MSG chunks from
// falling through to the orchestrator, which knows nothing about
// symmetric traffic.
type symmetricHandler struct{}

func (symmetricHandler) HandleMessage(_ context.Context, _ string, _ chunk.MessageType, _ uint32, _ [][]byte) ([][]byte, error) {
	return nil, nil
}

var _ Handler = symmetricHandler{}

// pipeline is one connection's handler chain. base always sees
// OpenSecureChannel and CloseSecureChannel; front, once installed,
// takes every MessageSecureChannel chunk instead of base ever seeing
// it, so a connection that has completed its handshake no longer
// round-trips MSG traffic through the orchestrator.
type pipeline struct {
	base Handler

	mu    sync.Mutex
	front Handler
}

func newPipeline(base Handler) *pipeline {
	return &pipeline{base: base}
}

func (p *pipeline) install(h Handler) {
	p.mu.Lock()
	p.front = h
	p.mu.Unlock()
}

func (p *pipeline) HandleMessage(ctx context.Context, transportID string, mt chunk.MessageType, secureChannelID uint32, bodies [][]byte) ([][]byte, error) {
	if mt == chunk.MessageTypeMsg {
		p.mu.Lock()
		front := p.front
		p.mu.Unlock()
		if front != nil {
			return front.HandleMessage(ctx, transportID, mt, secureChannelID, bodies)
		}
	}
	return p.base.HandleMessage(ctx, transportID, mt, secureChannelID, bodies)
}

var _ Handler = (*pipeline)(nil)

// pipelineInstaller adapts a pipeline to uasc.PipelineInstaller, so the
// orchestrator can ask this connection to swap in the symmetric
// handler without importing this package.
type pipelineInstaller struct {
	p *pipeline
}

func (pi pipelineInstaller) InstallSymmetricHandler() {
	pi.p.install(symmetricHandler{})
}

var _ uasc.PipelineInstaller = pipelineInstaller{}
