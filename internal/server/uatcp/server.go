// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package uatcp is the UA-TCP listener: it accepts connections, slices
// chunks off each one with chunk.Framer, reassembles whole messages,
// and routes each through a per-connection pipeline. The pipeline
// calls the orchestrator for OpenSecureChannel and CloseSecureChannel;
// once a connection's first Issue succeeds, MessageSecureChannel
// traffic bypasses the orchestrator entirely and goes to the front
// handler installed in its place. It implements the same Server
// interface internal/server/server.go's HTTP/CoAP/gRPC adapters do, so
// StopSignalHandler drives it identically.
package uatcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/absmach/uasc/chunk"
	"github.com/absmach/uasc/internal/server"
	"github.com/absmach/uasc/uasc"
)

// Handler is the subset of *uasc.Orchestrator the server depends on,
// narrowed so tests can substitute a fake.
type Handler interface {
	HandleMessage(ctx context.Context, transportID string, mt chunk.MessageType, secureChannelID uint32, bodies [][]byte) ([][]byte, error)
}

var _ Handler = (*uasc.Orchestrator)(nil)

// Server listens for UA-TCP connections and dispatches reassembled
// messages to a Handler, one goroutine per connection.
type Server struct {
	server.BaseServer
	Handler Handler

	listener net.Listener
	wg       sync.WaitGroup
}

var _ server.Server = (*Server)(nil)

// New returns a Server bound to cfg.Host:cfg.Port once Start is called.
func New(ctx context.Context, cancel context.CancelFunc, name string, cfg server.Config, handler Handler, logger *slog.Logger) *Server {
	return &Server{
		BaseServer: server.BaseServer{
			Ctx:      ctx,
			Cancel:   cancel,
			Name:     name,
			Address:  fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Config:   cfg,
			Logger:   logger,
			Protocol: "tcp",
		},
		Handler: handler,
	}
}

// Start binds the listener and serves connections until the context
// given to New is cancelled or the listener errors out.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = ln
	s.Logger.Info(fmt.Sprintf("%s service started using %s protocol, exposed on %s", s.Name, s.Protocol, s.Address))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.acceptLoop(ln)
	}()

	select {
	case <-s.Ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return err
	}
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.Ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

// Stop closes the listener, unblocking acceptLoop, and cancels the
// server's context. Connections already being served are not closed:
// each keeps running until its peer disconnects or a read fails.
func (s *Server) Stop() error {
	if s.Cancel != nil {
		defer s.Cancel()
	}
	if s.listener == nil {
		return nil
	}
	s.Logger.Info(fmt.Sprintf("%s service shutdown of %s at %s", s.Name, s.Protocol, s.Address))
	return s.listener.Close()
}
