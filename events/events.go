// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events publishes secure-channel lifecycle notifications to
// NATS, one subject per operation, so that systems outside the uasc
// process (metrics scrapers, operator tooling) can observe channel
// churn without polling the registry snapshot.
package events

import (
	"encoding/json"
	"time"

	broker "github.com/nats-io/nats.go"
)

const subjectPrefix = "uasc.channel"

// Event is the payload published for every channel lifecycle
// transition: operation, id, timestamp, plus whatever fields that
// operation needs.
type Event struct {
	Operation   string    `json:"operation"`
	ChannelID   uint32    `json:"channel_id"`
	TokenID     uint32    `json:"token_id,omitempty"`
	TransportID string    `json:"transport_id,omitempty"`
	PolicyURI   string    `json:"policy_uri,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	opOpened  = "opened"
	opRenewed = "renewed"
	opClosed  = "closed"
)

// Publisher wraps a NATS connection exposing Close, the way the
// teacher's messaging/nats Publisher does for message-broker
// connections.
type Publisher interface {
	ChannelOpened(channelID, tokenID uint32, transportID, policyURI string) error
	ChannelRenewed(channelID, tokenID uint32, transportID, policyURI string) error
	ChannelClosed(channelID uint32, transportID string) error
	Close()
}

type publisher struct {
	conn *broker.Conn
}

// NewPublisher dials url and returns a Publisher bound to it.
func NewPublisher(url string) (Publisher, error) {
	conn, err := broker.Connect(url)
	if err != nil {
		return nil, err
	}
	return &publisher{conn: conn}, nil
}

func (p *publisher) ChannelOpened(channelID, tokenID uint32, transportID, policyURI string) error {
	return p.publish(opOpened, Event{
		Operation:   opOpened,
		ChannelID:   channelID,
		TokenID:     tokenID,
		TransportID: transportID,
		PolicyURI:   policyURI,
		OccurredAt:  time.Now(),
	})
}

func (p *publisher) ChannelRenewed(channelID, tokenID uint32, transportID, policyURI string) error {
	return p.publish(opRenewed, Event{
		Operation:   opRenewed,
		ChannelID:   channelID,
		TokenID:     tokenID,
		TransportID: transportID,
		PolicyURI:   policyURI,
		OccurredAt:  time.Now(),
	})
}

func (p *publisher) ChannelClosed(channelID uint32, transportID string) error {
	return p.publish(opClosed, Event{
		Operation:   opClosed,
		ChannelID:   channelID,
		TransportID: transportID,
		OccurredAt:  time.Now(),
	})
}

func (p *publisher) publish(operation string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.conn.Publish(subjectPrefix+"."+operation, data)
}

func (p *publisher) Close() {
	p.conn.Close()
}

// NopPublisher discards every event; it backs an Orchestrator that was
// not given a NATS connection.
type NopPublisher struct{}

func (NopPublisher) ChannelOpened(uint32, uint32, string, string) error  { return nil }
func (NopPublisher) ChannelRenewed(uint32, uint32, string, string) error { return nil }
func (NopPublisher) ChannelClosed(uint32, string) error                 { return nil }
func (NopPublisher) Close()                                             {}
