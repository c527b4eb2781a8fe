/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process lifecycle events to NATS so other
// systems can follow session activity.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/friendsincode/relaydesk/internal/events"
	"github.com/friendsincode/relaydesk/internal/telemetry"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "relaydesk.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials NATS with reconnect logging.
func Connect(cfg NATSConfig, logger zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("relaydesk"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder copies session lifecycle events from the in-process bus to NATS.
type NATSForwarder struct {
	pub    Publisher
	bus    *events.Bus
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewNATSForwarder creates a forwarder publishing under prefix.
func NewNATSForwarder(pub Publisher, bus *events.Bus, prefix string, logger zerolog.Logger) *NATSForwarder {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATSForwarder{
		pub:    pub,
		bus:    bus,
		prefix: prefix,
		nodeID: generateNodeID(),
		logger: logger.With().Str("component", "nats_forwarder").Logger(),
	}
}

// Run forwards events until ctx ends.
func (f *NATSForwarder) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, eventType := range events.SessionEvents() {
		sub := f.bus.Subscribe(eventType)
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer f.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					f.forward(eventType, payload)
				}
			}
		}(eventType, sub)
	}
	wg.Wait()
}

func (f *NATSForwarder) forward(eventType events.EventType, payload events.Payload) {
	data, err := marshalNATSMessage(eventType, payload, f.nodeID)
	if err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues("error").Inc()
		f.logger.Warn().Err(err).Str("event", string(eventType)).Msg("marshal event failed")
		return
	}

	subject := f.prefix + "." + string(eventType)
	if err := f.pub.Publish(subject, data); err != nil {
		telemetry.EventsForwardedTotal.WithLabelValues("error").Inc()
		f.logger.Warn().Err(err).Str("subject", subject).Msg("publish event failed")
		return
	}
	telemetry.EventsForwardedTotal.WithLabelValues("ok").Inc()
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// marshalNATSMessage converts payload to NATS message format.
func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

// unmarshalNATSMessage parses a NATS message.
func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relaydesk"
	}
	return host + "-" + uuid.NewString()[:8]
}
