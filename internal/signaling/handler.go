/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signaling runs the per-session control channel that moves a
// session from pending to active and tears it down when the channel ends.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/friendsincode/relaydesk/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Frame types understood by the handler. Other types are ignored.
const (
	TypePing       = "ping"
	TypePong       = "pong"
	TypeDisconnect = "disconnect"
)

// Close reasons sent to peers.
const (
	ReasonNotFound    = "session not found"
	ReasonUnavailable = "session unavailable"
	ReasonInternal    = "internal error"
	ReasonDisconnect  = "disconnect requested"
	ReasonShutdown    = "server shutting down"
	ReasonPeerGone    = "peer closed"
)

// Defaults for the per-connection inbound frame limiter.
const (
	DefaultFrameRate  = 5
	DefaultFrameBurst = 10
)

// Sessions is the part of session.Manager the handler drives.
type Sessions interface {
	Lookup(ctx context.Context, code string) (*models.Session, error)
	Activate(ctx context.Context, code string) (*models.Session, error)
	Disconnect(ctx context.Context, code string) (*models.Session, error)
}

type frame struct {
	Type string `json:"type"`
}

// Option customises a Handler.
type Option func(*Handler)

// WithFrameLimit sets the sustained frames per second and burst allowed
// per connection. Frames beyond the limit are dropped.
func WithFrameLimit(perSecond float64, burst int) Option {
	return func(h *Handler) {
		h.frameRate = rate.Limit(perSecond)
		h.frameBurst = burst
	}
}

// Handler runs signaling connections.
type Handler struct {
	sessions   Sessions
	logger     zerolog.Logger
	frameRate  rate.Limit
	frameBurst int

	active sync.WaitGroup
}

// NewHandler creates a signaling handler.
func NewHandler(sessions Sessions, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		sessions:   sessions,
		logger:     logger.With().Str("component", "signaling").Logger(),
		frameRate:  DefaultFrameRate,
		frameBurst: DefaultFrameBurst,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleConnection serves one signaling channel for code until the peer
// disconnects, asks to disconnect, or ctx ends. Once the session has been
// activated, it is disconnected exactly once when this returns.
func (h *Handler) HandleConnection(ctx context.Context, code string, conn Conn) error {
	logger := h.logger.With().Str("session_code", code).Logger()

	sess, err := h.sessions.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			_ = conn.Close(StatusPolicyViolation, ReasonNotFound)
			return err
		}
		logger.Error().Err(err).Msg("session lookup failed")
		_ = conn.Close(StatusInternalError, ReasonInternal)
		return err
	}
	if sess.State.IsTerminal() {
		_ = conn.Close(StatusPolicyViolation, ReasonUnavailable)
		return session.ErrSessionUnavailable
	}

	if _, err := h.sessions.Activate(ctx, code); err != nil {
		if errors.Is(err, session.ErrSessionUnavailable) || errors.Is(err, session.ErrNotFound) {
			_ = conn.Close(StatusPolicyViolation, ReasonUnavailable)
			return err
		}
		logger.Error().Err(err).Msg("activate session failed")
		_ = conn.Close(StatusInternalError, ReasonInternal)
		return err
	}

	h.active.Add(1)
	defer h.active.Done()
	// Teardown must run even when ctx is already cancelled by shutdown.
	defer h.disconnect(context.WithoutCancel(ctx), code, logger)

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	logger.Debug().Msg("signaling connected")

	// The reader is stopped only after the close frame is sent, so the
	// peer sees our status rather than a read cancellation.
	readCtx, cancel := context.WithCancel(ctx)
	status, reason := h.serve(ctx, readCtx, conn, logger)
	_ = conn.Close(status, reason)
	cancel()
	return nil
}

// serve runs the frame loop and returns the close status to send.
func (h *Handler) serve(ctx, readCtx context.Context, conn Conn, logger zerolog.Logger) (StatusCode, string) {
	frames := make(chan []byte)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			data, err := conn.Read(readCtx)
			if err != nil {
				logger.Debug().Err(err).Msg("signaling read ended")
				return
			}
			select {
			case frames <- data:
			case <-readCtx.Done():
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.frameRate, h.frameBurst)

	for {
		select {
		case <-ctx.Done():
			return StatusGoingAway, ReasonShutdown

		case <-done:
			if ctx.Err() != nil {
				return StatusGoingAway, ReasonShutdown
			}
			return StatusNormalClosure, ReasonPeerGone

		case data := <-frames:
			if !limiter.Allow() {
				telemetry.SignalingFramesDroppedTotal.Inc()
				logger.Debug().Msg("signaling frame dropped by rate limit")
				continue
			}

			var msg frame
			if err := json.Unmarshal(data, &msg); err != nil {
				telemetry.SignalingFramesTotal.WithLabelValues("malformed").Inc()
				logger.Warn().Err(err).Msg("invalid signaling message")
				continue
			}

			switch msg.Type {
			case TypePing:
				telemetry.SignalingFramesTotal.WithLabelValues(TypePing).Inc()
				reply, _ := json.Marshal(frame{Type: TypePong})
				if err := conn.Write(ctx, reply); err != nil {
					logger.Debug().Err(err).Msg("pong write failed")
					return StatusInternalError, ReasonInternal
				}
			case TypeDisconnect:
				telemetry.SignalingFramesTotal.WithLabelValues(TypeDisconnect).Inc()
				return StatusNormalClosure, ReasonDisconnect
			default:
				telemetry.SignalingFramesTotal.WithLabelValues("other").Inc()
			}
		}
	}
}

func (h *Handler) disconnect(ctx context.Context, code string, logger zerolog.Logger) {
	_, err := h.sessions.Disconnect(ctx, code)
	switch {
	case err == nil:
		logger.Info().Msg("signaling closed, session disconnected")
	case errors.Is(err, session.ErrInvalidState):
		// Closed explicitly while the channel was open.
		logger.Debug().Msg("signaling closed after session ended")
	default:
		logger.Error().Err(err).Msg("disconnect session failed")
	}
}

// Wait blocks until every activated connection has finished its teardown
// or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
