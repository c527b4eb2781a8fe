/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/auth"
	"github.com/friendsincode/relaydesk/internal/events"
	"github.com/friendsincode/relaydesk/internal/logbuffer"
	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/friendsincode/relaydesk/internal/signaling"
	"github.com/friendsincode/relaydesk/internal/telemetry"
	"github.com/friendsincode/relaydesk/internal/version"
	ws "nhooyr.io/websocket"
)

// eventPingInterval is how often idle event streams receive a keepalive.
const eventPingInterval = 15 * time.Second

// API exposes HTTP handlers.
type API struct {
	db        *gorm.DB
	jwtSecret []byte
	sessions  *session.Manager
	signaling *signaling.Handler
	bus       *events.Bus
	logs      *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper. logs may be nil.
func New(db *gorm.DB, jwtSecret []byte, sessions *session.Manager, sig *signaling.Handler, bus *events.Bus, logs *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		sessions:  sessions,
		signaling: sig,
		bus:       bus,
		logs:      logs,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/", a.handleRoot)
	r.Get("/ws/session/{code}", a.handleSignaling)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/sessions/{code}/info", a.handleSessionInfo)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/sessions", func(r chi.Router) {
				r.Get("/", a.handleSessionsList)
				r.Post("/", a.handleSessionsCreate)
				r.Delete("/{code}", a.handleSessionsClose)
			})

			pr.Route("/technicians", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleTechniciansList)
				r.Post("/", a.handleTechniciansCreate)
				r.Patch("/{id}", a.handleTechniciansUpdate)
			})

			pr.With(a.requireRoles(models.RoleAdmin)).Get("/events", a.handleEvents)
			pr.With(a.requireRoles(models.RoleAdmin)).Get("/logs", a.handleLogs)
		})
	})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "relaydesk",
		"version": version.Version,
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "events_unavailable")
		return
	}

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.SessionEvents()
	}

	// Subscribe before the upgrade completes so no event published after
	// the handshake is missed.
	type envelope struct {
		eventType events.EventType
		payload   events.Payload
	}
	merged := make(chan envelope, 16)
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		go func(eventType events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- envelope{eventType: eventType, payload: payload}:
				case <-r.Context().Done():
					return
				}
			}
		}(eventType, sub)
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Drain client frames so close handshakes are processed.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-merged:
			if err := a.writeEvent(ctx, conn, ev.eventType, ev.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	return auth.RequireRole(allowed...)
}

// writeSessionError maps session errors onto HTTP statuses.
func (a *API) writeSessionError(w http.ResponseWriter, err error) {
	kind := session.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("session operation failed")
	}
	writeError(w, status, string(kind))
}

func statusForKind(kind session.Kind) int {
	switch kind {
	case session.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case session.KindResourceExhausted:
		return http.StatusServiceUnavailable
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindSessionUnavailable:
		return http.StatusGone
	case session.KindInvalidState:
		return http.StatusConflict
	case session.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

// decodeJSON reads a single JSON object from the request body. An empty
// body leaves dst untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
