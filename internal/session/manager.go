/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/relaydesk/internal/events"
	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/portpool"
	"github.com/friendsincode/relaydesk/internal/quota"
	"github.com/friendsincode/relaydesk/internal/sessioncode"
	"github.com/friendsincode/relaydesk/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "relaydesk/session"

// DefaultCodeMaxAttempts bounds code regeneration when a live session
// already holds the generated code.
const DefaultCodeMaxAttempts = 16

// Metadata is the optional customer information attached at creation.
type Metadata struct {
	CustomerName    string
	CustomerContact string
}

// Info is the public view of a live session.
type Info struct {
	Code  string              `json:"session_code"`
	Port  int                 `json:"udp_port"`
	State models.SessionState `json:"status"`
}

// Option customises a Manager.
type Option func(*Manager)

// WithCodeGenerator replaces the default nine-digit generator.
func WithCodeGenerator(g *sessioncode.Generator) Option {
	return func(m *Manager) { m.codes = g }
}

// WithCodeMaxAttempts sets how many codes Create tries before giving up.
func WithCodeMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager drives sessions through their lifecycle and owns the pairing
// between session records and pool ports.
type Manager struct {
	store       Store
	pool        *portpool.Pool
	quotas      quota.Source
	codes       *sessioncode.Generator
	bus         *events.Bus
	logger      zerolog.Logger
	maxAttempts int
	now         func() time.Time

	admitMu sync.Mutex
	admit   map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a session manager. bus may be nil.
func NewManager(store Store, pool *portpool.Pool, quotas quota.Source, bus *events.Bus, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		pool:        pool,
		quotas:      quotas,
		codes:       sessioncode.New(sessioncode.DefaultLength),
		bus:         bus,
		logger:      logger.With().Str("component", "session").Logger(),
		maxAttempts: DefaultCodeMaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		admit:       make(map[string]*ownerLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	telemetry.PortPoolSize.Set(float64(pool.Size()))
	return m
}

// Create admits a new pending session for owner. On any error no record
// is written and no port stays allocated.
func (m *Manager) Create(ctx context.Context, owner string, meta Metadata) (*models.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.create")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"owner": owner})

	sess, err := m.create(ctx, owner, meta)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.AddSpanAttributes(span, map[string]any{"session_code": sess.Code, "port": sess.Port})
	return sess, nil
}

func (m *Manager) create(ctx context.Context, owner string, meta Metadata) (*models.Session, error) {
	// Quota check and insert must not interleave for the same owner.
	unlock := m.lockOwner(owner)
	defer unlock()

	limit, err := m.quotas.Lookup(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolve quota: %w", err)
	}
	if !limit.Active {
		telemetry.SessionAdmissionRejectedTotal.WithLabelValues("disabled").Inc()
		return nil, fmt.Errorf("technician disabled: %w", ErrForbidden)
	}

	live, err := m.store.CountLiveSessionsForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if live >= limit.MaxSessions {
		telemetry.SessionAdmissionRejectedTotal.WithLabelValues("quota").Inc()
		m.logger.Info().
			Str("owner", owner).
			Int("live", live).
			Int("quota", limit.MaxSessions).
			Msg("session quota exceeded")
		return nil, fmt.Errorf("%w: %d of %d sessions in use", ErrQuotaExceeded, live, limit.MaxSessions)
	}

	port := 0
	committed := false
	defer func() {
		if port != 0 && !committed {
			m.releasePort(port, "")
		}
	}()

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		code, err := m.codes.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate session code: %w", err)
		}

		exists, err := m.store.CodeExists(ctx, code, true)
		if err != nil {
			return nil, err
		}
		if exists {
			telemetry.SessionCodeCollisionsTotal.Inc()
			continue
		}

		if port == 0 {
			port, err = m.pool.Allocate()
			if errors.Is(err, portpool.ErrExhausted) {
				port = 0
				telemetry.SessionAdmissionRejectedTotal.WithLabelValues("ports").Inc()
				m.logger.Warn().Str("owner", owner).Msg("UDP port pool exhausted")
				return nil, fmt.Errorf("allocate port: %w", ErrResourceExhausted)
			}
			if err != nil {
				port = 0
				return nil, fmt.Errorf("allocate port: %w", err)
			}
			telemetry.PortPoolInUse.Set(float64(m.pool.InUse()))
		}

		now := m.now()
		sess := &models.Session{
			ID:              uuid.NewString(),
			Code:            code,
			OwnerID:         owner,
			CustomerName:    meta.CustomerName,
			CustomerContact: meta.CustomerContact,
			State:           models.SessionPending,
			Port:            port,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		err = m.store.Insert(ctx, sess)
		if errors.Is(err, ErrCodeConflict) {
			telemetry.SessionCodeCollisionsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}

		committed = true
		telemetry.SessionsCreatedTotal.Inc()
		m.logger.Info().
			Str("session_code", sess.Code).
			Str("owner", owner).
			Int("port", sess.Port).
			Msg("session created")
		m.publish(events.EventSessionCreated, sess)
		return sess, nil
	}

	telemetry.SessionAdmissionRejectedTotal.WithLabelValues("codes").Inc()
	return nil, fmt.Errorf("no unused session code after %d attempts: %w", m.maxAttempts, ErrResourceExhausted)
}

// Activate moves a pending session to active. Activating an active
// session is a no-op; terminal sessions yield ErrSessionUnavailable.
func (m *Manager) Activate(ctx context.Context, code string) (*models.Session, error) {
	ctx, span := m.span(ctx, "session.activate", code)
	defer span.End()

	sess, err := m.find(ctx, code)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	switch {
	case sess.State == models.SessionActive:
		return sess, nil
	case sess.State.IsTerminal():
		return nil, ErrSessionUnavailable
	}

	updated, err := m.store.UpdateState(ctx, code, []models.SessionState{models.SessionPending}, models.SessionActive, m.now())
	if errors.Is(err, ErrStateConflict) {
		// Lost a race: another activate succeeded or the session ended.
		current, findErr := m.store.FindByCode(ctx, code)
		if findErr != nil {
			return nil, findErr
		}
		if current.State == models.SessionActive {
			return current, nil
		}
		return nil, ErrSessionUnavailable
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SessionTransitionsTotal.WithLabelValues(string(models.SessionActive)).Inc()
	m.logger.Info().
		Str("session_code", code).
		Str("owner", updated.OwnerID).
		Msg("session activated")
	m.publish(events.EventSessionActivated, updated)
	return updated, nil
}

// Close ends a pending or active session on request of its owner or an
// admin. The caller decides authorization and passes the result.
func (m *Manager) Close(ctx context.Context, code string, requestedByOwnerOrAdmin bool) (*models.Session, error) {
	ctx, span := m.span(ctx, "session.close", code)
	defer span.End()

	if !requestedByOwnerOrAdmin {
		telemetry.RecordError(span, ErrForbidden)
		return nil, ErrForbidden
	}

	sess, err := m.finish(ctx, code, models.SessionClosed)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return sess, nil
}

// Disconnect ends an active session whose signaling channel went away.
func (m *Manager) Disconnect(ctx context.Context, code string) (*models.Session, error) {
	ctx, span := m.span(ctx, "session.disconnect", code)
	defer span.End()

	sess, err := m.finish(ctx, code, models.SessionDisconnected)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return sess, nil
}

// finish performs a terminal transition. Only the caller whose update
// wins releases the port.
func (m *Manager) finish(ctx context.Context, code string, to models.SessionState) (*models.Session, error) {
	if !m.codes.Valid(code) {
		return nil, ErrNotFound
	}
	updated, err := m.store.UpdateState(ctx, code, models.SourcesFor(to), to, m.now())
	if errors.Is(err, ErrStateConflict) {
		return nil, fmt.Errorf("%s session %s: %w", to, code, ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	m.releasePort(updated.ReleasedPort, code)

	telemetry.SessionTransitionsTotal.WithLabelValues(string(to)).Inc()
	if updated.ConnectedAt != nil {
		telemetry.SessionConnectedSeconds.Observe(updated.Duration().Seconds())
	}

	m.logger.Info().
		Str("session_code", code).
		Str("owner", updated.OwnerID).
		Int("port", updated.ReleasedPort).
		Str("state", string(to)).
		Msg("session ended")

	eventType := events.EventSessionClosed
	if to == models.SessionDisconnected {
		eventType = events.EventSessionDisconnected
	}
	m.publish(eventType, updated)
	return updated, nil
}

// Lookup returns the session for code.
func (m *Manager) Lookup(ctx context.Context, code string) (*models.Session, error) {
	return m.find(ctx, code)
}

// find rejects codes the generator could never have issued without
// touching the store.
func (m *Manager) find(ctx context.Context, code string) (*models.Session, error) {
	if !m.codes.Valid(code) {
		return nil, ErrNotFound
	}
	return m.store.FindByCode(ctx, code)
}

// GetSessionInfo returns the public view of a live session.
func (m *Manager) GetSessionInfo(ctx context.Context, code string) (Info, error) {
	sess, err := m.find(ctx, code)
	if err != nil {
		return Info{}, err
	}
	if sess.State.IsTerminal() {
		return Info{}, ErrSessionUnavailable
	}
	return Info{Code: sess.Code, Port: sess.Port, State: sess.State}, nil
}

// List returns sessions matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]models.Session, error) {
	return m.store.List(ctx, filter)
}

// ReconcilePorts marks the ports of live sessions as held. It must run
// before the first Create after a restart.
func (m *Manager) ReconcilePorts(ctx context.Context) (int, error) {
	live, err := m.store.List(ctx, ListFilter{States: models.LiveStates()})
	if err != nil {
		return 0, fmt.Errorf("list live sessions: %w", err)
	}

	reserved := 0
	for _, sess := range live {
		if !m.pool.Contains(sess.Port) {
			m.logger.Warn().
				Str("session_code", sess.Code).
				Int("port", sess.Port).
				Msg("live session port outside the configured range")
			continue
		}
		if err := m.pool.Reserve(sess.Port); err != nil {
			m.logger.Warn().
				Err(err).
				Str("session_code", sess.Code).
				Int("port", sess.Port).
				Msg("cannot reserve port for live session")
			continue
		}
		reserved++
	}
	telemetry.PortPoolInUse.Set(float64(m.pool.InUse()))

	if reserved > 0 {
		m.logger.Info().Int("ports", reserved).Msg("reserved ports for live sessions")
	}
	return reserved, nil
}

func (m *Manager) releasePort(port int, code string) {
	if port == 0 {
		return
	}
	if !m.pool.Release(port) {
		m.logger.Warn().
			Int("port", port).
			Str("session_code", code).
			Msg("released port was not held")
	}
	telemetry.PortPoolInUse.Set(float64(m.pool.InUse()))
}

func (m *Manager) lockOwner(owner string) func() {
	m.admitMu.Lock()
	l, ok := m.admit[owner]
	if !ok {
		l = &ownerLock{}
		m.admit[owner] = l
	}
	l.refs++
	m.admitMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.admitMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.admit, owner)
		}
		m.admitMu.Unlock()
	}
}

func (m *Manager) span(ctx context.Context, name, code string) (context.Context, trace.Span) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, name)
	telemetry.AddSpanAttributes(span, map[string]any{"session_code": code})
	return ctx, span
}

func (m *Manager) publish(eventType events.EventType, sess *models.Session) {
	if m.bus == nil {
		return
	}
	port := sess.Port
	if sess.State.IsTerminal() {
		port = sess.ReleasedPort
	}
	m.bus.Publish(eventType, events.Payload{
		"session_id":   sess.ID,
		"session_code": sess.Code,
		"owner":        sess.OwnerID,
		"port":         port,
		"state":        string(sess.State),
		"at":           sess.UpdatedAt,
	})
}
