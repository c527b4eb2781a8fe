/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package retention archives and purges terminal sessions past the
// retention window.
package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/friendsincode/relaydesk/internal/storage"
	"github.com/friendsincode/relaydesk/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultBatchSize is the number of sessions written per archive object.
const DefaultBatchSize = 500

// Store is what the archiver needs from a session store.
type Store interface {
	session.Store
	session.Purger
}

// Archiver moves old terminal sessions into object storage.
type Archiver struct {
	sessions  Store
	objects   storage.ObjectStore
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    zerolog.Logger
}

// NewArchiver creates an archiver keeping terminal sessions for retention.
func NewArchiver(sessions Store, objects storage.ObjectStore, retention time.Duration, logger zerolog.Logger) *Archiver {
	return &Archiver{
		sessions:  sessions,
		objects:   objects,
		retention: retention,
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "retention").Logger(),
	}
}

// record is the archived form of a session.
type record struct {
	ID              string     `json:"id"`
	Code            string     `json:"session_code"`
	OwnerID         string     `json:"owner_id"`
	CustomerName    string     `json:"customer_name,omitempty"`
	CustomerContact string     `json:"customer_contact,omitempty"`
	State           string     `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// RunOnce archives and deletes every eligible session, batch by batch.
// A batch is deleted only after its archive object is written.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	now := a.now()
	cutoff := now.Add(-a.retention)
	total := 0

	for batchNo := 0; ; batchNo++ {
		batch, err := a.sessions.List(ctx, session.ListFilter{
			States:             []models.SessionState{models.SessionDisconnected, models.SessionClosed},
			DisconnectedBefore: cutoff,
			Limit:              a.batchSize,
		})
		if err != nil {
			telemetry.RetentionRunsTotal.WithLabelValues("error").Inc()
			return total, fmt.Errorf("select expired sessions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		data, ids, err := encode(batch)
		if err != nil {
			telemetry.RetentionRunsTotal.WithLabelValues("error").Inc()
			return total, err
		}

		key := fmt.Sprintf("sessions/%s/%d-%d.jsonl", now.Format("2006/01/02"), now.Unix(), batchNo)
		if err := a.objects.Put(ctx, key, data); err != nil {
			telemetry.RetentionRunsTotal.WithLabelValues("error").Inc()
			return total, fmt.Errorf("write archive %s: %w", key, err)
		}

		deleted, err := a.sessions.DeleteTerminal(ctx, ids)
		if err != nil {
			telemetry.RetentionRunsTotal.WithLabelValues("error").Inc()
			return total, fmt.Errorf("purge archived sessions: %w", err)
		}
		total += int(deleted)
		telemetry.RetentionArchivedTotal.Add(float64(deleted))

		a.logger.Info().
			Str("key", key).
			Int("sessions", len(batch)).
			Msg("archived sessions")

		if len(batch) < a.batchSize {
			break
		}
	}

	telemetry.RetentionRunsTotal.WithLabelValues("ok").Inc()
	return total, nil
}

// Run calls RunOnce every interval until ctx ends.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("retention pass failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func encode(batch []models.Session) ([]byte, []string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]string, 0, len(batch))

	for i := range batch {
		s := &batch[i]
		if err := enc.Encode(record{
			ID:              s.ID,
			Code:            s.Code,
			OwnerID:         s.OwnerID,
			CustomerName:    s.CustomerName,
			CustomerContact: s.CustomerContact,
			State:           string(s.State),
			CreatedAt:       s.CreatedAt,
			ConnectedAt:     s.ConnectedAt,
			DisconnectedAt:  s.DisconnectedAt,
			DurationSeconds: s.Duration().Seconds(),
		}); err != nil {
			return nil, nil, fmt.Errorf("encode session %s: %w", s.ID, err)
		}
		ids = append(ids, s.ID)
	}
	return buf.Bytes(), ids, nil
}
