/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"time"

	"github.com/friendsincode/relaydesk/internal/models"
)

// Store is the durable record of sessions keyed by code. At most one live
// (pending or active) row exists per code; terminal rows may share codes.
type Store interface {
	// CountLiveSessionsForOwner counts pending and active sessions.
	CountLiveSessionsForOwner(ctx context.Context, owner string) (int, error)

	// CodeExists reports whether any row, or only a live row, uses code.
	CodeExists(ctx context.Context, code string, liveOnly bool) (bool, error)

	// Insert persists a new session. It returns ErrCodeConflict when a live
	// session already holds the code.
	Insert(ctx context.Context, s *models.Session) error

	// FindByCode returns the live session for code, or the most recent
	// terminal one. It returns ErrNotFound when no row uses the code.
	FindByCode(ctx context.Context, code string) (*models.Session, error)

	// UpdateState moves the live session for code to `to`, provided its
	// current state is one of from. Moving to active sets ConnectedAt;
	// moving to a terminal state sets DisconnectedAt, clears Port and
	// reports the freed port in ReleasedPort. It returns ErrNotFound when
	// no row uses the code and ErrStateConflict when the row is not in
	// one of from. Exactly one concurrent caller can succeed.
	UpdateState(ctx context.Context, code string, from []models.SessionState, to models.SessionState, at time.Time) (*models.Session, error)

	// List returns sessions matching filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]models.Session, error)
}

// Purger deletes terminal sessions for the retention archiver.
type Purger interface {
	// DeleteTerminal removes the given sessions, skipping any that are live.
	DeleteTerminal(ctx context.Context, ids []string) (int64, error)
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	OwnerID string
	States  []models.SessionState

	// DisconnectedBefore matches sessions torn down before this instant.
	DisconnectedBefore time.Time

	Limit int
}

func (f ListFilter) matches(s *models.Session) bool {
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, st := range f.States {
			if s.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.DisconnectedBefore.IsZero() {
		if s.DisconnectedAt == nil || !s.DisconnectedAt.Before(f.DisconnectedBefore) {
			return false
		}
	}
	return true
}

func terminalStates() []models.SessionState {
	return []models.SessionState{models.SessionDisconnected, models.SessionClosed}
}

// applyTransition mutates s the way UpdateState persists a transition.
func applyTransition(s *models.Session, to models.SessionState, at time.Time) {
	s.State = to
	s.UpdatedAt = at
	switch {
	case to == models.SessionActive:
		if s.ConnectedAt == nil {
			connected := at
			s.ConnectedAt = &connected
		}
	case to.IsTerminal():
		disconnected := at
		s.DisconnectedAt = &disconnected
		s.ReleasedPort = s.Port
		s.Port = 0
	}
}
