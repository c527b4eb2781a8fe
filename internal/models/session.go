/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// SessionState is the lifecycle position of a remote-support session.
type SessionState string

const (
	SessionPending      SessionState = "pending"
	SessionActive       SessionState = "active"
	SessionDisconnected SessionState = "disconnected"
	SessionClosed       SessionState = "closed"
)

// transitions lists every legal edge of the session state graph.
var transitions = map[SessionState][]SessionState{
	SessionPending: {SessionActive, SessionClosed},
	SessionActive:  {SessionClosed, SessionDisconnected},
}

// Valid reports whether s is one of the known states.
func (s SessionState) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionDisconnected, SessionClosed:
		return true
	}
	return false
}

// IsLive reports whether the session still holds its port.
func (s SessionState) IsLive() bool {
	return s == SessionPending || s == SessionActive
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionState) IsTerminal() bool {
	return s == SessionDisconnected || s == SessionClosed
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns the states that may move into to.
func SourcesFor(to SessionState) []SessionState {
	var sources []SessionState
	for _, from := range []SessionState{SessionPending, SessionActive} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// LiveStates returns the states counted against a technician's quota.
func LiveStates() []SessionState {
	return []SessionState{SessionPending, SessionActive}
}

// Session is the durable record of one remote-support session.
// Port is zero once the session has reached a terminal state.
type Session struct {
	ID              string       `gorm:"type:varchar(36);primaryKey"`
	Code            string       `gorm:"type:varchar(18);index:idx_sessions_code"`
	OwnerID         string       `gorm:"type:varchar(36);index:idx_sessions_owner_state"`
	CustomerName    string       `gorm:"type:varchar(255)"`
	CustomerContact string       `gorm:"type:varchar(255)"`
	State           SessionState `gorm:"type:varchar(16);index:idx_sessions_owner_state"`
	Port            int
	CreatedAt       time.Time
	ConnectedAt     *time.Time
	DisconnectedAt  *time.Time `gorm:"index"`
	UpdatedAt       time.Time

	// ReleasedPort carries the port a terminal transition freed. It is
	// set by the session store and never persisted.
	ReleasedPort int `gorm:"-"`
}

// TableName overrides for GORM.
func (Session) TableName() string {
	return "sessions"
}

// IsLive checks if this session still counts against its owner's quota.
func (s *Session) IsLive() bool {
	return s.State.IsLive()
}

// Duration calculates how long the session has been, or was, connected.
func (s *Session) Duration() time.Duration {
	if s.ConnectedAt == nil {
		return 0
	}
	if s.DisconnectedAt != nil {
		return s.DisconnectedAt.Sub(*s.ConnectedAt)
	}
	return time.Since(*s.ConnectedAt)
}
