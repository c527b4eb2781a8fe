/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/relaydesk/internal/models"
)

// MemoryStore keeps sessions in process. Records are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session // by id
	live     map[string]string          // code -> id of the live session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		live:     make(map[string]string),
	}
}

func (s *MemoryStore) CountLiveSessionsForOwner(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.live {
		if s.sessions[id].OwnerID == owner {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CodeExists(_ context.Context, code string, liveOnly bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.live[code]; ok {
		return true, nil
	}
	if liveOnly {
		return false, nil
	}
	for _, sess := range s.sessions {
		if sess.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Insert(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[sess.Code]; ok && sess.State.IsLive() {
		return ErrCodeConflict
	}
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrCodeConflict
	}

	stored := *sess
	s.sessions[stored.ID] = &stored
	if stored.State.IsLive() {
		s.live[stored.Code] = stored.ID
	}
	return nil
}

func (s *MemoryStore) FindByCode(_ context.Context, code string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.live[code]; ok {
		out := *s.sessions[id]
		return &out, nil
	}

	var newest *models.Session
	for _, sess := range s.sessions {
		if sess.Code != code {
			continue
		}
		if newest == nil || sess.CreatedAt.After(newest.CreatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	out := *newest
	return &out, nil
}

func (s *MemoryStore) UpdateState(_ context.Context, code string, from []models.SessionState, to models.SessionState, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.live[code]
	if !ok {
		for _, sess := range s.sessions {
			if sess.Code == code {
				return nil, ErrStateConflict
			}
		}
		return nil, ErrNotFound
	}

	sess := s.sessions[id]
	allowed := false
	for _, st := range from {
		if sess.State == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStateConflict
	}

	applyTransition(sess, to, at)
	out := *sess
	sess.ReleasedPort = 0
	if !sess.State.IsLive() {
		delete(s.live, code)
	}
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Session, 0)
	for _, sess := range s.sessions {
		if filter.matches(sess) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteTerminal(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		sess, ok := s.sessions[id]
		if !ok || sess.State.IsLive() {
			continue
		}
		delete(s.sessions, id)
		deleted++
	}
	return deleted, nil
}
