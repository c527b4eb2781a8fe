/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/relaydesk/internal/auth"
	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/friendsincode/relaydesk/internal/session"
)

const (
	maxListLimit       = 100
	maxCustomerFieldLn = 255
)

type sessionCreateRequest struct {
	CustomerName    string `json:"customer_name"`
	CustomerContact string `json:"customer_contact"`
}

type sessionResponse struct {
	ID              string              `json:"id"`
	Code            string              `json:"session_code"`
	TechnicianID    string              `json:"technician_id"`
	CustomerName    string              `json:"customer_name,omitempty"`
	CustomerContact string              `json:"customer_contact,omitempty"`
	Status          models.SessionState `json:"status"`
	UDPPort         int                 `json:"udp_port,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	ConnectedAt     *time.Time          `json:"connected_at,omitempty"`
	DisconnectedAt  *time.Time          `json:"disconnected_at,omitempty"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
}

func newSessionResponse(s *models.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		Code:            s.Code,
		TechnicianID:    s.OwnerID,
		CustomerName:    s.CustomerName,
		CustomerContact: s.CustomerContact,
		Status:          s.State,
		UDPPort:         s.Port,
		CreatedAt:       s.CreatedAt,
		ConnectedAt:     s.ConnectedAt,
		DisconnectedAt:  s.DisconnectedAt,
		DurationSeconds: s.Duration().Seconds(),
	}
}

func (a *API) handleSessionsCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sessionCreateRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerContact = strings.TrimSpace(req.CustomerContact)
	if len(req.CustomerName) > maxCustomerFieldLn || len(req.CustomerContact) > maxCustomerFieldLn {
		writeError(w, http.StatusBadRequest, "customer_field_too_long")
		return
	}

	sess, err := a.sessions.Create(r.Context(), claims.UserID, session.Metadata{
		CustomerName:    req.CustomerName,
		CustomerContact: req.CustomerContact,
	})
	if err != nil {
		a.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newSessionResponse(sess))
}

func (a *API) handleSessionsClose(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	code := chi.URLParam(r, "code")
	existing, err := a.sessions.Lookup(r.Context(), code)
	if err != nil {
		a.writeSessionError(w, err)
		return
	}

	allowed := existing.OwnerID == claims.UserID || claims.IsAdmin()
	sess, err := a.sessions.Close(r.Context(), code, allowed)
	if err != nil {
		a.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter := session.ListFilter{Limit: maxListLimit}
	if claims.IsAdmin() {
		filter.OwnerID = r.URL.Query().Get("technician_id")
	} else {
		filter.OwnerID = claims.UserID
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		states, ok := parseStates(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.States = states
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		if n < maxListLimit {
			filter.Limit = n
		}
	}

	sessions, err := a.sessions.List(r.Context(), filter)
	if err != nil {
		a.writeSessionError(w, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, newSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.GetSessionInfo(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// parseStates accepts a comma separated list of states; "live" expands
// to pending and active.
func parseStates(raw string) ([]models.SessionState, bool) {
	var out []models.SessionState
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "live" {
			out = append(out, models.LiveStates()...)
			continue
		}
		state := models.SessionState(part)
		if !state.Valid() {
			return nil, false
		}
		out = append(out, state)
	}
	return out, len(out) > 0
}
