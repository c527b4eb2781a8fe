/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/auth"
	"github.com/friendsincode/relaydesk/internal/events"
	"github.com/friendsincode/relaydesk/internal/models"
)

type technicianResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	FullName    string          `json:"full_name"`
	Role        models.RoleName `json:"role"`
	MaxSessions *int            `json:"max_sessions"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func newTechnicianResponse(t *models.Technician) technicianResponse {
	return technicianResponse{
		ID:          t.ID,
		Email:       t.Email,
		FullName:    t.FullName,
		Role:        t.Role,
		MaxSessions: t.MaxSessions,
		Active:      t.Active,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (a *API) handleTechniciansList(w http.ResponseWriter, r *http.Request) {
	var technicians []models.Technician
	if err := a.db.WithContext(r.Context()).Order("created_at ASC").Find(&technicians).Error; err != nil {
		a.logger.Error().Err(err).Msg("list technicians failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]technicianResponse, 0, len(technicians))
	for i := range technicians {
		out = append(out, newTechnicianResponse(&technicians[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleTechniciansCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		FullName    string `json:"full_name"`
		Role        string `json:"role"`
		MaxSessions *int   `json:"max_sessions"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "email_required")
		return
	}

	// Without an explicit quota the configured overrides and default apply.
	if req.MaxSessions != nil && !models.ValidQuota(*req.MaxSessions) {
		writeError(w, http.StatusBadRequest, "invalid_max_sessions")
		return
	}

	tech := models.Technician{
		ID:          uuid.NewString(),
		Email:       req.Email,
		FullName:    strings.TrimSpace(req.FullName),
		Role:        models.NormalizeRole(req.Role),
		MaxSessions: req.MaxSessions,
		Active:      true,
	}
	if err := a.db.WithContext(r.Context()).Create(&tech).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		a.logger.Error().Err(err).Msg("create technician failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("technician_id", tech.ID).Str("role", string(tech.Role)).Msg("technician created")
	writeJSON(w, http.StatusCreated, newTechnicianResponse(&tech))
}

func (a *API) handleTechniciansUpdate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")

	var req struct {
		FullName    *string `json:"full_name"`
		Role        *string `json:"role"`
		MaxSessions *int    `json:"max_sessions"`
		Active      *bool   `json:"active"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	updates := map[string]any{}
	if req.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*req.FullName)
	}
	if req.Role != nil {
		if id == claims.UserID && models.NormalizeRole(*req.Role) != models.RoleAdmin {
			writeError(w, http.StatusBadRequest, "cannot_demote_self")
			return
		}
		updates["role"] = models.NormalizeRole(*req.Role)
	}
	if req.MaxSessions != nil {
		if !models.ValidQuota(*req.MaxSessions) {
			writeError(w, http.StatusBadRequest, "invalid_max_sessions")
			return
		}
		updates["max_sessions"] = *req.MaxSessions
	}
	if req.Active != nil {
		if id == claims.UserID && !*req.Active {
			writeError(w, http.StatusBadRequest, "cannot_disable_self")
			return
		}
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "no_changes")
		return
	}

	db := a.db.WithContext(r.Context())
	var tech models.Technician
	if err := db.First(&tech, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "technician_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("load technician failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := db.Model(&tech).Updates(updates).Error; err != nil {
		a.logger.Error().Err(err).Str("technician_id", id).Msg("update technician failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Quota caches drop the entry on this event.
	if a.bus != nil {
		a.bus.Publish(events.EventTechnicianUpdated, events.Payload{"technician_id": id})
	}

	if err := db.First(&tech, "id = ?", id).Error; err != nil {
		a.logger.Error().Err(err).Str("technician_id", id).Msg("reload technician failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("technician_id", id).Interface("changes", updates).Msg("technician updated")
	writeJSON(w, http.StatusOK, newTechnicianResponse(&tech))
}
