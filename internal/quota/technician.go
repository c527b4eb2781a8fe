/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package quota

import (
	"context"
	"errors"

	"github.com/friendsincode/relaydesk/internal/models"
	"gorm.io/gorm"
)

// TechnicianSource reads max_sessions and active from the technicians table.
type TechnicianSource struct {
	db *gorm.DB
}

// NewTechnicianSource creates a Source backed by db.
func NewTechnicianSource(db *gorm.DB) *TechnicianSource {
	return &TechnicianSource{db: db}
}

// Lookup implements Source. Unknown technicians yield ErrNoLimit. A row
// without max_sessions reports only its active flag.
func (s *TechnicianSource) Lookup(ctx context.Context, technicianID string) (Limit, error) {
	var tech models.Technician
	err := s.db.WithContext(ctx).
		Select("id", "max_sessions", "active").
		First(&tech, "id = ?", technicianID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Limit{}, ErrNoLimit
	}
	if err != nil {
		return Limit{}, err
	}
	limit := Limit{Active: tech.Active}
	if tech.MaxSessions != nil {
		limit.MaxSessions = *tech.MaxSessions
	}
	return limit, nil
}
