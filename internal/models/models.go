/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// RoleName enumerates the technician roles.
type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleTech  RoleName = "tech"
)

// Quota bounds accepted for a technician's concurrent session limit.
const (
	MinSessionQuota     = 1
	MaxSessionQuota     = 50
	DefaultSessionQuota = 10
)

// Technician is a support account allowed to open sessions.
// Credentials live with the external auth provider; only the
// admission-relevant fields are stored here. A nil MaxSessions defers to
// the configured overrides and default.
type Technician struct {
	ID          string   `gorm:"type:varchar(36);primaryKey"`
	Email       string   `gorm:"type:varchar(255);uniqueIndex"`
	FullName    string   `gorm:"type:varchar(255)"`
	Role        RoleName `gorm:"type:varchar(16)"`
	MaxSessions *int
	Active      bool `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides for GORM.
func (Technician) TableName() string {
	return "technicians"
}

// IsAdmin reports whether the technician holds the admin role.
func (t *Technician) IsAdmin() bool {
	return t != nil && t.Role == RoleAdmin
}

// NormalizeRole maps free-form role input onto a known role, defaulting to tech.
func NormalizeRole(role string) RoleName {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RoleAdmin), "administrator":
		return RoleAdmin
	default:
		return RoleTech
	}
}

// QuotaPtr returns a pointer suitable for Technician.MaxSessions.
func QuotaPtr(n int) *int {
	return &n
}

// ValidQuota reports whether n is an acceptable per-technician session limit.
func ValidQuota(n int) bool {
	return n >= MinSessionQuota && n <= MaxSessionQuota
}
