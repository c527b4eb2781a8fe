/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/relaydesk/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Technician{},
		&models.Session{},
	); err != nil {
		return err
	}

	if err := applyLiveCodeUniqueIndex(database); err != nil {
		return err
	}
	if err := normalizeTechnicianRoles(database); err != nil {
		return err
	}

	return nil
}

// applyLiveCodeUniqueIndex makes codes unique among pending and active
// sessions while letting terminal rows keep historical codes. MySQL has no
// partial indexes; there the session store's existence check is the guard.
func applyLiveCodeUniqueIndex(database *gorm.DB) error {
	switch database.Dialector.Name() {
	case "postgres", "sqlite":
	default:
		return nil
	}

	stmt := `CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_live_code
ON sessions (code)
WHERE state IN ('pending', 'active')`

	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply live session code index: %w", err)
	}
	return nil
}

func normalizeTechnicianRoles(database *gorm.DB) error {
	if err := database.Exec("UPDATE technicians SET role = ? WHERE LOWER(TRIM(role)) IN ?", models.RoleAdmin, []string{"admin", "administrator", "superadmin"}).Error; err != nil {
		return fmt.Errorf("normalize legacy admin role: %w", err)
	}
	if err := database.Exec("UPDATE technicians SET role = ? WHERE role NOT IN ?", models.RoleTech, []string{string(models.RoleAdmin), string(models.RoleTech)}).Error; err != nil {
		return fmt.Errorf("normalize legacy technician role: %w", err)
	}
	return nil
}
