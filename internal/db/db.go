/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/relaydesk/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memoryDSN is a shared-cache in-memory SQLite database so every pooled
// connection sees the same tables.
const memoryDSN = "file:relaydesk?mode=memory&cache=shared"

// Connect establishes a gorm DB connection for the configured backend.
// The memory backend opens an in-process SQLite database for technician
// records; session records live in session.MemoryStore.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	sqliteBacked := false

	switch cfg.DBBackend {
	case config.DatabasePostgres:
		dialector = postgres.Open(cfg.DBDSN)
	case config.DatabaseMySQL:
		dialector = mysql.Open(withParseTime(cfg.DBDSN))
	case config.DatabaseSQLite:
		dialector = sqlite.Open(cfg.DBDSN)
		sqliteBacked = true
	case config.DatabaseMemory:
		dialector = sqlite.Open(memoryDSN)
		sqliteBacked = true
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}

	return Open(dialector, sqliteBacked)
}

// Open wraps gorm.Open with the pool settings and telemetry callbacks
// every backend shares.
func Open(dialector gorm.Dialector, sqliteBacked bool) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if sqliteBacked {
		// SQLite allows a single writer; one connection keeps the
		// state compare-and-set updates from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := RegisterCallbacks(db); err != nil {
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}

	return db, nil
}

// Close releases database resources.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withParseTime makes the MySQL driver scan DATETIME columns into time.Time.
func withParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
