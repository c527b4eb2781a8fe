/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/relaydesk/internal/models"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// GormStore persists sessions through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. The sessions table must already be migrated.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CountLiveSessionsForOwner counts pending and active sessions.
func (s *GormStore) CountLiveSessionsForOwner(ctx context.Context, owner string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("owner_id = ? AND state IN ?", owner, models.LiveStates()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count live sessions: %w", err)
	}
	return int(count), nil
}

// CodeExists reports whether code is in use.
func (s *GormStore) CodeExists(ctx context.Context, code string, liveOnly bool) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.Session{}).Where("code = ?", code)
	if liveOnly {
		q = q.Where("state IN ?", models.LiveStates())
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check session code: %w", err)
	}
	return count > 0, nil
}

// Insert persists a new session.
func (s *GormStore) Insert(ctx context.Context, sess *models.Session) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Session{}).
			Where("code = ? AND state IN ?", sess.Code, models.LiveStates()).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrCodeConflict
		}
		return tx.Create(sess).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCodeConflict), isUniqueViolation(err):
		return ErrCodeConflict
	default:
		return fmt.Errorf("insert session: %w", err)
	}
}

// FindByCode returns the live session for code, else the newest terminal one.
func (s *GormStore) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("code = ? AND state IN ?", code, models.LiveStates()).
		First(&sess).Error
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find session: %w", err)
	}

	err = s.db.WithContext(ctx).
		Where("code = ?", code).
		Order("created_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &sess, nil
}

// UpdateState performs a compare-and-set transition on the live row for code.
func (s *GormStore) UpdateState(ctx context.Context, code string, from []models.SessionState, to models.SessionState, at time.Time) (*models.Session, error) {
	var updated models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("code = ? AND state IN ?", code, from).First(&updated).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var count int64
			if err := tx.Model(&models.Session{}).Where("code = ?", code).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrStateConflict
		}
		if err != nil {
			return err
		}

		applyTransition(&updated, to, at)

		values := map[string]any{
			"state":      updated.State,
			"updated_at": updated.UpdatedAt,
		}
		if to == models.SessionActive {
			values["connected_at"] = updated.ConnectedAt
		}
		if to.IsTerminal() {
			values["disconnected_at"] = updated.DisconnectedAt
			values["port"] = 0
		}

		res := tx.Model(&models.Session{}).
			Where("id = ? AND state IN ?", updated.ID, from).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return nil
	})
	switch {
	case err == nil:
		return &updated, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStateConflict):
		return nil, err
	default:
		return nil, fmt.Errorf("update session state: %w", err)
	}
}

// List returns sessions matching filter, newest first.
func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]models.Session, error) {
	q := s.db.WithContext(ctx).Model(&models.Session{})
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if len(filter.States) > 0 {
		q = q.Where("state IN ?", filter.States)
	}
	if !filter.DisconnectedBefore.IsZero() {
		q = q.Where("disconnected_at IS NOT NULL AND disconnected_at < ?", filter.DisconnectedBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var sessions []models.Session
	if err := q.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteTerminal removes terminal sessions by id.
func (s *GormStore) DeleteTerminal(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("id IN ? AND state IN ?", ids, terminalStates()).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// isUniqueViolation recognises duplicate-key errors from each supported driver.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	return false
}
