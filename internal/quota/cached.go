/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package quota

import (
	"context"

	"github.com/friendsincode/relaydesk/internal/cache"
	"github.com/rs/zerolog"
)

// Cached memoises another Source in Redis.
type Cached struct {
	next   Source
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCached wraps next. A nil or disabled cache passes every lookup through.
func NewCached(next Source, c *cache.Cache, logger zerolog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  c,
		logger: logger.With().Str("component", "quota").Logger(),
	}
}

// Lookup implements Source.
func (c *Cached) Lookup(ctx context.Context, technicianID string) (Limit, error) {
	if c.cache != nil {
		if q, ok := c.cache.GetQuota(ctx, technicianID); ok {
			return Limit{MaxSessions: q.MaxSessions, Active: q.Active}, nil
		}
	}

	limit, err := c.next.Lookup(ctx, technicianID)
	if err != nil {
		return Limit{}, err
	}

	if c.cache != nil {
		if err := c.cache.SetQuota(ctx, &cache.CachedQuota{
			TechnicianID: technicianID,
			MaxSessions:  limit.MaxSessions,
			Active:       limit.Active,
		}); err != nil {
			c.logger.Debug().Err(err).Str("owner", technicianID).Msg("cache quota failed")
		}
	}
	return limit, nil
}

// Invalidate drops a technician's cached limit.
func (c *Cached) Invalidate(ctx context.Context, technicianID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateQuota(ctx, technicianID); err != nil {
		c.logger.Warn().Err(err).Str("owner", technicianID).Msg("invalidate quota cache failed")
	}
}
