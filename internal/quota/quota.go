/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package quota resolves how many live sessions a technician may hold.
package quota

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoLimit is returned by a Source that has no opinion about a technician,
// letting the next source in a Chain answer.
var ErrNoLimit = errors.New("no quota configured")

// Limit is the admission policy for one technician. A zero MaxSessions
// means the source only knows the active flag.
type Limit struct {
	MaxSessions int  `json:"max_sessions"`
	Active      bool `json:"active"`
}

// Source looks up a technician's limit.
type Source interface {
	Lookup(ctx context.Context, technicianID string) (Limit, error)
}

// Chain asks each source in order and falls back to a fixed default.
type Chain struct {
	sources  []Source
	fallback int
}

// NewChain builds a resolver. fallback applies when no source has a limit.
func NewChain(fallback int, sources ...Source) *Chain {
	return &Chain{sources: sources, fallback: fallback}
}

// Lookup returns the first session limit any source reports. A disabled
// technician is reported as soon as a source says so.
func (c *Chain) Lookup(ctx context.Context, technicianID string) (Limit, error) {
	for _, src := range c.sources {
		limit, err := src.Lookup(ctx, technicianID)
		if errors.Is(err, ErrNoLimit) {
			continue
		}
		if err != nil {
			return Limit{}, fmt.Errorf("quota lookup: %w", err)
		}
		if !limit.Active || limit.MaxSessions > 0 {
			return limit, nil
		}
	}
	return Limit{MaxSessions: c.fallback, Active: true}, nil
}

// Fixed returns the same limit for everyone.
type Fixed int

// Lookup implements Source.
func (f Fixed) Lookup(context.Context, string) (Limit, error) {
	return Limit{MaxSessions: int(f), Active: true}, nil
}
