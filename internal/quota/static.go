/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package quota

import (
	"context"
	"fmt"
	"os"

	"github.com/friendsincode/relaydesk/internal/models"
	"gopkg.in/yaml.v3"
)

// Static holds per-technician overrides loaded from a YAML file:
//
//	technicians:
//	  3f1c...: 4
//	  9ab2...: 20
type Static struct {
	Technicians map[string]int `yaml:"technicians"`
}

// LoadFile parses and validates an overrides file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quota file: %w", err)
	}
	return Parse(data)
}

// Parse decodes overrides from YAML.
func Parse(data []byte) (*Static, error) {
	var s Static
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse quota file: %w", err)
	}
	for id, n := range s.Technicians {
		if !models.ValidQuota(n) {
			return nil, fmt.Errorf("quota for %s must be between %d and %d, got %d",
				id, models.MinSessionQuota, models.MaxSessionQuota, n)
		}
	}
	return &s, nil
}

// Lookup implements Source.
func (s *Static) Lookup(_ context.Context, technicianID string) (Limit, error) {
	if s == nil {
		return Limit{}, ErrNoLimit
	}
	n, ok := s.Technicians[technicianID]
	if !ok {
		return Limit{}, ErrNoLimit
	}
	return Limit{MaxSessions: n, Active: true}, nil
}
