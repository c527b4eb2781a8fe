/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/auth"
	"github.com/friendsincode/relaydesk/internal/db"
	"github.com/friendsincode/relaydesk/internal/models"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <technician-id|email>",
	Short: "Issue an API token for a technician",
	Long: `Issue a signed bearer token for an existing, active technician.

The token carries the technician's id and role and is accepted by every
authenticated API endpoint until it expires.

Examples:
  relaydesk token alice@example.com
  relaydesk token 1f0c... --ttl 24h
`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if tokenTTL <= 0 {
		return errors.New("--ttl must be positive")
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	tech, err := findTechnician(database, args[0])
	if err != nil {
		return err
	}
	if !tech.Active {
		return fmt.Errorf("technician %s is disabled", tech.Email)
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{UserID: tech.ID, Role: tech.Role}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// findTechnician resolves an id or email to a technician row.
func findTechnician(database *gorm.DB, ref string) (*models.Technician, error) {
	var tech models.Technician
	err := database.Where("id = ? OR email = ?", ref, ref).First(&tech).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("technician %q not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load technician: %w", err)
	}
	return &tech, nil
}
