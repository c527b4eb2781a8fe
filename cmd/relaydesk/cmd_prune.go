/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/retention"
	"github.com/friendsincode/relaydesk/internal/server"
	"github.com/friendsincode/relaydesk/internal/session"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Archive and delete ended sessions",
	Long: `Archive closed and disconnected sessions older than the retention window
to the configured archive target (S3 bucket or archive directory), then
delete them from the database. Live sessions are never touched.

Examples:
  # Use RELAYDESK_RETENTION_DAYS
  relaydesk prune

  # Override the window
  relaydesk prune --older-than 720h
`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Retention window (default RELAYDESK_RETENTION_DAYS)")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	window := pruneOlderThan
	if window == 0 {
		window = cfg.Retention()
	}
	if window <= 0 {
		return errors.New("no retention window: set RELAYDESK_RETENTION_DAYS or --older-than")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	objects, err := server.NewArchiveTarget(ctx, cfg)
	if err != nil {
		return err
	}

	return withDatabase(func(database *gorm.DB) error {
		archiver := retention.NewArchiver(session.NewGormStore(database), objects, window, logger)
		n, err := archiver.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived and deleted %d sessions\n", n)
		return nil
	})
}
