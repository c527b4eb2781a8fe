/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/db"
	"github.com/friendsincode/relaydesk/internal/models"
)

var (
	techName        string
	techRole        string
	techMaxSessions int
)

var technicianCmd = &cobra.Command{
	Use:     "technician",
	Aliases: []string{"tech"},
	Short:   "Manage technician accounts",
}

var technicianAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Create a technician",
	Args:  cobra.ExactArgs(1),
	RunE:  runTechnicianAdd,
}

var technicianListCmd = &cobra.Command{
	Use:   "list",
	Short: "List technicians",
	Args:  cobra.NoArgs,
	RunE:  runTechnicianList,
}

var technicianSetQuotaCmd = &cobra.Command{
	Use:   "set-quota <technician-id|email> <max-sessions|default>",
	Short: "Change how many live sessions a technician may hold",
	Long:  "Change how many live sessions a technician may hold. \"default\" clears the stored limit so the quota file and configured default apply.",
	Args:  cobra.ExactArgs(2),
	RunE:  runTechnicianSetQuota,
}

var technicianDisableCmd = &cobra.Command{
	Use:   "disable <technician-id|email>",
	Short: "Stop a technician from opening new sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTechnicianActive(cmd, args[0], false)
	},
}

var technicianEnableCmd = &cobra.Command{
	Use:   "enable <technician-id|email>",
	Short: "Allow a disabled technician to open sessions again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTechnicianActive(cmd, args[0], true)
	},
}

func init() {
	technicianAddCmd.Flags().StringVar(&techName, "name", "", "Full name")
	technicianAddCmd.Flags().StringVar(&techRole, "role", string(models.RoleTech), "Role (admin or tech)")
	technicianAddCmd.Flags().IntVar(&techMaxSessions, "max-sessions", 0, "Concurrent live session limit (0 uses the configured default)")

	technicianCmd.AddCommand(technicianAddCmd, technicianListCmd, technicianSetQuotaCmd, technicianDisableCmd, technicianEnableCmd)
	rootCmd.AddCommand(technicianCmd)
}

// withDatabase runs fn against the configured database. loadConfig must
// have been called.
func withDatabase(fn func(*gorm.DB) error) error {
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)
	return fn(database)
}

func runTechnicianAdd(cmd *cobra.Command, args []string) error {
	email := strings.ToLower(strings.TrimSpace(args[0]))
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", args[0])
	}
	var maxSessions *int
	if techMaxSessions != 0 {
		if !models.ValidQuota(techMaxSessions) {
			return fmt.Errorf("max sessions must be between %d and %d", models.MinSessionQuota, models.MaxSessionQuota)
		}
		maxSessions = models.QuotaPtr(techMaxSessions)
	}

	if err := loadConfig(); err != nil {
		return err
	}
	return withDatabase(func(database *gorm.DB) error {
		tech := models.Technician{
			ID:          uuid.NewString(),
			Email:       email,
			FullName:    strings.TrimSpace(techName),
			Role:        models.NormalizeRole(techRole),
			MaxSessions: maxSessions,
			Active:      true,
		}
		if err := database.Create(&tech).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("a technician with email %s already exists", email)
			}
			return fmt.Errorf("create technician: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s, max sessions %s)\n", tech.ID, tech.Email, tech.Role, formatQuota(tech.MaxSessions))
		return nil
	})
}

func runTechnicianList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	return withDatabase(func(database *gorm.DB) error {
		var technicians []models.Technician
		if err := database.Order("email ASC").Find(&technicians).Error; err != nil {
			return fmt.Errorf("list technicians: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tMAX\tACTIVE")
		for _, t := range technicians {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", t.ID, t.Email, t.FullName, t.Role, formatQuota(t.MaxSessions), t.Active)
		}
		return w.Flush()
	})
}

func runTechnicianSetQuota(cmd *cobra.Command, args []string) error {
	var quota *int
	if !strings.EqualFold(args[1], "default") {
		n, err := strconv.Atoi(args[1])
		if err != nil || !models.ValidQuota(n) {
			return fmt.Errorf("max sessions must be \"default\" or a number between %d and %d", models.MinSessionQuota, models.MaxSessionQuota)
		}
		quota = models.QuotaPtr(n)
	}

	if err := loadConfig(); err != nil {
		return err
	}
	return withDatabase(func(database *gorm.DB) error {
		tech, err := findTechnician(database, args[0])
		if err != nil {
			return err
		}
		if err := database.Model(tech).Update("max_sessions", quota).Error; err != nil {
			return fmt.Errorf("update technician: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s max sessions: %s\n", tech.Email, formatQuota(quota))
		return nil
	})
}

func formatQuota(n *int) string {
	if n == nil {
		return "default"
	}
	return strconv.Itoa(*n)
}

// setTechnicianActive flips the active flag. A running server with a
// quota cache picks the change up when the cached entry expires.
func setTechnicianActive(cmd *cobra.Command, ref string, active bool) error {
	if err := loadConfig(); err != nil {
		return err
	}
	return withDatabase(func(database *gorm.DB) error {
		tech, err := findTechnician(database, ref)
		if err != nil {
			return err
		}
		if err := database.Model(tech).Update("active", active).Error; err != nil {
			return fmt.Errorf("update technician: %w", err)
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tech.Email, state)
		return nil
	})
}
