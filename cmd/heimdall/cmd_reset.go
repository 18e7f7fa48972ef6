/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/friendsincode/heimdall_signage/internal/db"
	"github.com/friendsincode/heimdall_signage/internal/migration"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

var (
	resetForce       bool
	resetDeleteMedia bool
	resetKeepUsers   int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database and optionally delete all media",
	Long: `Reset Heimdall Signage to a fresh state.

This command will:
- Drop all tables from the database (except optionally preserved users)
- Re-create empty tables
- Optionally delete all uploaded media files

WARNING: This action is irreversible! All data will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  heimdall reset

  # Force reset without confirmation
  heimdall reset --force

  # Reset and delete all media files
  heimdall reset --force --delete-media

  # Reset but keep up to 3 admin users
  heimdall reset --force --keep-users=3
`,
	RunE: runReset,
}

var (
	resetAdminEmail    string
	resetAdminPassword string
)

var resetAdminCmd = &cobra.Command{
	Use:   "reset-admin",
	Short: "Reset an administrator account password",
	Long: `Reset the password of an administrator account, or create the account
if no user with the given email exists.

When --password is omitted a random password is generated and printed once.

Examples:
  heimdall reset-admin --email admin@example.com
  heimdall reset-admin --email admin@example.com --password s3cret
`,
	RunE: runResetAdmin,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDeleteMedia, "delete-media", false, "Also delete all uploaded media files")
	resetCmd.Flags().IntVar(&resetKeepUsers, "keep-users", 0, "Number of admin users to preserve (0 = delete all)")
	rootCmd.AddCommand(resetCmd)

	resetAdminCmd.Flags().StringVar(&resetAdminEmail, "email", "", "Email of the admin account (required)")
	resetAdminCmd.Flags().StringVar(&resetAdminPassword, "password", "", "New password (generated when omitted)")
	resetAdminCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(resetAdminCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Confirmation prompt
	if !resetForce {
		fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
		fmt.Println("║                        WARNING                               ║")
		fmt.Println("╠══════════════════════════════════════════════════════════════╣")
		fmt.Println("║  This will DELETE ALL DATA from Heimdall Signage:            ║")
		fmt.Println("║                                                              ║")
		if resetKeepUsers > 0 {
			fmt.Printf("║  • All users EXCEPT the first %d admin user(s)               ║\n", resetKeepUsers)
		} else {
			fmt.Println("║  • All users and accounts                                    ║")
		}
		fmt.Println("║  • All screens, layouts, and regions                         ║")
		fmt.Println("║  • All content, playlists, and assignments                   ║")
		fmt.Println("║  • All schedules and proof-of-play history                   ║")
		if resetDeleteMedia {
			fmt.Println("║  • ALL UPLOADED MEDIA FILES                                  ║")
		}
		fmt.Println("║                                                              ║")
		fmt.Println("║  This action CANNOT be undone!                               ║")
		fmt.Println("╚══════════════════════════════════════════════════════════════╝")
		fmt.Println()

		fmt.Print("Type 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	logger.Info().
		Bool("delete_media", resetDeleteMedia).
		Int("keep_users", resetKeepUsers).
		Msg("Starting database reset")

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	// Get the underlying SQL DB to close it later
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	defer sqlDB.Close()

	// If keeping users, preserve them first
	var preservedUsers []models.User
	if resetKeepUsers > 0 {
		logger.Info().Int("count", resetKeepUsers).Msg("Preserving admin users")

		// Get admins first, then any other users if needed
		database.Where("role = ?", models.RoleAdmin).
			Order("created_at ASC").
			Limit(resetKeepUsers).
			Find(&preservedUsers)

		// If we don't have enough admins, get other users
		if len(preservedUsers) < resetKeepUsers {
			remaining := resetKeepUsers - len(preservedUsers)
			var ids []string
			for _, u := range preservedUsers {
				ids = append(ids, u.ID)
			}

			var moreUsers []models.User
			query := database.Order("created_at ASC").Limit(remaining)
			if len(ids) > 0 {
				query = query.Where("id NOT IN ?", ids)
			}
			query.Find(&moreUsers)
			preservedUsers = append(preservedUsers, moreUsers...)
		}

		for _, u := range preservedUsers {
			logger.Info().
				Str("user_id", u.ID).
				Str("email", u.Email).
				Str("role", string(u.Role)).
				Msg("Preserving user")
		}
	}

	// Drop all tables in reverse order of dependencies
	tables := []interface{}{
		// Import jobs first
		&migration.Job{},

		// Playback history and rollups
		&models.PlayLog{},
		&models.PlayLogDaily{},
		&models.UptimeSample{},
		&models.PlayerState{},

		// Alert delivery (logs reference targets)
		&models.WebhookLog{},
		&models.WebhookTarget{},

		// Scheduling
		&models.ScheduleEntry{},

		// Playlist structure (entries depend on assignments, assignments on playlists)
		&models.AssignmentEntry{},
		&models.Assignment{},
		&models.Playlist{},

		// Content and supporting queues
		&models.ProbeJob{},
		&models.OrphanMedia{},
		&models.ContentItem{},

		// Layout structure
		&models.Region{},
		&models.Layout{},
		&models.Screen{},

		// Accounts last
		&models.AuditLog{},
		&models.APIKey{},
		&models.User{},
	}

	logger.Info().Msg("Dropping all tables")
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			// Log but continue - table might not exist
			logger.Debug().Err(err).Msgf("drop table (may not exist)")
		}
	}

	// Delete media files if requested
	if resetDeleteMedia && cfg.MediaRoot != "" {
		logger.Info().Str("path", cfg.MediaRoot).Msg("Deleting media files...")

		// Walk through and delete all files in media root
		err := filepath.Walk(cfg.MediaRoot, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			// Don't delete the root directory itself
			if path == cfg.MediaRoot {
				return nil
			}
			// Delete files and empty directories
			if !info.IsDir() {
				if err := os.Remove(path); err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("failed to delete file")
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn().Err(err).Msg("error walking media directory")
		}

		// Clean up empty directories
		cleanEmptyDirs(cfg.MediaRoot)
		logger.Info().Msg("Media files deleted")
	}

	// Re-create tables
	logger.Info().Msg("Creating fresh database schema")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Restore preserved users
	if len(preservedUsers) > 0 {
		logger.Info().Int("count", len(preservedUsers)).Msg("Restoring preserved users")
		for _, u := range preservedUsers {
			// Keep original CreatedAt, set UpdatedAt to match
			u.UpdatedAt = u.CreatedAt

			if err := database.Create(&u).Error; err != nil {
				logger.Error().Err(err).Str("email", u.Email).Msg("failed to restore user")
			} else {
				logger.Info().
					Str("user_id", u.ID).
					Str("email", u.Email).
					Msg("User restored")
			}
		}
	}

	logger.Info().Msg("Reset complete")
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Reset Complete!                           ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Heimdall Signage has been reset to a fresh state.           ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Next steps:                                                 ║")
	fmt.Println("║  1. Start the server: heimdall serve                         ║")
	fmt.Println("║  2. Visit the web UI to run the setup wizard                 ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	return nil
}

func runResetAdmin(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	password := resetAdminPassword
	generated := false
	if password == "" {
		password, err = generatePassword()
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		generated = true
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(resetAdminEmail))

	var user models.User
	result := database.Where("email = ?", email).First(&user)
	if result.Error == nil {
		updates := map[string]interface{}{
			"password": string(hashed),
			"role":     models.RoleAdmin,
		}
		if err := database.Model(&user).Updates(updates).Error; err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		logger.Info().Str("user_id", user.ID).Str("email", email).Msg("admin password reset")
	} else {
		user = models.User{
			ID:        uuid.NewString(),
			Email:     email,
			Password:  string(hashed),
			Role:      models.RoleAdmin,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := database.Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		logger.Info().Str("user_id", user.ID).Str("email", email).Msg("admin account created")
	}

	fmt.Println()
	fmt.Printf("Admin account ready: %s\n", email)
	if generated {
		fmt.Printf("Generated password:  %s\n", password)
		fmt.Println("Store it now; it will not be shown again.")
	}
	fmt.Println()
	return nil
}

// generatePassword returns a random URL-safe password.
func generatePassword() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// cleanEmptyDirs removes empty directories recursively
func cleanEmptyDirs(root string) {
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == root {
			return nil
		}

		// Check if directory is empty
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil
		}

		if len(entries) == 0 {
			os.Remove(path)
		}
		return nil
	})
}
