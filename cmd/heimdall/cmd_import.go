/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/migration"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import data from other digital signage systems",
	Long:  "Import screens, layouts, media, playlists, and schedules from Xibo, Screenly OSE, and other systems",
}

var importXiboCmd = &cobra.Command{
	Use:   "xibo",
	Short: "Import from a Xibo CMS database",
	Long:  "Import displays, layouts, media, and schedules from a Xibo CMS MySQL/MariaDB database",
	RunE:  runImportXibo,
}

var importScreenlyCmd = &cobra.Command{
	Use:   "screenly",
	Short: "Import from a Screenly OSE instance",
	Long:  "Import assets and their scheduling windows from a Screenly OSE SQLite database",
	RunE:  runImportScreenly,
}

// Xibo import flags
var (
	xiboDSN            string
	xiboMediaPath      string
	xiboSkipMedia      bool
	xiboSkipSchedules  bool
	xiboDryRun         bool
	xiboStrictDuration bool
)

// Screenly import flags
var (
	screenlyDBPath        string
	screenlyMediaPath     string
	screenlySkipMedia     bool
	screenlySkipSchedules bool
	screenlyDryRun        bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importXiboCmd)
	importCmd.AddCommand(importScreenlyCmd)

	// Xibo flags
	importXiboCmd.Flags().StringVar(&xiboDSN, "dsn", "", "Xibo database DSN, e.g. user:pass@tcp(host:3306)/xibo (required)")
	importXiboCmd.Flags().StringVar(&xiboMediaPath, "media-path", "", "Path to the Xibo library directory holding media files")
	importXiboCmd.Flags().BoolVar(&xiboSkipMedia, "skip-media", false, "Skip media file import")
	importXiboCmd.Flags().BoolVar(&xiboSkipSchedules, "skip-schedules", false, "Skip schedule import")
	importXiboCmd.Flags().BoolVar(&xiboDryRun, "dry-run", false, "Analyze the database without importing")
	importXiboCmd.Flags().BoolVar(&xiboStrictDuration, "strict-duration", false, "Fail the import when imported videos end up with no known duration")
	importXiboCmd.MarkFlagRequired("dsn")

	// Screenly flags
	importScreenlyCmd.Flags().StringVar(&screenlyDBPath, "db", "", "Path to the Screenly OSE SQLite database (required)")
	importScreenlyCmd.Flags().StringVar(&screenlyMediaPath, "media-path", "", "Path to the Screenly assets directory")
	importScreenlyCmd.Flags().BoolVar(&screenlySkipMedia, "skip-media", false, "Skip media file import")
	importScreenlyCmd.Flags().BoolVar(&screenlySkipSchedules, "skip-schedules", false, "Skip asset window import")
	importScreenlyCmd.Flags().BoolVar(&screenlyDryRun, "dry-run", false, "Analyze the database without importing")
	importScreenlyCmd.MarkFlagRequired("db")
}

func runImportXibo(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("media_path", xiboMediaPath).
		Bool("dry_run", xiboDryRun).
		Msg("starting Xibo import")

	// Initialize database
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	// Initialize media service
	mediaService, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media service: %w", err)
	}

	orphans := media.NewOrphanScanner(database, cfg.MediaRoot, logger)

	// Create event bus
	bus := events.NewBus()

	// Create migration service
	migrationSvc := migration.NewService(database, bus, logger)
	migrationSvc.RegisterImporter(migration.SourceTypeXibo, migration.NewXiboImporter(database, mediaService, orphans, logger))

	// Create job options
	options := migration.Options{
		XiboDSN:              xiboDSN,
		XiboMediaPath:        xiboMediaPath,
		SkipMedia:            xiboSkipMedia,
		SkipSchedules:        xiboSkipSchedules,
		DurationVerifyStrict: xiboStrictDuration,
	}

	ctx := context.Background()
	importer := migration.NewXiboImporter(database, mediaService, orphans, logger)

	// Dry run: just analyze
	if xiboDryRun {
		logger.Info().Msg("performing dry run analysis...")

		if err := importer.Validate(ctx, options); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		result, err := importer.Analyze(ctx, options)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		logger.Info().Msg("dry run analysis complete")
		printImportPreview(result)
		return nil
	}

	// Create and start import job
	job, err := migrationSvc.CreateJob(ctx, migration.SourceTypeXibo, options)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	logger.Info().Str("job_id", job.ID).Msg("import job created")

	// Run import directly (not via service) to show progress on the terminal
	result, err := importer.Import(ctx, options, terminalProgress)
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return fmt.Errorf("import failed: %w", err)
	}

	printImportResult(result)
	logger.Info().Msg("Xibo import completed successfully")
	return nil
}

func runImportScreenly(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("db", screenlyDBPath).
		Bool("dry_run", screenlyDryRun).
		Msg("starting Screenly import")

	// Initialize database
	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	// Initialize media service
	mediaService, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media service: %w", err)
	}

	// Create event bus
	bus := events.NewBus()

	// Create migration service
	migrationSvc := migration.NewService(database, bus, logger)
	migrationSvc.RegisterImporter(migration.SourceTypeScreenly, migration.NewScreenlyImporter(database, mediaService, logger))

	// Create job options
	options := migration.Options{
		ScreenlyDBPath:    screenlyDBPath,
		ScreenlyMediaPath: screenlyMediaPath,
		SkipMedia:         screenlySkipMedia,
		SkipSchedules:     screenlySkipSchedules,
	}

	ctx := context.Background()
	importer := migration.NewScreenlyImporter(database, mediaService, logger)

	// Dry run: just analyze
	if screenlyDryRun {
		logger.Info().Msg("performing dry run analysis...")

		if err := importer.Validate(ctx, options); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		result, err := importer.Analyze(ctx, options)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		logger.Info().Msg("dry run analysis complete")
		printImportPreview(result)
		return nil
	}

	// Create and start import job
	job, err := migrationSvc.CreateJob(ctx, migration.SourceTypeScreenly, options)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	logger.Info().Str("job_id", job.ID).Msg("import job created")

	// Run import directly (not via service) to show progress on the terminal
	result, err := importer.Import(ctx, options, terminalProgress)
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return fmt.Errorf("import failed: %w", err)
	}

	printImportResult(result)
	logger.Info().Msg("Screenly import completed successfully")
	return nil
}

// terminalProgress renders a single-line progress display during imports.
func terminalProgress(progress migration.Progress) {
	status := fmt.Sprintf("%s [%.0f%%] %s", progress.Phase, progress.Percentage, progress.CurrentStep)

	// Add detailed counts if available
	if progress.ContentImported > 0 {
		status += fmt.Sprintf(" (%d/%d content)", progress.ContentImported, progress.ContentTotal)
	} else if progress.LayoutsImported > 0 {
		status += fmt.Sprintf(" (%d/%d layouts)", progress.LayoutsImported, progress.LayoutsTotal)
	}

	fmt.Printf("\r%-100s", status)
	if progress.Phase == "completed" {
		fmt.Println()
	}
}

func printImportPreview(result *migration.Result) {
	fmt.Printf("\nImport Preview:\n")
	fmt.Printf("  Screens:   %d\n", result.ScreensCreated)
	fmt.Printf("  Layouts:   %d\n", result.LayoutsCreated)
	fmt.Printf("  Content:   %d\n", result.ContentItemsImported)
	fmt.Printf("  Playlists: %d\n", result.PlaylistsCreated)
	fmt.Printf("  Schedules: %d\n", result.SchedulesCreated)

	printWarningsAndSkipped(result)
	fmt.Printf("\nRun without --dry-run to perform the import.\n")
}

func printImportResult(result *migration.Result) {
	fmt.Printf("\n\nImport Complete!\n")
	fmt.Printf("  Screens:   %d created\n", result.ScreensCreated)
	fmt.Printf("  Layouts:   %d created\n", result.LayoutsCreated)
	fmt.Printf("  Content:   %d imported\n", result.ContentItemsImported)
	fmt.Printf("  Playlists: %d created\n", result.PlaylistsCreated)
	fmt.Printf("  Schedules: %d created\n", result.SchedulesCreated)
	fmt.Printf("  Duration:  %.1f seconds\n", result.DurationSeconds)

	printWarningsAndSkipped(result)

	if report := migration.BuildAnomalyReport(result); report != nil {
		fmt.Printf("\nAnomalies (%d total):\n", report.Total)
		for class, bucket := range report.ByClass {
			fmt.Printf("  - %s: %d\n", class, bucket.Count)
			for _, example := range bucket.Examples {
				fmt.Printf("      %s\n", example)
			}
		}
	}
}

func printWarningsAndSkipped(result *migration.Result) {
	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}

	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped:\n")
		for key, count := range result.Skipped {
			fmt.Printf("  - %s: %d\n", key, count)
		}
	}
}
