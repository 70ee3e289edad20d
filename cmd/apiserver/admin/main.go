package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studybuddy/internal/app"
	"studybuddy/internal/config"
	"studybuddy/internal/logging"
	"studybuddy/internal/services"
	"studybuddy/internal/storage"
)

// adminEnv holds what every subcommand needs. It is filled by the root
// command's PersistentPreRunE.
type adminEnv struct {
	cfg        config.Config
	logger     *zap.Logger
	profiles   storage.ProfileStore
	repair     services.RepairService
	moderation services.ModerationService
	reports    services.ReportService
	closers    []func()
}

var (
	configPath string
	env        = &adminEnv{}

	rootCmd = &cobra.Command{
		Use:           "admin",
		Short:         "Operator tools for studybuddy profiles, relationships and reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.open(cmd.Context(), configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			env.close()
		},
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config/config.yaml)")
	rootCmd.AddCommand(
		newPurgeUserCmd(),
		newRepairUserCmd(),
		newBanCmd(),
		newUnbanCmd(),
		newSetAdminCmd(),
		newReportsCmd(),
		newIssueTokenCmd(),
	)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("admin: %v", err)
		env.close()
		os.Exit(1)
	}
}

func (e *adminEnv) open(ctx context.Context, path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = logger.With(zap.String("service", "admin"))
	e.closers = append(e.closers, func() { _ = logger.Sync() })

	db, err := storage.InitDB(cfg.Database, e.logger)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	profiles, closeProfiles, err := app.OpenProfileStore(cfg.ProfileStore, db, e.logger)
	if err != nil {
		return fmt.Errorf("open profile store: %w", err)
	}
	e.closers = append(e.closers, closeProfiles)
	e.profiles = profiles

	publisher, closePublisher := app.NewPublisher(cfg.Kafka, e.logger)
	e.closers = append(e.closers, closePublisher)

	e.repair = services.NewRepairService(profiles, cfg.Repair, e.logger)
	e.moderation = services.NewModerationService(profiles, e.repair, publisher, e.logger)
	e.reports = services.NewReportService(storage.NewGormReportRepository(db), profiles, e.logger)
	return nil
}

func (e *adminEnv) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
