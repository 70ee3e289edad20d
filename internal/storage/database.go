package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"studybuddy/internal/config"
	"studybuddy/internal/logging"
	"studybuddy/internal/models"
)

// InitDB opens the database described by cfg.
func InitDB(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		dsnParts := []string{
			fmt.Sprintf("host=%s", cfg.Host),
			fmt.Sprintf("port=%d", cfg.Port),
			fmt.Sprintf("user=%s", cfg.User),
			fmt.Sprintf("dbname=%s", cfg.DBName),
		}
		if cfg.Password != "" {
			dsnParts = append(dsnParts, fmt.Sprintf("password=%s", cfg.Password))
		}
		dsnParts = append(dsnParts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
		dialector = postgres.Open(strings.Join(dsnParts, " "))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logging.NewGormLogger(logger, cfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connected", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))
	return db, nil
}

// AutoMigrateTables runs gorm's auto-migration for all models.
// Profiles are included even when they live in badger so the schema stays uniform.
func AutoMigrateTables(db *gorm.DB, logger *zap.Logger) error {
	err := db.AutoMigrate(
		&models.UserProfile{},
		&models.Conversation{},
		&models.Message{},
		&models.Task{},
		&models.Report{},
	)
	if err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logger.Info("database migration complete")
	return nil
}
