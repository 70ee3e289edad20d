// Package app wires the stores and clients shared by the binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"studybuddy/internal/apptypes"
	"studybuddy/internal/config"
	appKafka "studybuddy/internal/kafka"
	"studybuddy/internal/services"
	"studybuddy/internal/storage"
)

// BlobRoute is the public path prefix served by the local blob store.
const BlobRoute = "/blobs"

// InitSentry enables error reporting when a DSN is configured. The returned
// func flushes buffered events and is safe to call when Sentry is disabled.
func InitSentry(cfg config.Config, logger *zap.Logger) func() {
	if cfg.Sentry.DSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.AppName + "@" + cfg.AppVersion,
	})
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}

// OpenProfileStore returns the configured profile backend and its close func.
func OpenProfileStore(cfg config.ProfileStoreConfig, db *gorm.DB, logger *zap.Logger) (storage.ProfileStore, func(), error) {
	switch strings.ToLower(cfg.Type) {
	case "", "postgres":
		if db == nil {
			return nil, nil, fmt.Errorf("postgres profile store needs a database connection")
		}
		return storage.NewGormProfileStore(db), func() {}, nil
	case "badger":
		store, err := storage.OpenBadgerProfileStore(storage.BadgerOptions{
			Path:   cfg.BadgerPath,
			Logger: logger.Named("badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close badger profile store", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported profile store type %q", cfg.Type)
	}
}

// BlobStores is the configured blob backend. Local is set only for local
// storage, whose downloads the API server serves itself.
type BlobStores struct {
	Store apptypes.BlobStore
	Local *storage.LocalBlobStore
	Close func()
}

// OpenBlobStore returns the configured blob backend.
func OpenBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BlobStores, error) {
	switch strings.ToLower(cfg.Storage.Type) {
	case "", "local":
		baseURL := strings.TrimSuffix(cfg.APIServer.PublicBaseURL, "/") + BlobRoute
		local, err := storage.NewLocalBlobStore(cfg.Storage, baseURL, cfg.Auth.JWTSecretKey)
		if err != nil {
			return nil, err
		}
		return &BlobStores{Store: local, Local: local, Close: func() {}}, nil
	case "gcs":
		gcs, err := storage.NewGCSBlobStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return &BlobStores{Store: gcs, Close: func() {
			if err := gcs.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

// NewPublisher returns a Kafka publisher for the realtime topic. When the
// producer cannot be created the app keeps working without realtime events.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) (services.EventPublisher, func()) {
	producer, err := appKafka.NewConfluentKafkaProducer(cfg, logger)
	if err != nil {
		logger.Warn("kafka producer unavailable, realtime events disabled", zap.Error(err))
		return services.NoopPublisher(), func() {}
	}
	return services.NewKafkaEventPublisher(producer, cfg.RealtimeTopic), producer.Close
}
