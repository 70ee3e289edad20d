package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studybuddy/internal/app"
	"studybuddy/internal/config"
	"studybuddy/internal/handlers/chatserver"
	appKafka "studybuddy/internal/kafka"
	kafkahandlers "studybuddy/internal/kafka/handlers"
	"studybuddy/internal/logging"
	appRedis "studybuddy/internal/redis"
	"studybuddy/internal/services"
	"studybuddy/internal/storage"
	"studybuddy/internal/websocket"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("service", "chatserver"))

	flushSentry := app.InitSentry(cfg, logger)
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("init database", zap.Error(err))
	}
	profileStore, closeProfiles, err := app.OpenProfileStore(cfg.ProfileStore, db, logger)
	if err != nil {
		logger.Fatal("open profile store", zap.Error(err))
	}
	defer closeProfiles()
	blobs, err := app.OpenBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}
	defer blobs.Close()

	redisClient, err := appRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()
	tokenBlacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	publisher, closePublisher := app.NewPublisher(cfg.Kafka, logger)
	defer closePublisher()

	convoRepo := storage.NewGormConversationRepository(db)
	msgRepo := storage.NewGormMessageRepository(db)
	conversationService := services.NewConversationService(convoRepo, profileStore, blobs.Store, logger)
	messageService := services.NewMessageService(msgRepo, convoRepo, conversationService, publisher, logger)

	hub := websocket.NewHub(logger)
	wsHandler := chatserver.NewWebSocketHandler(ctx, hub, messageService, tokenBlacklist, cfg, logger)
	realtime := kafkahandlers.NewRealtimeEventHandler(hub, logger)

	consumer := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, logger)
	defer consumer.Close()

	// Each instance holds its own sockets, so every instance reads the whole topic.
	groupID := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, instanceID())

	r := mux.NewRouter()
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handlers.CombinedLoggingHandler(zap.NewStdLog(logger.Named("access")).Writer(), r),
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("consuming realtime events",
			zap.String("topic", cfg.Kafka.RealtimeTopic), zap.String("group", groupID))
		err := consumer.Consume(gctx, []string{cfg.Kafka.RealtimeTopic}, groupID, realtime.HandleMessage)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("realtime consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("chat server listening",
			zap.String("addr", serverAddr), zap.String("path", cfg.Server.WebSocketPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("chat server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down chat server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("chat server stopped with error", zap.Error(err))
		return
	}
	logger.Info("chat server stopped")
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
