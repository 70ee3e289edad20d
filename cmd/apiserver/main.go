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

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"studybuddy/internal/app"
	"studybuddy/internal/config"
	"studybuddy/internal/handlers/apiserver"
	"studybuddy/internal/logging"
	"studybuddy/internal/middleware"
	appRedis "studybuddy/internal/redis"
	"studybuddy/internal/services"
	"studybuddy/internal/storage"
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
	logger = logger.With(zap.String("service", "apiserver"))

	flushSentry := app.InitSentry(cfg, logger)
	defer flushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("init database", zap.Error(err))
	}
	if err := storage.AutoMigrateTables(db, logger); err != nil {
		logger.Warn("auto migration failed", zap.Error(err))
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
	taskRepo := storage.NewGormTaskRepository(db)
	reportRepo := storage.NewGormReportRepository(db)

	repairService := services.NewRepairService(profileStore, cfg.Repair, logger)
	buddyService := services.NewBuddyService(profileStore, repairService, blobs.Store, publisher, logger)
	profileService := services.NewProfileService(profileStore, blobs.Store, logger)
	conversationService := services.NewConversationService(convoRepo, profileStore, blobs.Store, logger)
	messageService := services.NewMessageService(msgRepo, convoRepo, conversationService, publisher, logger)
	taskService := services.NewTaskService(taskRepo, profileStore, blobs.Store, publisher, logger)
	reportService := services.NewReportService(reportRepo, profileStore, logger)
	moderationService := services.NewModerationService(profileStore, repairService, publisher, logger)

	maxUpload := cfg.Storage.MaxFileSizeMB << 20
	authHandler := apiserver.NewAuthHandler(tokenBlacklist, logger)
	profileHandler := apiserver.NewProfileHandler(profileService, maxUpload, logger)
	buddyHandler := apiserver.NewBuddyHandler(buddyService, logger)
	convoHandler := apiserver.NewConversationHandler(conversationService, messageService, logger)
	taskHandler := apiserver.NewTaskHandler(taskService, maxUpload, logger)
	reportHandler := apiserver.NewReportHandler(reportService, moderationService, repairService, logger)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}
	if blobs.Local != nil {
		blobHandler := apiserver.NewBlobHandler(blobs.Local, logger)
		r.HandleFunc(app.BlobRoute+"/{token}", blobHandler.ServeBlob).Methods(http.MethodGet)
	}

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecretKey, tokenBlacklist, logger))

	apiRouter.HandleFunc("/auth/logout", authHandler.LogoutHandler).Methods(http.MethodPost)

	apiRouter.HandleFunc("/profiles", profileHandler.ListProfilesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/profiles/me", profileHandler.CreateMyProfileHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/profiles/me", profileHandler.GetMyProfileHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/profiles/me", profileHandler.UpdateMyProfileHandler).Methods(http.MethodPut)
	apiRouter.HandleFunc("/profiles/me/picture", profileHandler.UploadPictureHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/profiles/{userID}", profileHandler.GetProfileHandler).Methods(http.MethodGet)

	buddyRouter := apiRouter.PathPrefix("/buddy").Subrouter()
	buddyRouter.HandleFunc("", buddyHandler.CurrentBuddyHandler).Methods(http.MethodGet)
	buddyRouter.HandleFunc("/leave", buddyHandler.LeaveHandler).Methods(http.MethodPost)
	buddyRouter.HandleFunc("/requests", buddyHandler.PendingRequestsHandler).Methods(http.MethodGet)
	buddyRouter.HandleFunc("/requests", buddyHandler.SendRequestHandler).Methods(http.MethodPost)
	buddyRouter.HandleFunc("/requests/{userID}", buddyHandler.CancelRequestHandler).Methods(http.MethodDelete)
	buddyRouter.HandleFunc("/requests/{userID}/accept", buddyHandler.AcceptRequestHandler).Methods(http.MethodPost)
	buddyRouter.HandleFunc("/requests/{userID}/reject", buddyHandler.RejectRequestHandler).Methods(http.MethodPost)

	apiRouter.HandleFunc("/conversations", convoHandler.GetUserConversationsHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations", convoHandler.StartConversationHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/conversations/{id}/messages", convoHandler.GetConversationMessagesHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/conversations/{id}/messages", convoHandler.SendMessageHandler).Methods(http.MethodPost)

	apiRouter.HandleFunc("/tasks", taskHandler.CreateTaskHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/tasks/mine", taskHandler.MyTaskHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/tasks/buddy", taskHandler.BuddyTaskHandler).Methods(http.MethodGet)
	apiRouter.HandleFunc("/tasks/{id}/proof", taskHandler.SubmitProofHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/tasks/{id}/approve", taskHandler.ApproveTaskHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/tasks/{id}/decline", taskHandler.DeclineTaskHandler).Methods(http.MethodPost)
	apiRouter.HandleFunc("/tasks/{id}", taskHandler.RejectTaskHandler).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/reports", reportHandler.FileReportHandler).Methods(http.MethodPost)

	adminRouter := apiRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.RequireAdmin(moderationService, logger))
	adminRouter.HandleFunc("/reports", reportHandler.ListReportsHandler).Methods(http.MethodGet)
	adminRouter.HandleFunc("/users/{userID}/ban", reportHandler.BanUserHandler).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/unban", reportHandler.UnbanUserHandler).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{userID}/repair", reportHandler.RepairUserHandler).Methods(http.MethodPost)

	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}

	var handler http.Handler = handlers.CORS(corsOptions...)(r)
	handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(logger)))(handler)
	handler = handlers.CombinedLoggingHandler(zap.NewStdLog(logger.Named("access")).Writer(), handler)

	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Info("api server listening", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("api server stopped")
}
