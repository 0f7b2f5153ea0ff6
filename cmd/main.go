package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/crisp_call/internal/api/http"
	"github.com/immxrtalbeast/crisp_call/internal/call"
	"github.com/immxrtalbeast/crisp_call/internal/config"
	"github.com/immxrtalbeast/crisp_call/internal/media"
	"github.com/immxrtalbeast/crisp_call/internal/repository"
	"github.com/immxrtalbeast/crisp_call/internal/repository/model"
	"github.com/immxrtalbeast/crisp_call/internal/ringback"
	"github.com/immxrtalbeast/crisp_call/internal/rtc"
	"github.com/immxrtalbeast/crisp_call/internal/service"
	"github.com/immxrtalbeast/crisp_call/internal/signaling"
	"github.com/immxrtalbeast/crisp_call/lib/logger/sl"
	"github.com/immxrtalbeast/crisp_call/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openSignaling(ctx, cfg.Signaling, log)
	if err != nil {
		log.Error("failed to open signaling store", sl.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	availabilityRepo, callLogRepo, err := openRepositories(cfg.Database, log)
	if err != nil {
		log.Error("failed to connect database", sl.Err(err))
		os.Exit(1)
	}

	factory, err := rtc.NewPionFactory(pionConfig(cfg.WebRTC))
	if err != nil {
		log.Error("failed to set up webrtc", sl.Err(err))
		os.Exit(1)
	}

	hub := service.NewEventHub(cfg.Call.EventBuffer, log)
	userService := service.NewUserService(availabilityRepo, callLogRepo, log)

	self := call.Party{ID: cfg.Agent.UserID, Name: cfg.Agent.DisplayName}
	callService := service.NewCallService(call.Deps{
		Store:           store,
		Connections:     rtc.NewManager(factory, store, log),
		Media:           mediaSource(cfg.Media, log),
		Ringback:        ringback.NewController(ringback.NewEventPlayer(hub), cfg.Ringback.Asset, log),
		Directory:       userService,
		History:         userService,
		Navigator:       hub,
		Events:          hub,
		EndWriteTimeout: cfg.Call.EndWriteTimeout,
		Log:             log,
	}, self, log)

	watcher := service.NewIncomingWatcher(userService, callService, self.ID, cfg.Agent.IncomingPollInterval, log)
	go watcher.Run(ctx)

	callController := httpapi.NewCallController(callService, hub, log)
	userController := httpapi.NewUserController(userService)

	router := httpapi.SetupRouter(callController, userController, cfg.HTTP.AllowOrigins)
	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	go func() {
		log.Info("starting application",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("user_id", self.ID),
			slog.String("signaling", cfg.Signaling.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	callService.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", sl.Err(err))
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func openSignaling(ctx context.Context, cfg config.SignalingConfig, log *slog.Logger) (signaling.Store, func(), error) {
	if cfg.Backend != config.SignalingRedis {
		return signaling.NewMemoryStore(signaling.WithLogger(log)), func() {}, nil
	}

	rdb, err := signaling.OpenRedis(ctx, signaling.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Warn("failed to close redis", sl.Err(err))
		}
	}
	return signaling.NewRedisStore(rdb, cfg.TTL, log), closeFn, nil
}

func openRepositories(cfg config.DatabaseConfig, log *slog.Logger) (repository.AvailabilityRepository, repository.CallLogRepository, error) {
	if cfg.DSN == "" {
		log.Warn("database dsn is empty, availability and call history are kept in memory")
		return repository.NewInMemoryAvailabilityRepository(), repository.NewInMemoryCallLogRepository(), nil
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewPostgresAvailabilityRepository(db), repository.NewPostgresCallLogRepository(db), nil
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.Availability{}, &model.CallRecord{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

func pionConfig(cfg config.WebRTCConfig) rtc.PionConfig {
	servers := make([]rtc.ICEServer, 0, 1+len(cfg.TURNServers))
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, rtc.ICEServer{URLs: cfg.STUNServers})
	}
	for _, turn := range cfg.TURNServers {
		servers = append(servers, rtc.ICEServer{
			URLs:       turn.URLs,
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}
	return rtc.PionConfig{
		ICEServers:          servers,
		DisconnectedTimeout: cfg.DisconnectedTimeout,
		FailedTimeout:       cfg.FailedTimeout,
		KeepAliveInterval:   cfg.KeepAliveInterval,
	}
}

func mediaSource(cfg config.MediaConfig, log *slog.Logger) media.Source {
	if cfg.MicrophoneFile != "" {
		return media.NewOggSource(cfg.MicrophoneFile, log)
	}
	return media.NewSilenceSource(log)
}
