package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"improv-server/internal/config"
	delivery "improv-server/internal/delivery/http"
	ws "improv-server/internal/delivery/websocket"
	"improv-server/internal/messaging"
	"improv-server/internal/monitor"
	"improv-server/internal/repository"
	"improv-server/internal/service"
	"improv-server/internal/speech"
	"improv-server/internal/storage"
	"improv-server/pkg/ai"
	"improv-server/pkg/logger"
	"improv-server/pkg/taskmanager"
)

const (
	cleanupInterval = 5 * time.Minute
	sceneRetention  = 30 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// логгер еще не создан
		_, _ = os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	// taskmanager логирует через log.Ctx(ctx)
	zl := logger.NewZerolog(cfg.LoggerConfig())
	zerolog.DefaultContextLogger = &zl

	cfg.LogSummary(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults, warnings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		log.Warn("Settings file unusable, using built-in defaults", zap.String("path", cfg.SettingsFile), zap.Error(err))
	}
	for _, w := range warnings {
		log.Warn("Settings value corrected", zap.Error(w))
	}

	reg := prometheus.DefaultRegisterer

	aiClient, err := ai.NewClient(ai.Config{
		ClientType: cfg.AIClientType,
		BaseURL:    cfg.AIBaseURL,
		APIKey:     cfg.AIAPIKey,
		Model:      cfg.AIModel,
		Timeout:    cfg.AITimeout,
	}, ai.NewMetrics(reg), log)
	if err != nil {
		log.Fatal("Failed to create AI client", zap.Error(err))
	}

	store := storage.OpenOrMemory(ctx, storage.Config{
		Backend:       cfg.StorageBackend,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		DatabaseURL:   cfg.DatabaseURL,
		MaxConns:      cfg.DBMaxConns,
		SQLitePath:    cfg.SQLitePath,
	}, log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close storage", zap.Error(err))
		}
	}()

	settingsRepo := repository.NewSettingsRepository(store, log)
	historyRepo := repository.NewHistoryRepository(store, log)
	characterRepo := repository.NewCharacterRepository(store, log)

	metrics := monitor.NewMetrics(reg)
	mon := monitor.New(defaults.MonitorConfig(), historyRepo, metrics, log)
	if err := mon.LoadHistory(ctx); err != nil {
		log.Warn("Starting with empty monitor history", zap.Error(err))
	}

	voiceBus := speech.NewEventBus(log)
	hub := ws.NewHub(voiceBus, cfg.CORSAllowedOrigins, log)
	go hub.Run(ctx)

	var synth speech.Synthesizer
	if cfg.TTSEnabled && cfg.AIClientType == ai.ClientTypeOpenAI {
		synth = speech.NewOpenAISynthesizer(ai.NewOpenAI(ai.Config{
			BaseURL: cfg.AIBaseURL,
			APIKey:  cfg.AIAPIKey,
			Timeout: cfg.AITimeout,
		}), cfg.TTSModel)
	} else {
		log.Info("Speech synthesis disabled, lines are voiced by the browser")
	}
	speechOut := speech.NewOutput(synth, hub, speech.NewPhraseCache(cfg.TTSCacheSize), 0, metrics, log)

	publisher, closePublisher := newSummaryPublisher(ctx, cfg, log)
	defer closePublisher()

	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxConcurrentScenes})
	tasks.SetNotifier(hub)

	stage, err := service.NewStageService(service.StageDeps{
		AI:         aiClient,
		Monitor:    mon,
		Settings:   settingsRepo,
		Characters: characterRepo,
		Tasks:      tasks,
		Speech:     speechOut,
		Voice:      voiceBus,
		Observer:   hub,
		Publisher:  publisher,
		Logger:     log,
	}, defaults)
	if err != nil {
		log.Fatal("Failed to create stage service", zap.Error(err))
	}
	stage.LoadSettings(ctx)

	router := delivery.NewRouter(delivery.RouterConfig{
		Env:            cfg.Env,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		EnableMetrics:  true,
	}, delivery.NewHandler(stage, mon, log), hub, log)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// без WriteTimeout: /ws держит соединение
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := stage.Cleanup(sceneRetention); n > 0 {
					log.Debug("Finished scenes cleaned up", zap.Int("count", n))
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := stage.Shutdown(shutdownCtx); err != nil {
		log.Error("Scenes did not finish before shutdown timeout", zap.Error(err))
	}
	hub.Stop()
	if err := mon.Persist(shutdownCtx); err != nil {
		log.Warn("Failed to persist monitor history on shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}

// newSummaryPublisher подключается к RabbitMQ, если он настроен. При ошибке подключения
// используется publisher-заглушка.
func newSummaryPublisher(ctx context.Context, cfg *config.Config, log *zap.Logger) (messaging.SummaryPublisher, func()) {
	nop := func() {}
	if cfg.RabbitMQURL == "" {
		return messaging.NopPublisher{}, nop
	}
	conn, err := messaging.Connect(ctx, cfg.RabbitMQURL, 5, 2*time.Second, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, scene summaries will not be published", zap.Error(err))
		return messaging.NopPublisher{}, nop
	}
	pub, err := messaging.NewRabbitMQSummaryPublisher(conn, cfg.SummaryExchange, log)
	if err != nil {
		_ = conn.Close()
		log.Warn("Failed to declare summary exchange", zap.Error(err))
		return messaging.NopPublisher{}, nop
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn("Failed to close summary publisher", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			log.Warn("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}
}
