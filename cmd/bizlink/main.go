package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	appchat "bizlink/internal/app/chat"
	"bizlink/internal/app/translate"
	"bizlink/internal/app/voice"
	"bizlink/internal/infra/broker/kafka"
	rediscache "bizlink/internal/infra/cache/redis"
	"bizlink/internal/infra/config"
	mongodb "bizlink/internal/infra/db/mongo"
	"bizlink/internal/infra/directory"
	ginserver "bizlink/internal/infra/http/gin"
	"bizlink/internal/infra/obs"
	"bizlink/internal/infra/outbox"
	"bizlink/internal/infra/providers"
	"bizlink/internal/infra/storage/memory"
	"bizlink/internal/infra/storage/s3"
	"bizlink/internal/realtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	app, cleanup, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("application bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	fixturesPath := getenv("USERS_FIXTURES", "")
	if fixturesPath == "" {
		fixturesPath = defaultUserFixturesPath()
	}
	if err := app.loadUserFixtures(fixturesPath, logger); err != nil {
		logger.Warn("user fixtures load failed", "error", err, "path", fixturesPath)
	}

	go func() {
		if err := app.registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session sweep stopped", "error", err)
		}
	}()
	if app.worker != nil {
		go func() {
			if err := app.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers ginserver.Handlers
	registry *realtime.Registry
	worker   *outbox.Worker
	users    *directory.Memory
	ready    func() error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (application, func(), error) {
	cleanup := func() {}

	users := directory.NewMemory()

	var (
		ready       = func() error { return nil }
		outboxStore outbox.Store
		chatService *appchat.Service
	)
	switch cfg.StoreMode {
	case "mongo":
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return application{}, cleanup, fmt.Errorf("connect mongo: %w", err)
		}
		convs := mongodb.NewConversationRepository(client.DB)
		msgs := mongodb.NewMessageRepository(client.DB)
		if err := convs.EnsureIndexes(ctx); err != nil {
			return application{}, cleanup, fmt.Errorf("conversation indexes: %w", err)
		}
		if err := msgs.EnsureIndexes(ctx); err != nil {
			return application{}, cleanup, fmt.Errorf("message indexes: %w", err)
		}
		outboxStore = outbox.NewMongoStore(client.DB)
		ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
		chatService = &appchat.Service{
			Conversations: convs,
			Messages:      msgs,
			Directory:     users,
			Logger:        logger,
		}
	default:
		chatService = &appchat.Service{
			Conversations: memory.NewConversationRepository(),
			Messages:      memory.NewMessageRepository(),
			Directory:     users,
			Logger:        logger,
		}
		outboxStore = memory.NewOutbox()
	}

	chatService.Events = outbox.Journal{Store: outboxStore}

	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		chatService.Cache = rediscache.NewRecentCache(redisClient, cfg.RecentCacheSize)
		prev := cleanup
		cleanup = func() {
			_ = redisClient.Close()
			prev()
		}
	}

	var worker *outbox.Worker
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return application{}, cleanup, fmt.Errorf("connect kafka: %w", err)
		}
		worker = &outbox.Worker{
			Store:       outboxStore,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
		prev := cleanup
		cleanup = func() {
			_ = producer.Close()
			prev()
		}
	} else {
		logger.Info("kafka brokers not configured, outbox worker disabled")
	}

	var uploader voice.Uploader
	if getenv("S3_DISABLED", "") == "" {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			logger.Warn("s3 uploader unavailable, voice blobs will not be stored", "error", err)
		} else {
			uploader = client
		}
	}

	var translator translate.Provider = providers.MockTranslator{}
	var speech voice.SpeechProvider = providers.MockSpeech{}
	if getenv("PROVIDERS_MODE", "mock") == "http" {
		translator = providers.NewTranslationClient(cfg.TranslateURL, cfg.ProviderTimeout)
		speech = providers.NewSpeechClient(cfg.SpeechURL, cfg.ProviderTimeout)
	}

	translations := &translate.Cache{
		Messages: chatService.Messages,
		Provider: translator,
		Timeout:  cfg.ProviderTimeout,
		Logger:   logger,
	}
	pipeline := &voice.Pipeline{
		Chat:    chatService,
		Speech:  speech,
		Media:   uploader,
		Timeout: cfg.ProviderTimeout,
		Logger:  logger,
	}

	registry := realtime.NewRegistry()
	registry.SweepInterval = cfg.SessionSweep
	registry.Staleness = cfg.SessionStaleAfter
	registry.Logger = logger

	broadcaster := &realtime.Broadcaster{Registry: registry, Directory: users, Logger: logger}
	coordinator := &realtime.Coordinator{Chat: chatService, Registry: registry, Logger: logger}
	gateway := &realtime.Gateway{
		Auth:      ginserver.DirectoryAuthenticator{Directory: users},
		Registry:  registry,
		Presence:  broadcaster,
		Typing:    coordinator,
		Chat:      chatService,
		RateLimit: rate.Limit(cfg.WSRateLimit),
		RateBurst: cfg.WSRateBurst,
		Logger:    logger,
	}
	registry.OnEvict = gateway.HandleEviction

	chatHandler := ginserver.ChatHandler{
		Chat:         chatService,
		Voice:        pipeline,
		Translations: translations,
		Gateway:      gateway,
		Logger:       logger,
	}
	wsHandler := ginserver.WSHandler{Gateway: gateway, Logger: logger}
	authMW := ginserver.AuthMiddleware{Directory: users, Logger: logger}

	return application{
		handlers: ginserver.Handlers{
			Chat:           chatHandler,
			WS:             wsHandler.Handle,
			AuthMiddleware: authMW.Handle,
		},
		registry: registry,
		worker:   worker,
		users:    users,
		ready:    ready,
	}, cleanup, nil
}

func (a application) loadUserFixtures(path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("user fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}

	var fixtures []userFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	for _, fx := range fixtures {
		token, err := a.users.AddUser(directory.User{ID: fx.ID, Name: fx.Name, Company: fx.Company}, fx.Token)
		if err != nil {
			logger.Error("fixture user rejected", "user_id", fx.ID, "error", err)
			continue
		}
		a.users.SetFriends(fx.ID, fx.Friends...)
		for _, blocked := range fx.Blocked {
			a.users.Block(fx.ID, blocked)
		}
		logger.Info("user fixture imported", "user_id", fx.ID, "token", token)
	}
	return nil
}

type userFixture struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Company string   `json:"company"`
	Token   string   `json:"token"`
	Friends []string `json:"friends"`
	Blocked []string `json:"blocked"`
}

func defaultUserFixturesPath() string {
	candidates := []string{
		filepath.Join("data", "users.json"),
		filepath.Join("backend", "data", "users.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
