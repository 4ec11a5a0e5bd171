package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/api"
	"github.com/whisper/polyglot/internal/chat"
	"github.com/whisper/polyglot/internal/config"
	"github.com/whisper/polyglot/internal/conversation"
	"github.com/whisper/polyglot/internal/language"
	"github.com/whisper/polyglot/internal/message"
	"github.com/whisper/polyglot/internal/messaging"
	"github.com/whisper/polyglot/internal/postgres"
	"github.com/whisper/polyglot/internal/profile"
	"github.com/whisper/polyglot/internal/ratelimit"
	"github.com/whisper/polyglot/internal/realtime"
	"github.com/whisper/polyglot/internal/session"
	"github.com/whisper/polyglot/internal/translate"
	"github.com/whisper/polyglot/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.NewLogger()

	log.Info("Polyglot chat server starting")
	log.WithFields(logrus.Fields{
		"listen_addr":        cfg.ListenAddr,
		"worker_pool":        cfg.WorkerPoolSize,
		"max_connections":    cfg.MaxConnections,
		"conversation_store": cfg.ConversationStore,
		"message_store":      cfg.MessageStore,
		"translation":        cfg.TranslationProvider,
		"redis_addr":         cfg.RedisAddr,
		"nats_url":           cfg.NATSURL,
		"server_name":        cfg.ServerName,
	}).Info("configuration")

	ctx := context.Background()
	var closers []func() error

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = session.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		closers = append(closers, rdb.Close)
	}

	// --- Postgres (optional) ---
	var db *sql.DB
	if cfg.UsesPostgres() {
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Postgres")
		}
		if err := postgres.MigrateUp(db, log); err != nil {
			log.WithError(err).Fatal("failed to apply migrations")
		}
		closers = append(closers, db.Close)
	}

	// --- Stores ---
	var convStore conversation.Store
	switch cfg.ConversationStore {
	case config.BackendPostgres:
		convStore = conversation.NewPostgresStore(db)
	case config.BackendRedis:
		convStore = conversation.NewRedisStore(rdb)
	default:
		convStore = conversation.NewMemoryStore()
	}

	var msgStore message.Store
	switch cfg.MessageStore {
	case config.BackendPostgres:
		msgStore = message.NewPostgresStore(db)
	case config.BackendBadger:
		bdb, err := message.OpenBadger(cfg.BadgerPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open badger")
		}
		closers = append(closers, bdb.Close)
		bs, err := message.NewBadgerStore(bdb, log)
		if err != nil {
			log.WithError(err).Fatal("failed to init badger message store")
		}
		msgStore = bs
		closers = append(closers, bs.Close)
	default:
		msgStore = message.NewMemoryStore()
	}

	var profiles profile.Store = profile.NewMemoryStore()
	var limiter chat.RateLimiter
	var wsLimiter *ratelimit.Limiter
	var sessions *session.Store
	if rdb != nil {
		profiles = profile.NewRedisStore(rdb)
		wsLimiter = ratelimit.NewLimiter(rdb, log)
		limiter = wsLimiter
		sessions = session.NewStore(rdb, cfg.ServerName)
	}

	// --- Translation ---
	engine, err := translate.ParseEngineType(cfg.TranslationProvider)
	if err != nil {
		log.WithError(err).Fatal("invalid TRANSLATION_PROVIDER")
	}
	providerCfg := translate.ProviderConfig{
		Engine:          engine,
		BaseURL:         cfg.TranslationBaseURL,
		APIKey:          cfg.TranslationAPIKey,
		CredentialsFile: cfg.GoogleCredentialsFile,
		Timeout:         cfg.TranslationTimeout,
		CacheTTL:        cfg.TranslationCacheTTL,
		Logger:          log,
	}
	if rdb != nil {
		providerCfg.Redis = rdb
	}
	provider, closeProvider, err := translate.NewProvider(ctx, providerCfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create translation provider")
	}
	closers = append(closers, closeProvider)

	langs := language.Default()
	pipeline := translate.NewPipeline(provider, translate.NewWhatlangDetector(langs), langs,
		translate.PipelineConfig{Timeout: cfg.TranslationTimeout, Workers: cfg.TranslationWorkers}, log)

	// --- Realtime fan-out ---
	hub := realtime.NewHub(log)
	var broadcaster chat.Broadcaster = hub
	var relay *messaging.Relay
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "polyglot-" + cfg.ServerName
		natsClient, err = messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to NATS")
		}
		relay = messaging.NewRelay(natsClient, log)
		if err := relay.Run(hub); err != nil {
			log.WithError(err).Fatal("failed to start NATS relay")
		}
		broadcaster = relay
	}

	svc := chat.NewService(chat.Deps{
		Conversations: conversation.NewRegistry(convStore, log),
		Messages:      msgStore,
		Translator:    pipeline,
		Profiles:      profiles,
		Hub:           hub,
		Broadcaster:   broadcaster,
		Limiter:       limiter,
		Logger:        log,
	}, chat.Config{
		DefaultLanguage: cfg.DefaultLanguage,
		HistoryLimit:    cfg.HistoryLimit,
		HistoryMaxLimit: cfg.HistoryMaxLimit,
		MessageRule:     ratelimit.MessageRule(cfg.MessageRateLimit, cfg.MessageRateWindow),
	})

	// --- WebSocket ---
	dispatcher := ws.NewMessageDispatcher(log)
	(&socketHandlers{
		dispatcher:  dispatcher,
		svc:         svc,
		sessions:    sessions,
		sendTimeout: cfg.TranslationTimeout + cfg.WriteTimeout,
		log:         log,
	}).register()

	wsConfig := ws.DefaultServerConfig()
	wsConfig.WorkerPoolSize = cfg.WorkerPoolSize
	wsConfig.MaxConnections = cfg.MaxConnections
	wsConfig.ReadTimeout = cfg.ReadTimeout
	wsConfig.WriteTimeout = cfg.WriteTimeout

	server := ws.NewServer(wsConfig, sessions, dispatcher.Dispatch, log)
	if wsLimiter != nil {
		server.SetConnectLimiter(wsLimiter, ratelimit.RuleConnect)
	}
	server.SetOnDisconnect(svc.Disconnect)
	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("failed to start websocket server")
	}

	httpServer := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewRouter(api.Deps{
			Service:   svc,
			Stats:     server,
			WebSocket: server,
			Logger:    log,
		}),
		ReadHeaderTimeout: cfg.ReadTimeout,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server error")
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("received signal, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	if err := server.Shutdown(); err != nil {
		log.WithError(err).Warn("websocket shutdown error")
	}
	if relay != nil {
		_ = relay.Stop()
		natsClient.Close()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.WithError(err).Warn("close error")
		}
	}
	log.Info("shutdown complete")
}
