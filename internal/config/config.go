// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Backend names accepted by CONVERSATION_STORE and MESSAGE_STORE.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
)

// Config holds every setting the server and CLI read from the environment.
type Config struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"text"`
	ServerName     string        `envconfig:"SERVER_NAME"`

	ConversationStore string `envconfig:"CONVERSATION_STORE" default:"memory"`
	MessageStore      string `envconfig:"MESSAGE_STORE" default:"memory"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	BadgerPath        string `envconfig:"BADGER_PATH"`
	RedisAddr         string `envconfig:"REDIS_ADDR"` // empty disables Redis features
	NATSURL           string `envconfig:"NATS_URL"`   // empty runs single node

	TranslationProvider   string        `envconfig:"TRANSLATION_PROVIDER" default:"mock"`
	TranslationBaseURL    string        `envconfig:"TRANSLATION_BASE_URL"`
	TranslationAPIKey     string        `envconfig:"TRANSLATION_API_KEY"`
	GoogleCredentialsFile string        `envconfig:"GOOGLE_CREDENTIALS_FILE"`
	TranslationTimeout    time.Duration `envconfig:"TRANSLATION_TIMEOUT" default:"5s"`
	TranslationWorkers    int           `envconfig:"TRANSLATION_WORKERS" default:"32"`
	TranslationCacheTTL   time.Duration `envconfig:"TRANSLATION_CACHE_TTL" default:"24h"`
	DefaultLanguage       string        `envconfig:"DEFAULT_LANGUAGE" default:"english"`

	MessageRateLimit  int           `envconfig:"MESSAGE_RATE_LIMIT" default:"5"`
	MessageRateWindow time.Duration `envconfig:"MESSAGE_RATE_WINDOW" default:"10s"`
	HistoryLimit      int           `envconfig:"HISTORY_LIMIT" default:"50"`
	HistoryMaxLimit   int           `envconfig:"HISTORY_MAX_LIMIT" default:"500"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _ = os.Hostname()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "ws-1"
	}
	cfg.ConversationStore = strings.ToLower(cfg.ConversationStore)
	cfg.MessageStore = strings.ToLower(cfg.MessageStore)
	cfg.DefaultLanguage = strings.ToLower(cfg.DefaultLanguage)
	return cfg, cfg.Validate()
}

// Validate rejects unknown backends and missing settings for the chosen ones.
func (c Config) Validate() error {
	switch c.ConversationStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: CONVERSATION_STORE=postgres requires DATABASE_URL")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: CONVERSATION_STORE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("config: unknown CONVERSATION_STORE %q", c.ConversationStore)
	}

	switch c.MessageStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: MESSAGE_STORE=postgres requires DATABASE_URL")
		}
	case BackendBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("config: MESSAGE_STORE=badger requires BADGER_PATH")
		}
	default:
		return fmt.Errorf("config: unknown MESSAGE_STORE %q", c.MessageStore)
	}

	if c.TranslationTimeout <= 0 {
		return fmt.Errorf("config: TRANSLATION_TIMEOUT must be positive")
	}
	if c.TranslationWorkers <= 0 {
		return fmt.Errorf("config: TRANSLATION_WORKERS must be positive")
	}
	if c.HistoryLimit <= 0 || c.HistoryMaxLimit < c.HistoryLimit {
		return fmt.Errorf("config: HISTORY_LIMIT must be positive and not exceed HISTORY_MAX_LIMIT")
	}
	if c.MessageRateLimit < 0 || c.MessageRateWindow < 0 {
		return fmt.Errorf("config: negative message rate settings")
	}
	return nil
}

// UsesPostgres reports whether any store needs DATABASE_URL.
func (c Config) UsesPostgres() bool {
	return c.ConversationStore == BackendPostgres || c.MessageStore == BackendPostgres
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if strings.EqualFold(c.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("level", c.LogLevel).Warn("config: unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
