package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EngineType names a translation backend.
type EngineType string

const (
	// EngineMock tags text with the target code. No network access.
	EngineMock EngineType = "mock"
	// EngineLibreTranslate talks to a self-hosted LibreTranslate server.
	EngineLibreTranslate EngineType = "libretranslate"
	// EngineGoogle uses Google Cloud Translation.
	EngineGoogle EngineType = "google"
)

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Engine          EngineType
	BaseURL         string
	APIKey          string
	CredentialsFile string
	Timeout         time.Duration

	// Redis enables the translation cache when non-nil.
	Redis    redis.UniversalClient
	CacheTTL time.Duration

	Logger *logrus.Logger
}

// NewProvider builds the configured Provider. The returned close func
// releases any client the provider holds and is never nil.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, func() error, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	noop := func() error { return nil }

	cfg.Logger.WithFields(logrus.Fields{
		"engine":   cfg.Engine,
		"base_url": cfg.BaseURL,
		"cache":    cfg.Redis != nil,
	}).Info("translate: creating provider")

	var (
		p       Provider
		closeFn = noop
	)
	switch cfg.Engine {
	case EngineMock, "":
		p = PseudoProvider{}
	case EngineLibreTranslate:
		p = NewLibreTranslateProvider(cfg.BaseURL, cfg.APIKey, cfg.Timeout, cfg.Logger)
	case EngineGoogle:
		g, err := NewGoogleProvider(ctx, cfg.CredentialsFile, cfg.APIKey)
		if err != nil {
			return nil, noop, err
		}
		p, closeFn = g, g.Close
	default:
		return nil, noop, fmt.Errorf("translate: unknown engine %q", cfg.Engine)
	}

	if cfg.Redis != nil && cfg.Engine != EngineMock && cfg.Engine != "" {
		p = NewCachedProvider(p, cfg.Redis, cfg.CacheTTL, cfg.Logger)
	}
	return p, closeFn, nil
}

// ParseEngineType parses an engine name case-insensitively.
func ParseEngineType(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mock", "pseudo":
		return EngineMock, nil
	case "libretranslate", "libre":
		return EngineLibreTranslate, nil
	case "google":
		return EngineGoogle, nil
	default:
		return "", fmt.Errorf("translate: unknown engine type %q (supported: mock, libretranslate, google)", s)
	}
}
