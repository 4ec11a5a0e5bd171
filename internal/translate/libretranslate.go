package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLibreTranslateURL is used when no base URL is configured.
const DefaultLibreTranslateURL = "http://localhost:5000"

// LibreTranslateProvider calls a LibreTranslate server over HTTP.
type LibreTranslateProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewLibreTranslateProvider creates a provider for the server at baseURL.
// apiKey may be empty for servers that do not require one.
func NewLibreTranslateProvider(baseURL, apiKey string, timeout time.Duration, log *logrus.Logger) *LibreTranslateProvider {
	if baseURL == "" {
		baseURL = DefaultLibreTranslateURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LibreTranslateProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type libreRequest struct {
	Q      any    `json:"q"` // string or []string
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText json.RawMessage `json:"translatedText"`
	Error          string          `json:"error"`
}

func (p *LibreTranslateProvider) Name() string { return string(EngineLibreTranslate) }

func (p *LibreTranslateProvider) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	raw, err := p.do(ctx, text, sourceCode, targetCode)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("libretranslate: decode translatedText: %w", err)
	}
	return out, nil
}

func (p *LibreTranslateProvider) TranslateBatch(ctx context.Context, texts []string, sourceCode, targetCode string) ([]string, error) {
	raw, err := p.do(ctx, texts, sourceCode, targetCode)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("libretranslate: decode translatedText: %w", err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("libretranslate: got %d translations for %d texts", len(out), len(texts))
	}
	return out, nil
}

func (p *LibreTranslateProvider) do(ctx context.Context, q any, sourceCode, targetCode string) (json.RawMessage, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(libreRequest{
		Q:      q,
		Source: sourceCode,
		Target: targetCode,
		Format: "text",
		APIKey: p.apiKey,
	}); err != nil {
		return nil, fmt.Errorf("libretranslate: encode request: %w", err)
	}

	url := p.baseURL + "/translate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return nil, fmt.Errorf("libretranslate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("libretranslate: request: %w", err)
	}
	defer resp.Body.Close()

	p.log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
		"source":      sourceCode,
		"target":      targetCode,
	}).Debug("libretranslate: request completed")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("libretranslate: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var lr libreResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("libretranslate: decode response: %w", err)
	}
	if lr.Error != "" {
		return nil, fmt.Errorf("libretranslate: %s", lr.Error)
	}
	if len(lr.TranslatedText) == 0 {
		return nil, fmt.Errorf("libretranslate: empty response")
	}
	return lr.TranslatedText, nil
}
