package translate

import (
	"context"
	"fmt"
	"html"

	gtranslate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GoogleProvider uses the Cloud Translation v2 API. The client is created
// once and shared; call Close on shutdown.
type GoogleProvider struct {
	client *gtranslate.Client
}

// NewGoogleProvider dials the Cloud Translation API. credentialsFile may be
// empty to fall back to application default credentials; apiKey, when set,
// takes precedence over both.
func NewGoogleProvider(ctx context.Context, credentialsFile, apiKey string) (*GoogleProvider, error) {
	var opts []option.ClientOption
	switch {
	case apiKey != "":
		opts = append(opts, option.WithAPIKey(apiKey))
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gtranslate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Name() string { return string(EngineGoogle) }

func (p *GoogleProvider) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	out, err := p.TranslateBatch(ctx, []string{text}, sourceCode, targetCode)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

func (p *GoogleProvider) TranslateBatch(ctx context.Context, texts []string, sourceCode, targetCode string) ([]string, error) {
	target, err := language.Parse(targetCode)
	if err != nil {
		return nil, fmt.Errorf("google: invalid target language %q: %w", targetCode, err)
	}
	opts := &gtranslate.Options{Format: gtranslate.Text}
	if sourceCode != "" {
		if src, err := language.Parse(sourceCode); err == nil {
			opts.Source = src
		}
	}

	translations, err := p.client.Translate(ctx, texts, target, opts)
	if err != nil {
		return nil, fmt.Errorf("google: translate: %w", err)
	}
	if len(translations) != len(texts) {
		return nil, fmt.Errorf("google: got %d translations for %d texts", len(translations), len(texts))
	}
	out := make([]string, len(translations))
	for i, t := range translations {
		out[i] = html.UnescapeString(t.Text)
	}
	return out, nil
}

// Close releases the underlying client connection.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}
