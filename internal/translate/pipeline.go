// Package translate implements the translation pipeline used by the chat
// core: source-language detection, target resolution through the language
// registry, and a provider call that degrades to the original text on any
// failure. Translation never returns an error to its caller.
package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/language"
	"github.com/whisper/polyglot/internal/metrics"
)

// Outcome records which path a translation took.
type Outcome string

const (
	OutcomeTranslated   Outcome = "translated"
	OutcomeSameLanguage Outcome = "same_language"
	OutcomeUndetected   Outcome = "undetected"
	OutcomeDegraded     Outcome = "degraded"
)

// Result is the output of Pipeline.Translate. Language fields hold
// registry names ("english"), or "unknown" when detection failed.
type Result struct {
	OriginalText   string  `json:"original_text"`
	SourceLanguage string  `json:"source_language"`
	TranslatedText string  `json:"translated_text"`
	TargetLanguage string  `json:"target_language"`
	Outcome        Outcome `json:"-"`
}

// PipelineConfig holds tunables for provider calls.
type PipelineConfig struct {
	Timeout time.Duration // upper bound on a single provider call
	Workers int           // max concurrent provider calls
}

// DefaultPipelineConfig returns sensible production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Timeout: 5 * time.Second,
		Workers: 32,
	}
}

// Pipeline composes a Detector, a Provider and the language registry.
type Pipeline struct {
	provider Provider
	detector Detector
	langs    *language.Registry
	timeout  time.Duration
	slots    chan struct{} // semaphore bounding in-flight provider calls
	log      *logrus.Logger
}

// NewPipeline creates a Pipeline. The provider is fixed for the lifetime of
// the pipeline.
func NewPipeline(provider Provider, detector Detector, langs *language.Registry, cfg PipelineConfig, log *logrus.Logger) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPipelineConfig().Timeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPipelineConfig().Workers
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		provider: provider,
		detector: detector,
		langs:    langs,
		timeout:  cfg.Timeout,
		slots:    make(chan struct{}, cfg.Workers),
		log:      log,
	}
}

// Languages exposes the registry the pipeline normalizes through.
func (p *Pipeline) Languages() *language.Registry {
	return p.langs
}

// Translate translates text into targetLanguage. If sourceOverride is empty
// the source language is detected. The returned Result always carries a
// usable TranslatedText: on detection or provider failure it is text itself.
func (p *Pipeline) Translate(ctx context.Context, text, targetLanguage, sourceOverride string) Result {
	targetCode := p.langs.CodeOf(targetLanguage)
	res := Result{
		OriginalText:   text,
		TargetLanguage: p.langs.NameOf(targetCode),
		TranslatedText: text,
	}

	var sourceCode string
	if sourceOverride != "" {
		sourceCode = p.langs.CodeOf(sourceOverride)
	} else {
		code, err := p.detector.Detect(text)
		if err != nil || code == "" {
			p.log.WithError(err).WithField("text_len", len(text)).Debug("translate: detection failed")
			res.SourceLanguage = language.Unknown
			return p.finish(res, OutcomeUndetected)
		}
		sourceCode = strings.ToLower(code)
	}
	res.SourceLanguage = p.langs.NameOf(sourceCode)

	if sourceCode == targetCode {
		return p.finish(res, OutcomeSameLanguage)
	}

	var translated string
	err := p.call(ctx, func(ctx context.Context) error {
		out, err := p.provider.Translate(ctx, text, sourceCode, targetCode)
		translated = out
		return err
	})
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"provider": p.provider.Name(),
			"source":   sourceCode,
			"target":   targetCode,
		}).Warn("translate: provider failed, keeping original text")
		return p.finish(res, OutcomeDegraded)
	}

	res.TranslatedText = translated
	return p.finish(res, OutcomeTranslated)
}

// TranslateBatch translates texts from sourceLanguage to targetLanguage.
// The output has the same length and order as texts; any item the provider
// fails on is returned unchanged.
func (p *Pipeline) TranslateBatch(ctx context.Context, texts []string, sourceLanguage, targetLanguage string) []string {
	out := make([]string, len(texts))
	copy(out, texts)

	sourceCode := p.langs.CodeOf(sourceLanguage)
	targetCode := p.langs.CodeOf(targetLanguage)
	if sourceCode == targetCode || len(texts) == 0 {
		return out
	}

	if bp, ok := p.provider.(BatchProvider); ok {
		var translated []string
		err := p.call(ctx, func(ctx context.Context) error {
			res, err := bp.TranslateBatch(ctx, texts, sourceCode, targetCode)
			translated = res
			return err
		})
		if err == nil && len(translated) == len(texts) {
			return translated
		}
		if err == nil {
			err = fmt.Errorf("translate: batch returned %d items for %d inputs", len(translated), len(texts))
		}
		p.log.WithError(err).WithField("provider", p.provider.Name()).
			Warn("translate: batch call failed, translating items individually")
	}

	var wg sync.WaitGroup
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			var translated string
			err := p.call(ctx, func(ctx context.Context) error {
				res, err := p.provider.Translate(ctx, text, sourceCode, targetCode)
				translated = res
				return err
			})
			if err != nil {
				metrics.TranslationsTotal.WithLabelValues(string(OutcomeDegraded)).Inc()
				return
			}
			out[i] = translated
		}(i, text)
	}
	wg.Wait()
	return out
}

func (p *Pipeline) finish(res Result, outcome Outcome) Result {
	res.Outcome = outcome
	metrics.TranslationsTotal.WithLabelValues(string(outcome)).Inc()
	return res
}

// call runs fn on a worker goroutine bounded by the slots semaphore and
// waits at most p.timeout for it. The caller is released on timeout even if
// the provider ignores ctx; the late result is discarded.
func (p *Pipeline) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("translate: waiting for worker: %w", ctx.Err())
	}

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		defer cancel()
		defer func() { <-p.slots }()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("translate: provider panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		metrics.ProviderLatency.WithLabelValues(p.provider.Name()).Observe(time.Since(start).Seconds())
		return err
	case <-ctx.Done():
		// The worker cancels ctx right after reporting, so both cases can be
		// ready at once. A finished call wins.
		select {
		case err := <-done:
			metrics.ProviderLatency.WithLabelValues(p.provider.Name()).Observe(time.Since(start).Seconds())
			return err
		default:
		}
		return fmt.Errorf("translate: provider call: %w", ctx.Err())
	}
}
