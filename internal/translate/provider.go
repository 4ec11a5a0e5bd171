//go:generate go run go.uber.org/mock/mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks
package translate

import (
	"context"
	"errors"
)

// ErrUndetected is returned by a Detector when the input is empty or its
// language cannot be determined.
var ErrUndetected = errors.New("translate: language not detected")

// Provider is a machine translation backend. Codes are provider language
// codes (ISO 639-1 for every built-in provider). Implementations must honor
// ctx cancellation and be safe for concurrent use.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error)
}

// BatchProvider is implemented by providers that can translate several
// texts in one round-trip. Output order must match input order.
type BatchProvider interface {
	Provider
	TranslateBatch(ctx context.Context, texts []string, sourceCode, targetCode string) ([]string, error)
}

// Detector identifies the language of a text and returns its code.
type Detector interface {
	Detect(text string) (string, error)
}
