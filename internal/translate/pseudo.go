package translate

import (
	"context"
	"fmt"
)

// PseudoProvider is a deterministic offline provider. It tags text with the
// target code instead of translating it, which keeps local runs and tests
// free of network calls.
type PseudoProvider struct{}

func (PseudoProvider) Name() string { return string(EngineMock) }

func (PseudoProvider) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", targetCode, text), nil
}

func (p PseudoProvider) TranslateBatch(ctx context.Context, texts []string, sourceCode, targetCode string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		s, err := p.Translate(ctx, t, sourceCode, targetCode)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
