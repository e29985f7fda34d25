package tokenregistry

import (
	"context"
	"slices"
)

type Static struct {
	tokens []string
}

func NewStatic(tokens []string) *Static {
	return &Static{tokens: slices.Clone(tokens)}
}

func (s *Static) ListTokens(ctx context.Context) ([]string, error) {
	return slices.Clone(s.tokens), nil
}
