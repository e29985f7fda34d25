package tokenregistry

import (
	"context"
	"fmt"
)

type combined struct {
	registries []TokenRegistry
}

// Union of the given registries, in order, without duplicates. Any failing registry fails the listing.
func NewCombined(registries ...TokenRegistry) TokenRegistry {
	return &combined{registries: registries}
}

func (c *combined) ListTokens(ctx context.Context) ([]string, error) {
	tokens := []string{}
	seen := make(map[string]bool)
	for i, registry := range c.registries {
		listed, err := registry.ListTokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry %d: %w", i, err)
		}
		for _, token := range listed {
			if seen[token] {
				continue
			}
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}
