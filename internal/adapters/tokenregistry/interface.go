package tokenregistry

import (
	"context"
)

// Source of the user tokens the importer runs a pass for
type TokenRegistry interface {
	ListTokens(ctx context.Context) ([]string, error)
}
