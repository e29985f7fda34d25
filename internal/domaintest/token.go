package domaintest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// A unique source token, so tests sharing a database don't see each other's rows
func NewToken(t *testing.T) string {
	id, err := uuid.NewRandom()
	require.NoError(t, err)
	return "test-token-" + id.String()
}
