package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preik/internal/chromemdb"
	"preik/internal/config"
)

func TestNew(t *testing.T) {
	vs, err := New(&config.VectorConfig{Backend: "chromem", InMemory: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &chromemdb.VectorDBManager{}, vs)

	_, err = New(&config.VectorConfig{Backend: "postgres"}, nil)
	assert.Error(t, err)

	_, err = New(&config.VectorConfig{Backend: "qdrant"}, nil)
	assert.ErrorIs(t, err, config.ErrUnknownVectorBackend)
}
