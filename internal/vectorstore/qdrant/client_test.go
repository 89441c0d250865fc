package qdrant

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsEmptyCollectionName(t *testing.T) {
	_, err := New("http://localhost:6334", "", 256)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection name is required")
}

func TestNew_RejectsInvalidPortInDSN(t *testing.T) {
	_, err := New("http://localhost:not-a-port", "episodes", 256)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
}

func TestPointID_PassesThroughExistingUUID(t *testing.T) {
	id := uuid.New().String()
	out, remapped := pointID(id)
	assert.Equal(t, id, out)
	assert.False(t, remapped)
}

func TestPointID_DeterministicallyMapsNonUUIDIDs(t *testing.T) {
	out1, remapped1 := pointID("user-42/episode-7")
	out2, remapped2 := pointID("user-42/episode-7")
	assert.True(t, remapped1)
	assert.True(t, remapped2)
	assert.Equal(t, out1, out2, "the same source id must always map to the same UUID")

	other, _ := pointID("user-42/episode-8")
	assert.NotEqual(t, out1, other)
}
