package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotNames(t *testing.T) {
	assert.Equal(t, "widgets", SingleSlot("widgets"))
	assert.Equal(t, "widgets_metadata", ManifestSlot("widgets"))
	assert.Equal(t, "widgets_chunk_0", ChunkSlot("widgets", 0))
	assert.Equal(t, "widgets_chunk_12", ChunkSlot("widgets", 12))
	assert.Equal(t, "widgets_chunk_", ChunkPrefix("widgets"))
}

func TestParseChunkIndex(t *testing.T) {
	i, ok := ParseChunkIndex("widgets", "widgets_chunk_7")
	assert.True(t, ok)
	assert.Equal(t, 7, i)

	_, ok = ParseChunkIndex("widgets", "widgets_metadata")
	assert.False(t, ok)

	_, ok = ParseChunkIndex("widgets", "gadgets_chunk_7")
	assert.False(t, ok)

	_, ok = ParseChunkIndex("widgets", "widgets_chunk_x")
	assert.False(t, ok)

	_, ok = ParseChunkIndex("widgets", "widgets_chunk_-1")
	assert.False(t, ok)
}
