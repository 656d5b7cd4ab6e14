package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Slot name suffixes for the chunked layout.
const (
	manifestSuffix = "_metadata"
	chunkInfix     = "_chunk_"
)

// SingleSlot names the legacy/unchunked entry for a collection.
func SingleSlot(collection string) string {
	return collection
}

// ManifestSlot names the manifest entry for a collection.
func ManifestSlot(collection string) string {
	return collection + manifestSuffix
}

// ChunkSlot names chunk i of a collection.
func ChunkSlot(collection string, i int) string {
	return fmt.Sprintf("%s%s%d", collection, chunkInfix, i)
}

// ChunkPrefix is the common prefix of every chunk slot of a collection.
func ChunkPrefix(collection string) string {
	return collection + chunkInfix
}

// ParseChunkIndex extracts the chunk index from a slot name. The boolean is
// false when slot is not a chunk slot of the given collection.
func ParseChunkIndex(collection, slot string) (int, bool) {
	rest, found := strings.CutPrefix(slot, ChunkPrefix(collection))
	if !found {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}
