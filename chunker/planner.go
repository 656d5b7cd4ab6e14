// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package chunker decides whether a collection must be split across multiple
// storage entries and performs the split and merge. Chunking is a storage
// layout detail only: ordering is fully preserved, and merging the chunks of
// a split yields the original collection.
package chunker

const (
	// DefaultItemThreshold is the item count above which a collection is chunked.
	DefaultItemThreshold = 1000

	// DefaultChunkSize is the number of items per chunk.
	DefaultChunkSize = 500

	// DefaultMaxEntryBytes is the serialized-size trigger for chunking (5 MiB).
	DefaultMaxEntryBytes = 5 * 1024 * 1024
)

// Planner holds the chunking thresholds. Either trigger alone forces a
// split: a few very large records and many small records are both failure
// modes for a single storage entry, and the failure mode being defended
// against is an outright write failure, so triggering early is cheap and
// triggering late is fatal.
type Planner struct {
	ItemThreshold int
	ChunkSize     int
	MaxEntryBytes int
}

// Default returns a planner with the stock thresholds.
func Default() Planner {
	return Planner{
		ItemThreshold: DefaultItemThreshold,
		ChunkSize:     DefaultChunkSize,
		MaxEntryBytes: DefaultMaxEntryBytes,
	}
}

// Plan reports whether a collection of itemCount items, serializing to
// estimatedBytes, must be stored chunked. The byte estimate is computed from
// the unencrypted serialized text and is therefore approximate against the
// medium's real limit, not a hard bound.
func (p Planner) Plan(itemCount, estimatedBytes int) bool {
	return itemCount > p.ItemThreshold || estimatedBytes > p.MaxEntryBytes
}

// ChunkCount returns the number of chunks a collection of itemCount items
// splits into: ceil(itemCount / ChunkSize).
func (p Planner) ChunkCount(itemCount int) int {
	if itemCount <= 0 {
		return 0
	}
	return (itemCount + p.ChunkSize - 1) / p.ChunkSize
}

// Split partitions items into fixed-size runs in original order. The last
// run may be shorter. The returned chunks alias the input slice.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// Merge concatenates chunks in ascending index order. No reordering or
// deduplication is performed.
func Merge[T any](chunks [][]T) []T {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	merged := make([]T, 0, total)
	for _, c := range chunks {
		merged = append(merged, c...)
	}
	return merged
}
