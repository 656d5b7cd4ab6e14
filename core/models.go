package core

import (
	"bytes"
	"time"

	json "github.com/goccy/go-json"
)

// ManifestVersion is the current on-disk manifest schema version.
const ManifestVersion = "1.0"

// Manifest describes how a named collection is currently laid out in the
// storage medium. A manifest exists if and only if the collection is stored
// in chunked form; its absence tells readers to try the single-entry slot.
type Manifest struct {
	TotalChunks int       `json:"totalChunks"`
	TotalItems  int       `json:"totalItems"`
	LastUpdated time.Time `json:"lastUpdated"`
	Version     string    `json:"version"`
}

// NewManifest builds a manifest for a freshly written chunk layout.
func NewManifest(totalChunks, totalItems int) Manifest {
	return Manifest{
		TotalChunks: totalChunks,
		TotalItems:  totalItems,
		LastUpdated: time.Now().UTC(),
		Version:     ManifestVersion,
	}
}

// Envelope is the encrypted-at-rest representation of a collection or of a
// single chunk. Both fields are base64. The contents are opaque above the
// secrets package.
type Envelope struct {
	IV        string `json:"iv"`
	Encrypted string `json:"encrypted"`
}

// Stats summarizes the current storage layout of a collection. It is
// recomputed on every load and save, never persisted.
type Stats struct {
	IsChunked        bool
	ChunkCount       int
	TotalSize        int64
	CompressionRatio float64
}

// ChangeEvent is broadcast after a collection is rewritten so that other
// holders of the same collection can reload.
type ChangeEvent struct {
	Key       string `json:"key"`
	ItemCount int    `json:"itemCount"`
	IsChunked bool   `json:"isChunked"`
}

// PayloadKind classifies the raw bytes found in a storage slot. Legacy data
// written before encryption was introduced is a bare JSON array; current
// data is an envelope. Everything else is unreadable and triggers fallback
// to the caller's initial value.
type PayloadKind int

const (
	PayloadUnreadable PayloadKind = iota
	PayloadEnvelope
	PayloadLegacyArray
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadEnvelope:
		return "envelope"
	case PayloadLegacyArray:
		return "legacy-array"
	default:
		return "unreadable"
	}
}

// ClassifyPayload determines the payload kind from structural predicates
// rather than from decode attempts, so legacy-format support stays auditable.
func ClassifyPayload(raw []byte) PayloadKind {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return PayloadUnreadable
	}
	switch trimmed[0] {
	case '[':
		if json.Valid(trimmed) {
			return PayloadLegacyArray
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return PayloadUnreadable
		}
		if isJSONString(fields["iv"]) && isJSONString(fields["encrypted"]) {
			return PayloadEnvelope
		}
	}
	return PayloadUnreadable
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) >= 2 && trimmed[0] == '"'
}
