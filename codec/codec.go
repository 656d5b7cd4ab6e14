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


// Package codec turns collection data into storable envelope text and back.
// The decode path recognizes legacy on-disk shapes: data written before
// encryption was introduced is a bare JSON array and must keep loading.
package codec

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/poiesic/chunkvault/core"
	"github.com/poiesic/chunkvault/safejson"
	"github.com/poiesic/chunkvault/secrets"
	"github.com/poiesic/chunkvault/storage"
)

// Codec wraps the safe serializer and an injected cipher.
type Codec struct {
	cipher   secrets.Cipher
	maxDepth int
}

// New creates a codec. maxDepth <= 0 selects safejson.DefaultMaxDepth.
func New(cipher secrets.Cipher, maxDepth int) *Codec {
	if maxDepth <= 0 {
		maxDepth = safejson.DefaultMaxDepth
	}
	return &Codec{cipher: cipher, maxDepth: maxDepth}
}

// MaxDepth returns the serializer depth bound in effect.
func (c *Codec) MaxDepth() int {
	return c.maxDepth
}

// Serialize runs the safe serializer on v. Never fails.
func (c *Codec) Serialize(v any) []byte {
	return safejson.Marshal(v, c.maxDepth)
}

// EncodeValue serializes v and seals it into envelope JSON.
func (c *Codec) EncodeValue(v any) ([]byte, error) {
	return c.EncodePlaintext(c.Serialize(v))
}

// EncodePlaintext seals already-serialized bytes into envelope JSON.
func (c *Codec) EncodePlaintext(plain []byte) ([]byte, error) {
	env, err := c.cipher.Seal(plain)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// DecodeSlot classifies raw slot bytes and returns the plaintext JSON they
// carry. Envelopes are decrypted; legacy bare arrays pass through as-is;
// anything else reports storage.ErrUnreadablePayload so the caller can fall
// back to its initial value.
func (c *Codec) DecodeSlot(raw []byte) ([]byte, core.PayloadKind, error) {
	kind := core.ClassifyPayload(raw)
	switch kind {
	case core.PayloadEnvelope:
		var env core.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, core.PayloadUnreadable, fmt.Errorf("%w: %v", storage.ErrUnreadablePayload, err)
		}
		plain, err := c.cipher.Open(env)
		if err != nil {
			return nil, kind, fmt.Errorf("open envelope: %w", err)
		}
		return plain, kind, nil

	case core.PayloadLegacyArray:
		return raw, kind, nil

	default:
		return nil, core.PayloadUnreadable, storage.ErrUnreadablePayload
	}
}
