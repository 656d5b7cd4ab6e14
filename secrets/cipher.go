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


// Package secrets provides the symmetric encryption service behind the
// storage codec. The vault layers above treat the envelope as opaque.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-crypt/x/blake2b"
	"golang.org/x/crypto/pbkdf2"

	"github.com/poiesic/chunkvault/core"
)

var (
	// ErrEmptyPassphrase indicates a cipher was requested without a passphrase.
	ErrEmptyPassphrase = errors.New("passphrase must not be empty")

	// ErrMalformedEnvelope indicates envelope fields that are not valid base64.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecryptFailed indicates authentication or decryption failure.
	ErrDecryptFailed = errors.New("decryption failed")
)

const (
	keyBytes      = 32
	keyIterations = 210_000
	saltBytes     = 16
)

// Cipher seals plaintext into an at-rest envelope and opens it again.
type Cipher interface {
	Seal(plaintext []byte) (core.Envelope, error)
	Open(env core.Envelope) ([]byte, error)
}

type aesGCM struct {
	aead cipher.AEAD
}

var _ Cipher = (*aesGCM)(nil)

// NewAESGCM returns an AES-256-GCM cipher keyed for one named collection.
// The salt is a BLAKE2b digest of the collection name, so two collections
// under the same passphrase never share a key.
func NewAESGCM(passphrase, collection string) (Cipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	key := pbkdf2.Key([]byte(passphrase), collectionSalt(collection), keyIterations, keyBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}
	return &aesGCM{aead: aead}, nil
}

// collectionSalt derives a stable per-collection salt from the name.
func collectionSalt(collection string) []byte {
	h, _ := blake2b.New(saltBytes, nil)
	h.Write([]byte(collection))
	return h.Sum(nil)
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *aesGCM) Seal(plaintext []byte) (core.Envelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return core.Envelope{}, fmt.Errorf("nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return core.Envelope{
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Open decrypts an envelope produced by Seal.
func (c *aesGCM) Open(env core.Envelope) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv: %v", ErrMalformedEnvelope, err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: iv length %d", ErrMalformedEnvelope, len(nonce))
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedEnvelope, err)
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}
