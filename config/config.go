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


// Package config loads vault tunables: defaults first, then an optional
// YAML file, then CHUNKVAULT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/poiesic/chunkvault/chunker"
	"github.com/poiesic/chunkvault/safejson"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// CHUNKVAULT_CHUNK_SIZE=250.
const EnvPrefix = "CHUNKVAULT_"

// Config holds the recognized tunables.
type Config struct {
	// Path is the storage medium directory. Empty selects in-memory mode.
	Path string `koanf:"path"`

	// ItemThreshold is the item count above which a collection is chunked.
	ItemThreshold int `koanf:"item_threshold"`

	// ChunkSize is the number of items per chunk.
	ChunkSize int `koanf:"chunk_size"`

	// MaxEntryBytes is the serialized-size chunking trigger.
	MaxEntryBytes int `koanf:"max_entry_bytes"`

	// MaxDepth bounds the safe serializer's traversal.
	MaxDepth int `koanf:"max_depth"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		ItemThreshold: chunker.DefaultItemThreshold,
		ChunkSize:     chunker.DefaultChunkSize,
		MaxEntryBytes: chunker.DefaultMaxEntryBytes,
		MaxDepth:      safejson.DefaultMaxDepth,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist), and environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the planner and serializer cannot work with.
func (c *Config) Validate() error {
	if c.ItemThreshold <= 0 {
		return fmt.Errorf("item_threshold must be positive, got %d", c.ItemThreshold)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxEntryBytes <= 0 {
		return fmt.Errorf("max_entry_bytes must be positive, got %d", c.MaxEntryBytes)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	return nil
}

// Planner builds a chunk planner from the configured thresholds.
func (c *Config) Planner() chunker.Planner {
	return chunker.Planner{
		ItemThreshold: c.ItemThreshold,
		ChunkSize:     c.ChunkSize,
		MaxEntryBytes: c.MaxEntryBytes,
	}
}
