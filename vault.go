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


// Package chunkvault persists one named, ordered collection of records per
// vault into a key-value storage medium with a practical per-entry size
// ceiling. Collections are encrypted at rest, split into chunks when they
// grow, and legacy plaintext entries written before encryption existed keep
// loading. The in-memory collection is always authoritative for the current
// process; storage is a best-effort mirror written on every mutating call.
package chunkvault

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/chunkvault/chunker"
	"github.com/poiesic/chunkvault/codec"
	"github.com/poiesic/chunkvault/config"
	"github.com/poiesic/chunkvault/core"
	"github.com/poiesic/chunkvault/notify"
	"github.com/poiesic/chunkvault/secrets"
	"github.com/poiesic/chunkvault/storage"
	"github.com/poiesic/chunkvault/storage/badger"
)

var (
	// ErrNameRequired indicates a vault was requested without a collection name.
	ErrNameRequired = errors.New("collection name required")

	// ErrEnvironmentRequired indicates a vault was requested without an environment.
	ErrEnvironmentRequired = errors.New("environment required")
)

// State is the lifecycle of a vault.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Environment owns the process-wide collaborators every vault shares: the
// storage medium and the change notifier. It is an explicit, constructible
// object so tests can run isolated instances instead of sharing globals.
type Environment struct {
	Medium   storage.Medium
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// NewEnvironment opens a BadgerDB-backed medium at path and wires the
// default notifier pair: in-process bus plus medium watcher. When the
// medium cannot be opened the environment is still usable; vaults degrade
// to in-memory-only operation instead of failing.
func NewEnvironment(path string, inMemory bool, logger *slog.Logger) *Environment {
	if logger == nil {
		logger = slog.Default()
	}
	env := &Environment{Logger: logger}

	medium, err := badger.OpenMedium(path, inMemory)
	if err != nil {
		logger.Warn("storage medium unavailable, vaults will not persist", "path", path, "err", err)
		env.Notifier = notify.NewBus(logger)
		return env
	}
	env.Medium = medium

	members := []notify.Notifier{notify.NewBus(logger)}
	if watcher, ok := medium.(storage.Watcher); ok {
		mw := notify.NewMediumWatcher(watcher, medium, logger)
		// Writes through this environment announce themselves on the bus;
		// the watcher must not re-announce them or subscribers would hear
		// every save twice.
		env.Medium = mw.TrackWrites(medium)
		members = append(members, mw)
	}
	env.Notifier = notify.NewFanout(members...)
	return env
}

// Close releases the notifier and the medium.
func (e *Environment) Close() error {
	var errs []error
	if e.Notifier != nil {
		if err := e.Notifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.Medium != nil {
		if err := e.Medium.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Vault is the persistence gateway for one named collection of records of
// type T. The vault never interprets record contents.
//
// Concurrent writers in other processes follow last-write-wins semantics
// per slot; there is no cross-process conflict detection, deliberately.
type Vault[T any] struct {
	name    string
	env     *Environment
	codec   *codec.Codec
	planner chunker.Planner
	pool    *ants.Pool
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	data    []T
	initial []T
	stats   core.Stats
	lastErr error
}

// Option configures a vault.
type Option func(*vaultOptions)

type vaultOptions struct {
	planner  chunker.Planner
	maxDepth int
	poolSize int
	logger   *slog.Logger
}

// WithPlanner overrides the chunking thresholds.
func WithPlanner(p chunker.Planner) Option {
	return func(o *vaultOptions) { o.planner = p }
}

// WithMaxDepth overrides the serializer depth bound.
func WithMaxDepth(depth int) Option {
	return func(o *vaultOptions) { o.maxDepth = depth }
}

// WithPoolSize sets the worker pool size for concurrent chunk encode and
// decode. Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *vaultOptions) { o.poolSize = size }
}

// WithLogger sets a custom logger. Default is the environment's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *vaultOptions) { o.logger = logger }
}

// WithConfig applies the planner thresholds and serializer depth from a
// loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *vaultOptions) {
		o.planner = cfg.Planner()
		o.maxDepth = cfg.MaxDepth
	}
}

// New creates a vault for the named collection. The passphrase keys the
// at-rest encryption; the derived key is scoped to the collection name.
// initial is returned by Load when nothing usable is stored yet.
func New[T any](env *Environment, name, passphrase string, initial []T, opts ...Option) (*Vault[T], error) {
	if env == nil {
		return nil, ErrEnvironmentRequired
	}
	if name == "" {
		return nil, ErrNameRequired
	}

	o := &vaultOptions{
		planner: chunker.Default(),
		logger:  env.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.poolSize < 1 {
		o.poolSize = runtime.NumCPU() / 2
		if o.poolSize < 1 {
			o.poolSize = 1
		}
	}

	cipher, err := secrets.NewAESGCM(passphrase, name)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, err
	}

	return &Vault[T]{
		name:    name,
		env:     env,
		codec:   codec.New(cipher, o.maxDepth),
		planner: o.planner,
		pool:    pool,
		logger:  o.logger,
		state:   StateUninitialized,
		initial: initial,
	}, nil
}

// Name returns the collection name.
func (v *Vault[T]) Name() string {
	return v.name
}

// Data returns a copy of the current in-memory collection.
func (v *Vault[T]) Data() []T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.data)
}

// Stats returns the storage layout observed by the last load or save.
func (v *Vault[T]) Stats() core.Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// State returns the vault's lifecycle state.
func (v *Vault[T]) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// LastError returns the retained error from the last failed load or save,
// or nil. The in-memory collection stays valid even when this is set.
func (v *Vault[T]) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Subscribe registers a handler for change events about this collection,
// whichever transport they arrive on.
func (v *Vault[T]) Subscribe(ctx context.Context, h notify.Handler) (notify.CancelFunc, error) {
	if v.env.Notifier == nil {
		return func() {}, nil
	}
	return v.env.Notifier.Subscribe(ctx, v.name, h)
}

// Close releases the vault's worker pool. The environment is shared and
// closed separately.
func (v *Vault[T]) Close() error {
	v.pool.Release()
	return nil
}
