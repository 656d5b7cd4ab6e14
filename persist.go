package chunkvault

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/poiesic/chunkvault/chunker"
	"github.com/poiesic/chunkvault/core"
	"github.com/poiesic/chunkvault/storage"
)

// Load hydrates the vault from storage. It never leaves the vault
// unusable: when the medium is unavailable or the stored data cannot be
// decoded, the collection becomes the initial value and the returned error
// (also retained as LastError) says why. No partially reconstructed
// collection is ever returned from a corrupted read.
func (v *Vault[T]) Load(ctx context.Context) ([]T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = StateLoading

	if v.env.Medium == nil {
		v.logger.Warn("storage medium unavailable, starting from initial value", "collection", v.name)
		v.data = slices.Clone(v.initial)
		v.stats = core.Stats{}
		v.lastErr = storage.ErrMediumUnavailable
		v.state = StateDegraded
		return slices.Clone(v.data), nil
	}

	data, stats, found, err := v.read(ctx)
	if err != nil {
		v.logger.Warn("load failed, falling back to initial value",
			"collection", v.name, "err", err)
		v.data = slices.Clone(v.initial)
		v.stats = core.Stats{}
		v.lastErr = err
		v.state = StateDegraded
		return slices.Clone(v.data), err
	}

	if found {
		v.data = data
	} else {
		v.data = slices.Clone(v.initial)
	}
	v.stats = stats
	v.lastErr = nil
	v.state = StateReady
	return slices.Clone(v.data), nil
}

// Save replaces the collection and mirrors it to storage. The in-memory
// collection is updated before persistence is attempted; a persistence
// failure retains the new data, records the error, and returns it.
// Persistence is best-effort, never a rollback.
func (v *Vault[T]) Save(ctx context.Context, next []T) error {
	return v.save(ctx, func([]T) []T { return next })
}

// Update applies fn to the current collection and mirrors the result to
// storage, with the same semantics as Save.
func (v *Vault[T]) Update(ctx context.Context, fn func(prev []T) []T) error {
	return v.save(ctx, fn)
}

func (v *Vault[T]) save(ctx context.Context, resolve func([]T) []T) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := resolve(v.data)
	v.data = next

	if v.env.Medium == nil {
		v.stats = core.Stats{}
		v.state = StateDegraded
		return nil
	}

	plain := v.codec.Serialize(next)

	var err error
	if v.planner.Plan(len(next), len(plain)) {
		err = v.writeChunked(ctx, next, len(plain))
	} else {
		err = v.writeSingle(ctx, plain)
	}
	if err != nil {
		v.logger.Error("save failed, keeping in-memory collection",
			"collection", v.name, "items", len(next), "err", err)
		v.lastErr = err
		v.state = StateDegraded
		return err
	}

	v.lastErr = nil
	v.state = StateReady
	v.publish(ctx, len(next))
	return nil
}

// read resolves the stored layout: manifest first, then the legacy single
// slot. found is false when neither layout exists.
func (v *Vault[T]) read(ctx context.Context) (data []T, stats core.Stats, found bool, err error) {
	manifest, haveManifest, err := v.readManifest(ctx)
	if err != nil {
		return nil, core.Stats{}, false, err
	}
	if haveManifest {
		items, stored, err := v.readChunks(ctx, manifest)
		if err != nil {
			return nil, core.Stats{}, false, err
		}
		if len(items) != manifest.TotalItems {
			// Tolerated: the manifest count is only guaranteed at the moment
			// of the last fully successful write.
			v.logger.Warn("manifest item count differs from chunk contents",
				"collection", v.name, "manifest", manifest.TotalItems, "actual", len(items))
		}
		stats = core.Stats{
			IsChunked:        true,
			ChunkCount:       manifest.TotalChunks,
			TotalSize:        stored,
			CompressionRatio: ratio(stored, int64(len(v.codec.Serialize(items)))),
		}
		return items, stats, true, nil
	}

	raw, haveSingle, err := v.env.Medium.Get(ctx, storage.SingleSlot(v.name))
	if err != nil {
		return nil, core.Stats{}, false, err
	}
	if !haveSingle {
		return nil, core.Stats{}, false, nil
	}

	plain, kind, err := v.codec.DecodeSlot(raw)
	if err != nil {
		return nil, core.Stats{}, false, fmt.Errorf("single slot: %w", err)
	}
	if kind == core.PayloadLegacyArray {
		v.logger.Info("loaded legacy plaintext entry, next save will rewrite it",
			"collection", v.name)
	}
	var items []T
	if err := json.Unmarshal(plain, &items); err != nil {
		return nil, core.Stats{}, false, fmt.Errorf("single slot: %w", err)
	}
	stats = core.Stats{
		TotalSize:        int64(len(raw)),
		CompressionRatio: ratio(int64(len(raw)), int64(len(plain))),
	}
	return items, stats, true, nil
}

func (v *Vault[T]) readManifest(ctx context.Context) (core.Manifest, bool, error) {
	raw, found, err := v.env.Medium.Get(ctx, storage.ManifestSlot(v.name))
	if err != nil || !found {
		return core.Manifest{}, false, err
	}
	var m core.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return core.Manifest{}, false, fmt.Errorf("manifest: %w", err)
	}
	if m.TotalChunks < 0 {
		return core.Manifest{}, false, fmt.Errorf("manifest: negative chunk count %d", m.TotalChunks)
	}
	return m, true, nil
}

// readChunks reads and decodes chunk slots 0..TotalChunks-1 concurrently,
// then concatenates them in index order. Any failure aborts the whole read.
func (v *Vault[T]) readChunks(ctx context.Context, m core.Manifest) ([]T, int64, error) {
	chunks := make([][]T, m.TotalChunks)
	sizes := make([]int64, m.TotalChunks)
	errs := make([]error, m.TotalChunks)

	var wg sync.WaitGroup
	for i := 0; i < m.TotalChunks; i++ {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			slot := storage.ChunkSlot(v.name, i)
			raw, found, err := v.env.Medium.Get(ctx, slot)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", slot, err)
				return
			}
			if !found {
				errs[i] = fmt.Errorf("%s: %w", slot, storage.ErrChunkMissing)
				return
			}
			plain, _, err := v.codec.DecodeSlot(raw)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", slot, err)
				return
			}
			var items []T
			if err := json.Unmarshal(plain, &items); err != nil {
				errs[i] = fmt.Errorf("%s: %w", slot, err)
				return
			}
			chunks[i] = items
			sizes[i] = int64(len(raw))
		}
		if perr := v.pool.Submit(task); perr != nil {
			task() // pool exhausted or released, run inline
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, 0, err
	}
	var stored int64
	for _, s := range sizes {
		stored += s
	}
	return chunker.Merge(chunks), stored, nil
}

// writeChunked stores the collection as chunk slots plus a manifest. The
// manifest is written last: a reader that sees it sees a complete chunk
// set, and a partial-write failure leaves the manifest absent so readers
// fall back instead of reading truncated data.
func (v *Vault[T]) writeChunked(ctx context.Context, next []T, plainBytes int) error {
	// A stale single-entry slot must not survive a chunked write.
	if err := v.env.Medium.Delete(ctx, storage.SingleSlot(v.name)); err != nil {
		return fmt.Errorf("clear single slot: %w", err)
	}

	parts := chunker.Split(next, v.planner.ChunkSize)
	encoded := make([][]byte, len(parts))
	errs := make([]error, len(parts))

	var wg sync.WaitGroup
	for i := range parts {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			encoded[i], errs[i] = v.codec.EncodeValue(parts[i])
		}
		if perr := v.pool.Submit(task); perr != nil {
			task()
		}
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}

	var stored int64
	for i, buf := range encoded {
		if err := v.env.Medium.Set(ctx, storage.ChunkSlot(v.name, i), buf); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
		stored += int64(len(buf))
	}

	manifest, err := json.Marshal(core.NewManifest(len(parts), len(next)))
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := v.env.Medium.Set(ctx, storage.ManifestSlot(v.name), manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	stored += int64(len(manifest))

	// Chunks beyond the new count are residue from a larger layout. The
	// manifest already bounds what readers touch, so a sweep failure is
	// not a save failure.
	if err := v.sweepChunks(ctx, len(parts)); err != nil {
		v.logger.Warn("orphaned chunk cleanup failed", "collection", v.name, "err", err)
	}

	v.stats = core.Stats{
		IsChunked:        true,
		ChunkCount:       len(parts),
		TotalSize:        stored,
		CompressionRatio: ratio(stored, int64(plainBytes)),
	}
	return nil
}

// writeSingle stores the collection as one envelope slot, clearing any
// chunked residue first so no reader sees a manifest pointing at deleted
// chunks.
func (v *Vault[T]) writeSingle(ctx context.Context, plain []byte) error {
	if err := v.env.Medium.Delete(ctx, storage.ManifestSlot(v.name)); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}
	if err := v.sweepChunks(ctx, 0); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	envelope, err := v.codec.EncodePlaintext(plain)
	if err != nil {
		return err
	}
	if err := v.env.Medium.Set(ctx, storage.SingleSlot(v.name), envelope); err != nil {
		return fmt.Errorf("write single slot: %w", err)
	}

	v.stats = core.Stats{
		TotalSize:        int64(len(envelope)),
		CompressionRatio: ratio(int64(len(envelope)), int64(len(plain))),
	}
	return nil
}

// sweepChunks deletes every chunk slot with index >= keep.
func (v *Vault[T]) sweepChunks(ctx context.Context, keep int) error {
	slots, err := v.env.Medium.Keys(ctx, storage.ChunkPrefix(v.name))
	if err != nil {
		return err
	}
	for _, slot := range slots {
		idx, ok := storage.ParseChunkIndex(v.name, slot)
		if !ok || idx < keep {
			continue
		}
		if err := v.env.Medium.Delete(ctx, slot); err != nil {
			return fmt.Errorf("delete %s: %w", slot, err)
		}
	}
	return nil
}

func (v *Vault[T]) publish(ctx context.Context, itemCount int) {
	if v.env.Notifier == nil {
		return
	}
	ev := core.ChangeEvent{Key: v.name, ItemCount: itemCount, IsChunked: v.stats.IsChunked}
	if err := v.env.Notifier.Publish(ctx, ev); err != nil {
		v.logger.Warn("change notification failed", "collection", v.name, "err", err)
	}
}

// ratio is stored bytes over plaintext bytes; encryption and base64 keep it
// above 1 in practice.
func ratio(stored, plain int64) float64 {
	if plain <= 0 {
		return 0
	}
	return float64(stored) / float64(plain)
}
