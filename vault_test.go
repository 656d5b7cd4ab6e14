package chunkvault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chunkvault/chunker"
	"github.com/poiesic/chunkvault/core"
	"github.com/poiesic/chunkvault/notify"
	"github.com/poiesic/chunkvault/storage"
	"github.com/poiesic/chunkvault/storage/badger"
)

type widget struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func makeWidgets(n int) []widget {
	out := make([]widget, n)
	for i := range out {
		out[i] = widget{ID: i, Name: fmt.Sprintf("widget-%d", i)}
	}
	return out
}

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	medium, err := badger.NewMemoryMedium()
	require.NoError(t, err)
	env := &Environment{
		Medium:   medium,
		Notifier: notify.NewBus(nil),
		Logger:   slog.Default(),
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func newTestVault(t *testing.T, env *Environment, opts ...Option) *Vault[widget] {
	t.Helper()
	v, err := New[widget](env, "widgets", "test-passphrase", nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestNew_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := New[widget](nil, "widgets", "pass", nil)
	assert.ErrorIs(t, err, ErrEnvironmentRequired)

	_, err = New[widget](env, "", "pass", nil)
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = New[widget](env, "widgets", "", nil)
	assert.Error(t, err)
}

func TestLoad_EmptyStoreReturnsInitial(t *testing.T) {
	env := newTestEnv(t)
	initial := []widget{{ID: 99, Name: "seed"}}
	v, err := New[widget](env, "widgets", "pass", initial)
	require.NoError(t, err)
	defer v.Close()

	data, err := v.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, initial, data)
	assert.Equal(t, StateReady, v.State())
	assert.NoError(t, v.LastError())
}

func TestSaveLoad_SingleEntryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	in := makeWidgets(50)
	require.NoError(t, v.Save(ctx, in))

	stats := v.Stats()
	assert.False(t, stats.IsChunked)
	assert.Zero(t, stats.ChunkCount)
	assert.Greater(t, stats.TotalSize, int64(0))

	// A second vault over the same store reads the same collection.
	other := newTestVault(t, env)
	out, err := other.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, other.Stats().IsChunked)
}

func TestSaveLoad_ChunkedRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	in := makeWidgets(1200)
	require.NoError(t, v.Save(ctx, in))

	stats := v.Stats()
	assert.True(t, stats.IsChunked)
	assert.Equal(t, 3, stats.ChunkCount)

	other := newTestVault(t, env)
	out, err := other.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, other.Stats().IsChunked)
	assert.Equal(t, 3, other.Stats().ChunkCount)
}

func TestSave_ChunkLayout(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(1200)))

	// widgets_chunk_0..2 present, sizes 500/500/200, plus a manifest,
	// and no single-entry slot.
	_, found, err := env.Medium.Get(ctx, "widgets")
	require.NoError(t, err)
	assert.False(t, found)

	raw, found, err := env.Medium.Get(ctx, "widgets_metadata")
	require.NoError(t, err)
	require.True(t, found)
	var m core.Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, 3, m.TotalChunks)
	assert.Equal(t, 1200, m.TotalItems)
	assert.Equal(t, core.ManifestVersion, m.Version)

	for i := 0; i < 3; i++ {
		_, found, err := env.Medium.Get(ctx, fmt.Sprintf("widgets_chunk_%d", i))
		require.NoError(t, err)
		assert.True(t, found, "chunk %d missing", i)
	}
	_, found, err = env.Medium.Get(ctx, "widgets_chunk_3")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSave_ThresholdBoundary(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(1000)))
	assert.False(t, v.Stats().IsChunked, "exactly the threshold must stay unchunked")

	require.NoError(t, v.Save(ctx, makeWidgets(1001)))
	assert.True(t, v.Stats().IsChunked, "one past the threshold must chunk")
}

func TestSave_ByteTriggerChunksSmallCollections(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env, WithPlanner(chunker.Planner{
		ItemThreshold: 1000,
		ChunkSize:     2,
		MaxEntryBytes: 64,
	}))
	ctx := context.Background()

	// Five records whose serialized form exceeds the byte cap.
	in := makeWidgets(5)
	require.NoError(t, v.Save(ctx, in))
	assert.True(t, v.Stats().IsChunked)

	out, err := newTestVault(t, env, WithPlanner(chunker.Planner{
		ItemThreshold: 1000,
		ChunkSize:     2,
		MaxEntryBytes: 64,
	})).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSave_ShrinkCleansUpChunks(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(2000))) // 4 chunks
	assert.Equal(t, 4, v.Stats().ChunkCount)

	require.NoError(t, v.Save(ctx, makeWidgets(10)))
	assert.False(t, v.Stats().IsChunked)

	for i := 0; i < 4; i++ {
		_, found, err := env.Medium.Get(ctx, fmt.Sprintf("widgets_chunk_%d", i))
		require.NoError(t, err)
		assert.False(t, found, "chunk %d must be deleted", i)
	}
	_, found, err := env.Medium.Get(ctx, "widgets_metadata")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = env.Medium.Get(ctx, "widgets")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSave_GrowThenShrinkChunked(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(2000))) // chunks 0..3
	require.NoError(t, v.Save(ctx, makeWidgets(1100))) // chunks 0..2

	_, found, err := env.Medium.Get(ctx, "widgets_chunk_3")
	require.NoError(t, err)
	assert.False(t, found, "orphaned high-index chunk must be deleted")

	out, err := newTestVault(t, env).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, out, 1100)
}

func TestLoad_LegacyPlaintextArray(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legacy := makeWidgets(7)
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, env.Medium.Set(ctx, "widgets", raw))

	v := newTestVault(t, env)
	out, err := v.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, legacy, out)
	assert.Equal(t, StateReady, v.State())

	// The next save rewrites the slot in the current envelope format.
	require.NoError(t, v.Save(ctx, out))
	stored, _, err := env.Medium.Get(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, core.PayloadEnvelope, core.ClassifyPayload(stored))
}

func TestLoad_CorruptedSingleSlotFallsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.Medium.Set(ctx, "widgets", []byte("not a recognized shape")))

	initial := []widget{{ID: 1, Name: "fallback"}}
	v, err := New[widget](env, "widgets", "pass", initial)
	require.NoError(t, err)
	defer v.Close()

	out, err := v.Load(ctx)
	assert.Error(t, err)
	assert.Equal(t, initial, out)
	assert.Equal(t, StateDegraded, v.State())
	assert.ErrorIs(t, v.LastError(), storage.ErrUnreadablePayload)
}

func TestLoad_MissingChunkFallsBack(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(1200))) // 3 chunks
	require.NoError(t, env.Medium.Delete(ctx, "widgets_chunk_1"))

	initial := []widget{{ID: 1, Name: "fallback"}}
	reader, err := New[widget](env, "widgets", "test-passphrase", initial)
	require.NoError(t, err)
	defer reader.Close()

	out, err := reader.Load(ctx)
	assert.ErrorIs(t, err, storage.ErrChunkMissing)
	assert.Equal(t, initial, out, "no partial collection may be returned")
	assert.Equal(t, StateDegraded, reader.State())
}

func TestLoad_CorruptedChunkFallsBack(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(1200)))
	require.NoError(t, env.Medium.Set(ctx, "widgets_chunk_1", []byte("garbage")))

	reader := newTestVault(t, env)
	out, err := reader.Load(ctx)
	assert.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, StateDegraded, reader.State())
}

func TestLoad_WrongPassphraseFallsBack(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()
	require.NoError(t, v.Save(ctx, makeWidgets(5)))

	stranger, err := New[widget](env, "widgets", "wrong-passphrase", nil)
	require.NoError(t, err)
	defer stranger.Close()

	out, err := stranger.Load(ctx)
	assert.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, StateDegraded, stranger.State())
}

func TestUpdate_ResolvesAgainstCurrent(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	require.NoError(t, v.Save(ctx, makeWidgets(3)))
	require.NoError(t, v.Update(ctx, func(prev []widget) []widget {
		return append(prev, widget{ID: 100, Name: "appended"})
	}))

	assert.Len(t, v.Data(), 4)

	out, err := newTestVault(t, env).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assert.Equal(t, "appended", out[3].Name)
}

func TestSave_NotifiesSubscriber(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	var mu sync.Mutex
	var events []core.ChangeEvent
	cancel, err := v.Subscribe(ctx, func(ev core.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, v.Save(ctx, makeWidgets(1200)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "widgets", events[0].Key)
	assert.Equal(t, 1200, events[0].ItemCount)
	assert.True(t, events[0].IsChunked)
}

func TestNewEnvironment_SaveNotifiesExactlyOnce(t *testing.T) {
	env := NewEnvironment("", true, slog.Default())
	t.Cleanup(func() { env.Close() })

	v, err := New[widget](env, "widgets", "pass", nil)
	require.NoError(t, err)
	defer v.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var events []core.ChangeEvent
	cancel, err := v.Subscribe(ctx, func(ev core.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	// The full notifier wiring is in play here: the bus announces the save
	// and the medium watcher must not re-announce our own slot writes.
	require.NoError(t, v.Save(ctx, makeWidgets(1200)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, 1200, events[0].ItemCount)
	assert.True(t, events[0].IsChunked)
	mu.Unlock()

	// A second save is one more event, not a backlog of duplicates.
	require.NoError(t, v.Save(ctx, makeWidgets(10)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	assert.Len(t, events, 2)
	assert.Equal(t, 10, events[1].ItemCount)
	mu.Unlock()
}

func TestSave_OtherCollectionNotNotified(t *testing.T) {
	env := newTestEnv(t)
	widgets := newTestVault(t, env)
	gadgets, err := New[widget](env, "gadgets", "pass", nil)
	require.NoError(t, err)
	defer gadgets.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	cancel, err := gadgets.Subscribe(ctx, func(core.ChangeEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, widgets.Save(ctx, makeWidgets(5)))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestVault_MediumUnavailableDegrades(t *testing.T) {
	env := &Environment{Notifier: notify.NewBus(nil), Logger: slog.Default()}
	t.Cleanup(func() { env.Close() })

	initial := []widget{{ID: 1, Name: "seed"}}
	v, err := New[widget](env, "widgets", "pass", initial)
	require.NoError(t, err)
	defer v.Close()

	ctx := context.Background()
	data, err := v.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, initial, data)
	assert.Equal(t, StateDegraded, v.State())
	assert.ErrorIs(t, v.LastError(), storage.ErrMediumUnavailable)

	// Saves still update the in-memory collection without failing.
	require.NoError(t, v.Save(ctx, makeWidgets(10)))
	assert.Len(t, v.Data(), 10)
}

func TestCollections_DoNotShareKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	widgets := newTestVault(t, env)
	require.NoError(t, widgets.Save(ctx, makeWidgets(5)))

	// Same passphrase, different collection: the stored envelope must not
	// open under the gadgets-derived key.
	raw, found, err := env.Medium.Get(ctx, "widgets")
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, env.Medium.Set(ctx, "gadgets", raw))

	gadgets, err := New[widget](env, "gadgets", "test-passphrase", nil)
	require.NoError(t, err)
	defer gadgets.Close()

	_, err = gadgets.Load(ctx)
	assert.Error(t, err)
	assert.Equal(t, StateDegraded, gadgets.State())
}

func TestStats_CompressionRatio(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)

	require.NoError(t, v.Save(context.Background(), makeWidgets(20)))

	// Encryption plus base64 always inflates the stored form.
	assert.Greater(t, v.Stats().CompressionRatio, 1.0)
}

func TestStateTransitions(t *testing.T) {
	env := newTestEnv(t)
	v := newTestVault(t, env)
	ctx := context.Background()

	assert.Equal(t, StateUninitialized, v.State())

	_, err := v.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, v.State())

	require.NoError(t, v.Save(ctx, makeWidgets(2)))
	assert.Equal(t, StateReady, v.State())
}
