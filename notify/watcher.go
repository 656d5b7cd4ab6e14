package notify

import (
	"context"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/poiesic/chunkvault/core"
	"github.com/poiesic/chunkvault/storage"
)

// UnknownItemCount marks events synthesized from a slot write the watcher
// cannot decode. Subscribers should reload rather than trust the count.
const UnknownItemCount = -1

// MediumWatcher observes the storage medium's native change feed and
// synthesizes change events from it. It is the cross-origin half of the
// notifier: a writer that shares the store without sharing the bus never
// calls Publish, but its slot writes are visible here.
//
// Writes made through a medium wrapped by TrackWrites are this process's
// own and are never re-announced; those subscribers already hear the bus.
type MediumWatcher struct {
	watcher storage.Watcher
	medium  storage.Medium
	logger  *slog.Logger

	mu     sync.Mutex
	local  map[string]int
	subs   map[int]mediumSub
	nextID int
	cancel context.CancelFunc
}

type mediumSub struct {
	collection string
	handler    Handler
}

var _ Notifier = (*MediumWatcher)(nil)

// NewMediumWatcher wraps a medium that exposes its change feed.
func NewMediumWatcher(watcher storage.Watcher, medium storage.Medium, logger *slog.Logger) *MediumWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediumWatcher{
		watcher: watcher,
		medium:  medium,
		logger:  logger,
		local:   make(map[string]int),
		subs:    make(map[int]mediumSub),
	}
}

// TrackWrites wraps m so writes made through the returned medium are
// recognized as self-originated and suppressed by this watcher's
// subscriptions. A storage context does not hear its own writes.
func (w *MediumWatcher) TrackWrites(m storage.Medium) storage.Medium {
	return &trackedMedium{inner: m, watcher: w}
}

// Publish is a no-op: for this transport the slot write itself is the
// signal. Writers publish by writing.
func (w *MediumWatcher) Publish(ctx context.Context, ev core.ChangeEvent) error {
	return nil
}

// Subscribe registers a handler for foreign writes to the collection's
// single slot or manifest slot. The shared feed starts on first use.
func (w *MediumWatcher) Subscribe(ctx context.Context, collection string, h Handler) (CancelFunc, error) {
	w.mu.Lock()
	if w.cancel == nil {
		feedCtx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		go w.run(feedCtx)
	}
	id := w.nextID
	w.nextID++
	w.subs[id] = mediumSub{collection: collection, handler: h}
	w.mu.Unlock()

	remove := func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
	stop := context.AfterFunc(ctx, remove)
	return func() {
		stop()
		remove()
	}, nil
}

func (w *MediumWatcher) run(ctx context.Context) {
	if err := w.watcher.Watch(ctx, []string{""}, w.dispatch); err != nil {
		w.logger.Warn("medium watch ended", "err", err)
	}
}

// dispatch routes one slot-change event to every matching subscription.
// Chunk slot writes never match: the manifest is written last in a chunked
// save, so it is the consistent signal that the layout is complete.
func (w *MediumWatcher) dispatch(slot string) {
	if w.consumeLocal(slot) {
		return
	}

	w.mu.Lock()
	matched := make([]mediumSub, 0, len(w.subs))
	for _, sub := range w.subs {
		if slot == sub.collection || slot == storage.ManifestSlot(sub.collection) {
			matched = append(matched, sub)
		}
	}
	w.mu.Unlock()

	for _, sub := range matched {
		sub.handler(w.synthesize(context.Background(), sub.collection))
	}
}

// synthesize builds the best event the watcher can without the passphrase:
// a manifest yields an exact item count, a single encrypted slot does not.
func (w *MediumWatcher) synthesize(ctx context.Context, collection string) core.ChangeEvent {
	ev := core.ChangeEvent{Key: collection, ItemCount: UnknownItemCount}

	raw, found, err := w.medium.Get(ctx, storage.ManifestSlot(collection))
	if err != nil || !found {
		return ev
	}
	var m core.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return ev
	}
	ev.ItemCount = m.TotalItems
	ev.IsChunked = true
	return ev
}

// Close stops the shared feed; handlers stop receiving events.
func (w *MediumWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	return nil
}

func (w *MediumWatcher) markLocal(slot string) {
	w.mu.Lock()
	w.local[slot]++
	w.mu.Unlock()
}

func (w *MediumWatcher) unmarkLocal(slot string) {
	w.mu.Lock()
	if w.local[slot] > 1 {
		w.local[slot]--
	} else {
		delete(w.local, slot)
	}
	w.mu.Unlock()
}

func (w *MediumWatcher) consumeLocal(slot string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.local[slot] == 0 {
		return false
	}
	if w.local[slot] > 1 {
		w.local[slot]--
	} else {
		delete(w.local, slot)
	}
	return true
}

// trackedMedium marks writes before they commit, so the mark is always in
// place by the time the change feed delivers the matching event.
type trackedMedium struct {
	inner   storage.Medium
	watcher *MediumWatcher
}

var _ storage.Medium = (*trackedMedium)(nil)

func (t *trackedMedium) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.inner.Get(ctx, key)
}

func (t *trackedMedium) Set(ctx context.Context, key string, value []byte) error {
	t.watcher.markLocal(key)
	if err := t.inner.Set(ctx, key, value); err != nil {
		t.watcher.unmarkLocal(key)
		return err
	}
	return nil
}

func (t *trackedMedium) Delete(ctx context.Context, key string) error {
	t.watcher.markLocal(key)
	if err := t.inner.Delete(ctx, key); err != nil {
		t.watcher.unmarkLocal(key)
		return err
	}
	return nil
}

func (t *trackedMedium) Keys(ctx context.Context, prefix string) ([]string, error) {
	return t.inner.Keys(ctx, prefix)
}

func (t *trackedMedium) Close() error {
	return t.inner.Close()
}
