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


// Package notify broadcasts a signal whenever a named collection is
// rewritten, so other holders of the same collection can reload. Two
// transports exist behind one contract: an in-process bus for consumers in
// the same runtime, and passive observation of the storage medium's native
// change feed for consumers in another process sharing the store.
package notify

import (
	"context"
	"errors"

	"github.com/poiesic/chunkvault/core"
)

// Topic is the broadcast channel name shared by every collection consumer.
const Topic = "largeDatasetstorage"

// ErrNotifierClosed indicates the notifier has been shut down.
var ErrNotifierClosed = errors.New("notifier is closed")

// Handler receives change events for a subscribed collection.
type Handler func(core.ChangeEvent)

// CancelFunc tears down one subscription.
type CancelFunc func()

// Notifier is the single contract callers see; the transports differ only
// at the boundary.
type Notifier interface {
	// Publish broadcasts a change event to all subscribers.
	Publish(ctx context.Context, ev core.ChangeEvent) error

	// Subscribe registers a handler for events about one collection.
	// The handler runs on the notifier's goroutine; it should be quick.
	Subscribe(ctx context.Context, collection string, h Handler) (CancelFunc, error)

	// Close shuts the notifier down.
	Close() error
}

// Fanout presents several notifiers as one: publishes go to all of them and
// a subscription spans all of them. Nil members are skipped.
type Fanout struct {
	members []Notifier
}

var _ Notifier = (*Fanout)(nil)

// NewFanout combines notifiers behind the single contract.
func NewFanout(members ...Notifier) *Fanout {
	kept := make([]Notifier, 0, len(members))
	for _, m := range members {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &Fanout{members: kept}
}

func (f *Fanout) Publish(ctx context.Context, ev core.ChangeEvent) error {
	var errs []error
	for _, m := range f.members {
		if err := m.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Subscribe(ctx context.Context, collection string, h Handler) (CancelFunc, error) {
	cancels := make([]CancelFunc, 0, len(f.members))
	for _, m := range f.members {
		cancel, err := m.Subscribe(ctx, collection, h)
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, err
		}
		cancels = append(cancels, cancel)
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}, nil
}

func (f *Fanout) Close() error {
	var errs []error
	for _, m := range f.members {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
