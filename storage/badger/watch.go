package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
)

// Watch streams the keys of every write or delete under the given prefixes
// to fn until ctx is cancelled. This is the medium's native change feed; a
// second consumer holding the same store sees the same stream, which is what
// makes change notification possible without a broker.
func (m *Medium) Watch(ctx context.Context, prefixes []string, fn func(key string)) error {
	matches := make([]pb.Match, 0, len(prefixes))
	for _, p := range prefixes {
		matches = append(matches, pb.Match{Prefix: []byte(p)})
	}

	err := m.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			fn(string(kv.Key))
		}
		return nil
	}, matches)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
