package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/poiesic/chunkvault/storage"
)

// Medium implements storage.Medium over a BadgerDB instance.
type Medium struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ storage.Medium = (*Medium)(nil)
var _ storage.Watcher = (*Medium)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenMedium opens a BadgerDB-backed medium at the specified path.
// Creates the directory if it doesn't exist. Failure here is the signal for
// vaults to degrade to in-memory-only operation.
func OpenMedium(filePath string, inMemory bool) (storage.Medium, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, fmt.Errorf("%w: %v", storage.ErrMediumUnavailable, err)
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", storage.ErrMediumUnavailable, err)
				}
			} else {
				return nil, fmt.Errorf("%w: %v", storage.ErrMediumUnavailable, err)
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", storage.ErrMediumUnavailable, filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	opts.Logger = &badgerLoggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrMediumUnavailable, err)
	}

	return &Medium{
		db:     db,
		logger: slog.Default(),
	}, nil
}

// Close closes the BadgerDB database.
func (m *Medium) Close() error {
	return m.db.Close()
}

// IsClosed returns true if the database is closed.
func (m *Medium) IsClosed() bool {
	return m.db.IsClosed()
}

// withTx executes a function within a BadgerDB transaction.
// The transaction is automatically discarded if fn returns an error.
func (m *Medium) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if m.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx := m.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Get returns the value stored under key.
func (m *Medium) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := m.withTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		found = true
		return nil
	}, false)
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Set stores value under key.
func (m *Medium) Set(ctx context.Context, key string, value []byte) error {
	return m.withTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(key), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Delete removes key. Missing keys are not an error.
func (m *Medium) Delete(ctx context.Context, key string) error {
	return m.withTx(func(tx *badger.Txn) error {
		if err := tx.Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Keys returns all keys with the given prefix.
func (m *Medium) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := m.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, string(iter.Item().KeyCopy(nil)))
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return keys, nil
}
