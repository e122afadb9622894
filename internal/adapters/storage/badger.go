package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/ports"
)

// BadgerStore is the default, embeddable Storage Port adapter (D1). It is
// grounded on the teacher's AppStorage: the same "v:<key>" companion-record
// versioning scheme and "ttl:<key>" expiry scheme, minus the raft `Apply`
// forwarding branch — every write commits directly to the local Badger
// transaction, since this module has no leader to forward to (cross-process
// coordination is out of scope, see DESIGN.md).
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore wraps an already-opened Badger database.
func NewBadgerStore(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger.With("component", "badger-store")}
}

func versionKeyOf(key string) string { return "v:" + key }
func ttlKeyOf(key string) string     { return "ttl:" + key }

func isMetadataKey(key string) bool {
	if len(key) >= 2 && key[:2] == "v:" {
		return true
	}
	if len(key) >= 4 && key[:4] == "ttl:" {
		return true
	}
	return false
}

func readVersion(txn *badger.Txn, key string) (int64, bool, error) {
	item, err := txn.Get([]byte(versionKeyOf(key)))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	var version int64
	if err := json.Unmarshal(raw, &version); err != nil {
		return 0, false, err
	}
	return version, true, nil
}

func writeVersion(txn *badger.Txn, key string, version int64) error {
	raw, err := json.Marshal(version)
	if err != nil {
		return err
	}
	return txn.Set([]byte(versionKeyOf(key)), raw)
}

func (s *BadgerStore) Get(key string) (value []byte, version int64, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(key))
		if getErr != nil {
			if errors.Is(getErr, badger.ErrKeyNotFound) {
				return nil
			}
			return getErr
		}
		exists = true
		value, getErr = item.ValueCopy(nil)
		if getErr != nil {
			return getErr
		}
		v, _, verErr := readVersion(txn, key)
		if verErr != nil {
			return verErr
		}
		version = v
		return nil
	})
	return value, version, exists, err
}

// Put implements optimistic-version CAS: the caller's version must equal
// the current stored version plus one (or be 1 when the key is absent).
// Anything else fails with a StorageError whose detail contains
// "version mismatch", the sentinel string lease_manager.go's
// isVersionMismatch scans for.
func (s *BadgerStore) Put(key string, value []byte, version int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		current, exists, err := readVersion(txn, key)
		if err != nil {
			return err
		}
		expected := int64(1)
		if exists {
			expected = current + 1
		}
		if version != expected {
			return domain.NewStorageError("version mismatch", domain.ErrVersionMismatch)
		}
		if err := txn.Set([]byte(key), value); err != nil {
			return err
		}
		return writeVersion(txn, key, version)
	})
}

func (s *BadgerStore) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	if err := s.Put(key, value, version); err != nil {
		return err
	}
	return s.ExpireAt(key, time.Now().Add(ttl))
}

func (s *BadgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_ = txn.Delete([]byte(key))
		_ = txn.Delete([]byte(versionKeyOf(key)))
		_ = txn.Delete([]byte(ttlKeyOf(key)))
		return nil
	})
}

func (s *BadgerStore) Exists(key string) (bool, error) {
	_, _, exists, err := s.Get(key)
	return exists, err
}

func (s *BadgerStore) GetMetadata(key string) (*ports.KeyMetadata, error) {
	value, version, exists, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.NewStorageError("key not found: "+key, domain.ErrKeyNotFound)
	}

	metadata := &ports.KeyMetadata{Key: key, Version: version, Size: int64(len(value)), Updated: time.Now()}

	_ = s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(ttlKeyOf(key)))
		if getErr != nil {
			return nil
		}
		raw, getErr := item.ValueCopy(nil)
		if getErr != nil {
			return getErr
		}
		var expireAt time.Time
		if json.Unmarshal(raw, &expireAt) == nil {
			metadata.ExpireAt = &expireAt
		}
		return nil
	})

	return metadata, nil
}

func (s *BadgerStore) BatchWrite(ops []ports.WriteOp) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			switch op.Type {
			case ports.OpPut:
				current, exists, err := readVersion(txn, op.Key)
				if err != nil {
					return err
				}
				expected := int64(1)
				if exists {
					expected = current + 1
				}
				if op.Version != expected {
					return domain.NewStorageError("version mismatch", domain.ErrVersionMismatch)
				}
				if err := txn.Set([]byte(op.Key), op.Value); err != nil {
					return err
				}
				if err := writeVersion(txn, op.Key, op.Version); err != nil {
					return err
				}
			case ports.OpDelete, ports.OpDeleteIfExists:
				_ = txn.Delete([]byte(op.Key))
				_ = txn.Delete([]byte(versionKeyOf(op.Key)))
				_ = txn.Delete([]byte(ttlKeyOf(op.Key)))
			case ports.OpExpire:
				raw, err := json.Marshal(time.Now().Add(op.TTL))
				if err != nil {
					return err
				}
				if err := txn.Set([]byte(ttlKeyOf(op.Key)), raw); err != nil {
					return err
				}
			default:
				return domain.NewValidationError("unknown write op type", nil)
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetNext(prefix string) (key string, value []byte, exists bool, err error) {
	return s.GetNextAfter(prefix, prefix)
}

func (s *BadgerStore) GetNextAfter(prefix string, afterKey string) (key string, value []byte, exists bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(afterKey)); it.Valid(); it.Next() {
			item := it.Item()
			candidate := string(item.Key())
			if candidate <= afterKey || isMetadataKey(candidate) {
				continue
			}
			key = candidate
			value, err = item.ValueCopy(nil)
			exists = true
			return err
		}
		return nil
	})
	return key, value, exists, err
}

func (s *BadgerStore) CountPrefix(prefix string) (count int, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if isMetadataKey(string(it.Item().Key())) {
				continue
			}
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerStore) AtomicIncrement(key string) (newValue int64, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, getErr := txn.Get([]byte(key))
		if getErr == nil {
			raw, valErr := item.ValueCopy(nil)
			if valErr != nil {
				return valErr
			}
			if unmarshalErr := json.Unmarshal(raw, &current); unmarshalErr != nil {
				return unmarshalErr
			}
		} else if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}

		newValue = current + 1
		raw, marshalErr := json.Marshal(newValue)
		if marshalErr != nil {
			return marshalErr
		}
		return txn.Set([]byte(key), raw)
	})
	return newValue, err
}

func (s *BadgerStore) ListByPrefix(prefix string) ([]ports.KeyValueVersion, error) {
	var results []ports.KeyValueVersion

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if isMetadataKey(key) {
				continue
			}

			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			version, _, err := readVersion(txn, key)
			if err != nil {
				return err
			}
			results = append(results, ports.KeyValueVersion{Key: key, Value: value, Version: version})
		}
		return nil
	})

	return results, err
}

func (s *BadgerStore) DeleteByPrefix(prefix string) (deletedCount int, err error) {
	keys, err := s.ListByPrefix(prefix)
	if err != nil {
		return 0, err
	}

	ops := make([]ports.WriteOp, 0, len(keys))
	for _, kv := range keys {
		ops = append(ops, ports.WriteOp{Type: ports.OpDelete, Key: kv.Key})
	}
	if len(ops) > 0 {
		err = s.BatchWrite(ops)
	}
	return len(ops), err
}

func (s *BadgerStore) GetVersion(key string) (int64, error) {
	_, version, exists, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.NewStorageError("key not found: "+key, domain.ErrKeyNotFound)
	}
	return version, nil
}

func (s *BadgerStore) ExpireAt(key string, expireTime time.Time) error {
	raw, err := json.Marshal(expireTime)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ttlKeyOf(key)), raw)
	})
}

func (s *BadgerStore) GetTTL(key string) (time.Duration, error) {
	var expireAt time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get([]byte(ttlKeyOf(key)))
		if getErr != nil {
			if errors.Is(getErr, badger.ErrKeyNotFound) {
				return nil
			}
			return getErr
		}
		raw, valErr := item.ValueCopy(nil)
		if valErr != nil {
			return valErr
		}
		return json.Unmarshal(raw, &expireAt)
	})
	if err != nil {
		return 0, err
	}
	if expireAt.IsZero() {
		return 0, nil
	}
	return time.Until(expireAt), nil
}

func (s *BadgerStore) CleanExpired() (cleanedCount int, err error) {
	now := time.Now()
	var stale []string

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("ttl:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw, valErr := it.Item().ValueCopy(nil)
			if valErr != nil {
				continue
			}
			var expireAt time.Time
			if json.Unmarshal(raw, &expireAt) == nil && now.After(expireAt) {
				stale = append(stale, string(it.Item().Key())[len("ttl:"):])
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, key := range stale {
		if delErr := s.Delete(key); delErr == nil {
			cleanedCount++
		}
	}
	return cleanedCount, nil
}

func (s *BadgerStore) RunInTransaction(fn func(tx ports.Transaction) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	tx := &badgerTransaction{txn: txn}
	if err := fn(tx); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NewStorageError("already closed", nil)
	}
	s.closed = true
	return s.db.Close()
}

type badgerTransaction struct {
	txn *badger.Txn
}

func (t *badgerTransaction) Get(key string) (value []byte, version int64, exists bool, err error) {
	item, getErr := t.txn.Get([]byte(key))
	if getErr != nil {
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return nil, 0, false, nil
		}
		return nil, 0, false, getErr
	}
	value, err = item.ValueCopy(nil)
	if err != nil {
		return nil, 0, false, err
	}
	version, _, err = readVersion(t.txn, key)
	if err != nil {
		return nil, 0, false, err
	}
	return value, version, true, nil
}

func (t *badgerTransaction) Put(key string, value []byte, version int64) error {
	if err := t.txn.Set([]byte(key), value); err != nil {
		return err
	}
	return writeVersion(t.txn, key, version)
}

func (t *badgerTransaction) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	if err := t.Put(key, value, version); err != nil {
		return err
	}
	raw, err := json.Marshal(time.Now().Add(ttl))
	if err != nil {
		return err
	}
	return t.txn.Set([]byte(ttlKeyOf(key)), raw)
}

func (t *badgerTransaction) Delete(key string) error {
	_ = t.txn.Delete([]byte(key))
	_ = t.txn.Delete([]byte(versionKeyOf(key)))
	_ = t.txn.Delete([]byte(ttlKeyOf(key)))
	return nil
}

func (t *badgerTransaction) Exists(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *badgerTransaction) GetMetadata(key string) (*ports.KeyMetadata, error) {
	value, version, exists, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.NewStorageError("key not found: "+key, domain.ErrKeyNotFound)
	}
	return &ports.KeyMetadata{Key: key, Version: version, Size: int64(len(value)), Updated: time.Now()}, nil
}

func (t *badgerTransaction) Commit() error {
	return t.txn.Commit()
}

func (t *badgerTransaction) Rollback() error {
	t.txn.Discard()
	return nil
}

var _ ports.StoragePort = (*BadgerStore)(nil)
