package storage

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/ports"
)

type memoryRecord struct {
	value    []byte
	version  int64
	expireAt *time.Time
	updated  time.Time
}

// MemoryStore is an in-process, map-backed implementation of the Storage
// Port used by unit tests and as a zero-dependency default for embedding
// this engine without touching disk. It implements the same optimistic
// versioning contract as BadgerStore.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]memoryRecord
	logger *slog.Logger
	closed bool
}

func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		data:   make(map[string]memoryRecord),
		logger: logger.With("component", "memory-store"),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok {
		return nil, 0, false, nil
	}
	return append([]byte(nil), rec.value...), rec.version, true, nil
}

func (s *MemoryStore) Put(key string, value []byte, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[key]
	expected := int64(1)
	if exists {
		expected = existing.version + 1
	}
	if version != expected {
		return domain.NewStorageError("version mismatch", domain.ErrVersionMismatch)
	}

	rec := memoryRecord{value: append([]byte(nil), value...), version: version, updated: time.Now()}
	if exists {
		rec.expireAt = existing.expireAt
	}
	s.data[key] = rec
	return nil
}

func (s *MemoryStore) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	if err := s.Put(key, value, version); err != nil {
		return err
	}
	return s.ExpireAt(key, time.Now().Add(ttl))
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) GetMetadata(key string) (*ports.KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok {
		return nil, domain.NewStorageError("key not found: "+key, domain.ErrKeyNotFound)
	}
	return &ports.KeyMetadata{Key: key, Version: rec.version, Size: int64(len(rec.value)), Updated: rec.updated, ExpireAt: rec.expireAt}, nil
}

func (s *MemoryStore) BatchWrite(ops []ports.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		switch op.Type {
		case ports.OpPut:
			existing, exists := s.data[op.Key]
			expected := int64(1)
			if exists {
				expected = existing.version + 1
			}
			if op.Version != expected {
				return domain.NewStorageError("version mismatch", domain.ErrVersionMismatch)
			}
			s.data[op.Key] = memoryRecord{value: append([]byte(nil), op.Value...), version: op.Version, updated: time.Now()}
		case ports.OpDelete, ports.OpDeleteIfExists:
			delete(s.data, op.Key)
		case ports.OpExpire:
			if rec, ok := s.data[op.Key]; ok {
				expireAt := time.Now().Add(op.TTL)
				rec.expireAt = &expireAt
				s.data[op.Key] = rec
			}
		default:
			return domain.NewValidationError("unknown write op type", nil)
		}
	}
	return nil
}

func (s *MemoryStore) sortedKeysWithPrefix(prefix string) []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) GetNext(prefix string) (string, []byte, bool, error) {
	return s.GetNextAfter(prefix, prefix)
}

func (s *MemoryStore) GetNextAfter(prefix string, afterKey string) (string, []byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.sortedKeysWithPrefix(prefix) {
		if key <= afterKey {
			continue
		}
		rec := s.data[key]
		return key, append([]byte(nil), rec.value...), true, nil
	}
	return "", nil, false, nil
}

func (s *MemoryStore) CountPrefix(prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sortedKeysWithPrefix(prefix)), nil
}

func (s *MemoryStore) AtomicIncrement(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.data[key]
	var current int64
	if len(rec.value) > 0 {
		if err := json.Unmarshal(rec.value, &current); err != nil {
			return 0, err
		}
	}
	current++
	raw, err := json.Marshal(current)
	if err != nil {
		return 0, err
	}
	rec.value = raw
	rec.updated = time.Now()
	s.data[key] = rec
	return current, nil
}

func (s *MemoryStore) ListByPrefix(prefix string) ([]ports.KeyValueVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ports.KeyValueVersion
	for _, key := range s.sortedKeysWithPrefix(prefix) {
		rec := s.data[key]
		results = append(results, ports.KeyValueVersion{
			Key:      key,
			Value:    append([]byte(nil), rec.value...),
			Version:  rec.version,
			ExpireAt: rec.expireAt,
		})
	}
	return results, nil
}

func (s *MemoryStore) DeleteByPrefix(prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.sortedKeysWithPrefix(prefix)
	for _, key := range keys {
		delete(s.data, key)
	}
	return len(keys), nil
}

func (s *MemoryStore) GetVersion(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok {
		return 0, domain.NewStorageError("key not found: "+key, domain.ErrKeyNotFound)
	}
	return rec.version, nil
}

func (s *MemoryStore) ExpireAt(key string, expireTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	if !ok {
		rec = memoryRecord{updated: time.Now()}
	}
	rec.expireAt = &expireTime
	s.data[key] = rec
	return nil
}

func (s *MemoryStore) GetTTL(key string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok || rec.expireAt == nil {
		return 0, nil
	}
	return time.Until(*rec.expireAt), nil
}

func (s *MemoryStore) CleanExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, rec := range s.data {
		if rec.expireAt != nil && now.After(*rec.expireAt) {
			delete(s.data, key)
			cleaned++
		}
	}
	return cleaned, nil
}

func (s *MemoryStore) RunInTransaction(fn func(tx ports.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]memoryRecord, len(s.data))
	for k, v := range s.data {
		staged[k] = v
	}
	tx := &memoryTransaction{store: s, staged: staged}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.staged
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.NewStorageError("already closed", nil)
	}
	s.closed = true
	return nil
}

type memoryTransaction struct {
	store  *MemoryStore
	staged map[string]memoryRecord
}

func (t *memoryTransaction) Get(key string) ([]byte, int64, bool, error) {
	rec, ok := t.staged[key]
	if !ok {
		return nil, 0, false, nil
	}
	return append([]byte(nil), rec.value...), rec.version, true, nil
}

func (t *memoryTransaction) Put(key string, value []byte, version int64) error {
	rec := t.staged[key]
	rec.value = append([]byte(nil), value...)
	rec.version = version
	rec.updated = time.Now()
	t.staged[key] = rec
	return nil
}

func (t *memoryTransaction) PutWithTTL(key string, value []byte, version int64, ttl time.Duration) error {
	if err := t.Put(key, value, version); err != nil {
		return err
	}
	expireAt := time.Now().Add(ttl)
	rec := t.staged[key]
	rec.expireAt = &expireAt
	t.staged[key] = rec
	return nil
}

func (t *memoryTransaction) Delete(key string) error {
	delete(t.staged, key)
	return nil
}

func (t *memoryTransaction) Exists(key string) (bool, error) {
	_, ok := t.staged[key]
	return ok, nil
}

func (t *memoryTransaction) GetMetadata(key string) (*ports.KeyMetadata, error) {
	rec, ok := t.staged[key]
	if !ok {
		return nil, domain.NewStorageError("key not found: "+key, domain.ErrKeyNotFound)
	}
	return &ports.KeyMetadata{Key: key, Version: rec.version, Size: int64(len(rec.value)), Updated: rec.updated, ExpireAt: rec.expireAt}, nil
}

func (t *memoryTransaction) Commit() error {
	return nil
}

func (t *memoryTransaction) Rollback() error {
	t.staged = nil
	return nil
}

var _ ports.StoragePort = (*MemoryStore)(nil)
