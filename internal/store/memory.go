package store

import "sync"

// MemoryStore keeps subscriber records in process memory. Used by tests
// and single-node development setups.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Record)}
}

func (s *MemoryStore) Get(uaid string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[uaid]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Register(rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.UAID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Drop(uaid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, uaid)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored records. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
