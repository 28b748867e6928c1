package keystore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"example.com/backstage/budget/crypto"
)

// MemoryKeyStore keeps subject keys in process memory. Keys are lost on restart.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[uuid.UUID][]byte
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[uuid.UUID][]byte)}
}

func (s *MemoryKeyStore) GenerateKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[subjectID]; ok {
		return clone(key), nil
	}

	key, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}
	s.keys[subjectID] = key
	return clone(key), nil
}

func (s *MemoryKeyStore) GetKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[subjectID]
	if !ok {
		return nil, crypto.ErrKeyNotFound
	}
	return clone(key), nil
}

func (s *MemoryKeyStore) DeleteKey(ctx context.Context, subjectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, subjectID)
	return nil
}

// Callers wipe the keys they receive, never hand out the stored slice
func clone(key []byte) []byte {
	return append([]byte(nil), key...)
}
