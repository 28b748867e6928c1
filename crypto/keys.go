package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// KeySize is the size in bytes of a subject key (AES-256).
const KeySize = 32

var ErrKeyNotFound = errors.New("crypto: subject key not found")

// KeyManager generates, fetches and deletes the key of an encryption subject.
type KeyManager interface {
	// GenerateKey creates and persists a new key for the subject.
	GenerateKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error)
	// GetKey returns the subject's key, or ErrKeyNotFound.
	GetKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error)
	DeleteKey(ctx context.Context, subjectID uuid.UUID) error
}

// NewKey returns fresh random key material for a subject.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyCache holds the keys resolved during one unit of work. It must be
// cleared when the unit of work completes and never shared between units of work.
type KeyCache struct {
	manager KeyManager
	keys    map[uuid.UUID][]byte
}

// NewKeyCache creates an empty key cache backed by the key manager
func NewKeyCache(manager KeyManager) *KeyCache {
	return &KeyCache{
		manager: manager,
		keys:    make(map[uuid.UUID][]byte),
	}
}

// GetOrCreate returns the subject's key. A missing key is generated only on
// the subject's first write; otherwise its absence is ErrKeyNotFound.
func (c *KeyCache) GetOrCreate(ctx context.Context, subjectID uuid.UUID, firstWrite bool) ([]byte, error) {
	if key, ok := c.keys[subjectID]; ok {
		return key, nil
	}

	key, err := c.manager.GetKey(ctx, subjectID)
	switch {
	case err == nil:
	case errors.Is(err, ErrKeyNotFound) && firstWrite:
		key, err = c.manager.GenerateKey(ctx, subjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key for subject %s: %w", subjectID, err)
		}
		log.Info().Str("subjectID", subjectID.String()).Msg("Subject key generated")
	case errors.Is(err, ErrKeyNotFound):
		return nil, fmt.Errorf("%w: subject %s", ErrKeyNotFound, subjectID)
	default:
		return nil, fmt.Errorf("failed to get key for subject %s: %w", subjectID, err)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size %d for subject %s", len(key), subjectID)
	}

	c.keys[subjectID] = key
	return key, nil
}

// Len returns the number of cached keys
func (c *KeyCache) Len() int {
	return len(c.keys)
}

// Clear drops all cached key material
func (c *KeyCache) Clear() {
	for id, key := range c.keys {
		clear(key)
		delete(c.keys, id)
	}
}
