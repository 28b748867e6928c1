package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"example.com/backstage/budget/crypto"
)

// RedisKeyStore keeps subject keys in Redis. The instance must be persistent
// (AOF or RDB), evicting a key destroys the subject's personal data.
type RedisKeyStore struct {
	client *redis.Client
}

func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

// Prefix keys to avoid collisions
func subjectKey(id uuid.UUID) string {
	return fmt.Sprintf("subject_key:%s", id)
}

// GenerateKey creates the subject's key unless one exists already, in which
// case the existing key is returned.
func (s *RedisKeyStore) GenerateKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error) {
	key, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}

	if err := s.client.SetNX(ctx, subjectKey(subjectID), key, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	return s.GetKey(ctx, subjectID)
}

func (s *RedisKeyStore) GetKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error) {
	key, err := s.client.Get(ctx, subjectKey(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, crypto.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	return key, nil
}

func (s *RedisKeyStore) DeleteKey(ctx context.Context, subjectID uuid.UUID) error {
	if err := s.client.Del(ctx, subjectKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}
