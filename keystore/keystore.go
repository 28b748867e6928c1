package keystore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"example.com/backstage/budget/config"
	"example.com/backstage/budget/crypto"
)

// New returns the key manager selected by keystore.driver
func New(cfg config.Config, db *gorm.DB) (crypto.KeyManager, error) {
	switch cfg.KeyStore.Driver {
	case config.KeyStoreDatabase:
		return NewGormKeyStore(db), nil

	case config.KeyStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Test connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisKeyStore(client), nil

	case config.KeyStoreMemory:
		return NewMemoryKeyStore(), nil

	default:
		return nil, fmt.Errorf("unknown key store driver %q", cfg.KeyStore.Driver)
	}
}
