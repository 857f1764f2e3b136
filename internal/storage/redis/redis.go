package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kpark/internal/config"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/redis/go-redis/v9"
)

const registeredPlatesKey = "kpark:plates:registered"

func sessionKey(id string) string {
	return fmt.Sprintf("kpark:session:%s", id)
}

func plateSessionsKey(plate string) string {
	return fmt.Sprintf("kpark:plate:%s:sessions", plate)
}

func plateActiveKey(plate string) string {
	return fmt.Sprintf("kpark:plate:%s:active", plate)
}

func plateOwnerKey(plate string) string {
	return fmt.Sprintf("kpark:plate:%s:owner", plate)
}

func accountPlatesKey(account string) string {
	return fmt.Sprintf("kpark:account:%s:plates", account)
}

func unregisteredKey(plate string) string {
	return fmt.Sprintf("kpark:unregistered:%s", plate)
}

// Store implements the storage.Store interface using Redis
type Store struct {
	client            *redis.Client
	sessionStore      *sessionStore
	accountStore      *accountStore
	unregisteredStore *unregisteredStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{
		client:            client,
		sessionStore:      &sessionStore{client: client},
		accountStore:      &accountStore{client: client},
		unregisteredStore: &unregisteredStore{client: client},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Accounts returns the AccountStore implementation
func (s *Store) Accounts() storage.AccountStore {
	return s.accountStore
}

// Unregistered returns the UnregisteredStore implementation
func (s *Store) Unregistered() storage.UnregisteredStore {
	return s.unregisteredStore
}
