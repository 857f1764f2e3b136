package redis

import (
	"context"
	"sort"

	"github.com/goodtune/kpark/internal/storage"
	"github.com/redis/go-redis/v9"
)

type accountStore struct {
	client *redis.Client
}

// RegisterPlate assigns a plate to an account
func (s *accountStore) RegisterPlate(ctx context.Context, accountID, plate string) error {
	keys := []string{plateOwnerKey(plate), accountPlatesKey(accountID), registeredPlatesKey}

	ok, err := registerPlate.Run(ctx, s.client, keys, accountID, plate).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return storage.ErrPlateTaken
	}
	return nil
}

// RemovePlate releases a plate owned by the account
func (s *accountStore) RemovePlate(ctx context.Context, accountID, plate string) error {
	keys := []string{plateOwnerKey(plate), accountPlatesKey(accountID), registeredPlatesKey}

	ok, err := removePlate.Run(ctx, s.client, keys, accountID, plate).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AccountPlates lists the plates of one account
func (s *accountStore) AccountPlates(ctx context.Context, accountID string) ([]string, error) {
	plates, err := s.client.SMembers(ctx, accountPlatesKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(plates)
	return plates, nil
}

// RegisteredPlates lists every plate that belongs to any account
func (s *accountStore) RegisteredPlates(ctx context.Context) ([]string, error) {
	plates, err := s.client.SMembers(ctx, registeredPlatesKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(plates)
	return plates, nil
}

// IsRegistered checks the registered index for a plate
func (s *accountStore) IsRegistered(ctx context.Context, plate string) (bool, error) {
	return s.client.SIsMember(ctx, registeredPlatesKey, plate).Result()
}
