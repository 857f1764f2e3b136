package redis

import (
	"context"

	"github.com/goodtune/kpark/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Unregistered entries are kept in one stream per plate; stream IDs are the
// store-assigned entry IDs.
type unregisteredStore struct {
	client *redis.Client
}

// AppendUnregisteredEntry adds an entry to the plate's stream
func (s *unregisteredStore) AppendUnregisteredEntry(ctx context.Context, entry storage.UnregisteredEntry) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: unregisteredKey(entry.Plate),
		Values: formatUnregisteredEntry(entry),
	}).Err()
}

// ListUnregisteredEntries reads the plate's stream from the beginning
func (s *unregisteredStore) ListUnregisteredEntries(ctx context.Context, plate string) ([]storage.UnregisteredEntry, error) {
	messages, err := s.client.XRange(ctx, unregisteredKey(plate), "-", "+").Result()
	if err != nil {
		return nil, err
	}

	entries := make([]storage.UnregisteredEntry, 0, len(messages))
	for _, msg := range messages {
		entry, err := parseUnregisteredEntry(msg.ID, msg.Values)
		if err != nil {
			continue
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}
