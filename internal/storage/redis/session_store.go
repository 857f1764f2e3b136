package redis

import (
	"context"
	"fmt"

	"github.com/goodtune/kpark/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// ListSessions returns all sessions for a plate in insertion order
func (s *sessionStore) ListSessions(ctx context.Context, plate string) ([]storage.ParkingSession, error) {
	ids, err := s.client.LRange(ctx, plateSessionsKey(plate), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.ParkingSession{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.ParkingSession, 0, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", ids[i], err)
		}
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

// CreateSessionIfNoneActive atomically opens a session unless one is active
func (s *sessionStore) CreateSessionIfNoneActive(ctx context.Context, ns storage.NewSession) (string, error) {
	id := storage.NewID()

	keys := []string{
		plateActiveKey(ns.Plate),
		plateSessionsKey(ns.Plate),
		sessionKey(id),
	}
	args := []interface{}{
		id,
		ns.Plate,
		storage.FormatTime(ns.EntryTime),
		ns.EntryMethod,
		formatFloat(ns.Confidence),
		ns.Image,
	}

	created, err := createSession.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return "", err
	}
	if created == 0 {
		return "", storage.ErrConflict
	}

	return id, nil
}

// UpdateSessionConditional atomically closes a session at the expected version
func (s *sessionStore) UpdateSessionConditional(ctx context.Context, plate, id string, exit storage.SessionExit, expectedVersion int64) error {
	keys := []string{
		sessionKey(id),
		plateActiveKey(plate),
	}
	args := []interface{}{
		id,
		plate,
		expectedVersion,
		storage.FormatTime(exit.ExitTime),
		formatFloat(storage.RoundMinutes(exit.DurationMinutes)),
		formatFloat(storage.RoundAmount(exit.AmountDue)),
		formatFloat(exit.ExitConfidence),
		exit.ExitImage,
	}

	result, err := closeSession.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return err
	}

	switch result {
	case 1:
		return nil
	case 0:
		return storage.ErrConflict
	default:
		return storage.ErrNotFound
	}
}

// ImportSession appends a historical session without checking for an active one
func (s *sessionStore) ImportSession(ctx context.Context, session storage.ParkingSession) (string, error) {
	if session.ID == "" {
		session.ID = storage.NewID()
	}
	if session.Version == 0 {
		session.Version = 1
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(session.ID), sessionFields(session))
		pipe.RPush(ctx, plateSessionsKey(session.Plate), session.ID)
		if session.Active() {
			pipe.SetNX(ctx, plateActiveKey(session.Plate), session.ID, 0)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return session.ID, nil
}
