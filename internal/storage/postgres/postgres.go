// Package postgres is a storage.Store on PostgreSQL. The one-active-session
// rule is enforced by a partial unique index and exits are written with a
// version check.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goodtune/kpark/internal/config"
	"github.com/goodtune/kpark/internal/storage"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements the storage.Store interface using PostgreSQL
type Store struct {
	db                *gorm.DB
	sessionStore      *sessionStore
	accountStore      *accountStore
	unregisteredStore *unregisteredStore
}

// Open connects to PostgreSQL and applies migrations.
func Open(cfg config.PostgresConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		// Maps unique violations to gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{
		db:                db,
		sessionStore:      &sessionStore{db: db},
		accountStore:      &accountStore{db: db},
		unregisteredStore: &unregisteredStore{db: db},
	}, nil
}

// Close closes the database pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
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

type sessionStore struct {
	db *gorm.DB
}

func (s *sessionStore) ListSessions(ctx context.Context, plate string) ([]storage.ParkingSession, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Where("plate_key = ?", plate).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}

	sessions := make([]storage.ParkingSession, 0, len(rows))
	for _, row := range rows {
		session, err := row.toSession()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *sessionStore) CreateSessionIfNoneActive(ctx context.Context, ns storage.NewSession) (string, error) {
	row := sessionRow{
		ID:          storage.NewID(),
		PlateKey:    ns.Plate,
		EntryTime:   storage.FormatTime(ns.EntryTime),
		EntryMethod: ns.EntryMethod,
		Confidence:  ns.Confidence,
		Image:       ns.Image,
		Version:     1,
	}

	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", storage.ErrConflict
	}
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

func (s *sessionStore) UpdateSessionConditional(ctx context.Context, plate, id string, exit storage.SessionExit, expectedVersion int64) error {
	closed := exit.Apply(storage.ParkingSession{})
	row := fromSession(closed)

	result := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("id = ? AND plate_key = ? AND version = ? AND NOT paid AND exit_time IS NULL", id, plate, expectedVersion).
		Updates(map[string]interface{}{
			"exit_time":        row.ExitTime,
			"duration_minutes": row.DurationMinutes,
			"amount_due":       row.AmountDue,
			"exit_confidence":  row.ExitConfidence,
			"exit_image":       row.ExitImage,
			"paid":             true,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ? AND plate_key = ?", id, plate).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// ImportSession appends a historical session. The partial unique index still
// refuses a second active session for a plate.
func (s *sessionStore) ImportSession(ctx context.Context, session storage.ParkingSession) (string, error) {
	if session.ID == "" {
		session.ID = storage.NewID()
	}
	if session.Version == 0 {
		session.Version = 1
	}

	row := fromSession(session)
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", storage.ErrConflict
	}
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

type accountStore struct {
	db *gorm.DB
}

func (s *accountStore) RegisterPlate(ctx context.Context, accountID, plate string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ownerRow{PlateKey: plate, AccountID: accountID}).Error
		if err != nil {
			return err
		}

		var owner ownerRow
		if err := tx.Where("plate_key = ?", plate).First(&owner).Error; err != nil {
			return err
		}
		if owner.AccountID != accountID {
			return storage.ErrPlateTaken
		}
		return nil
	})
}

func (s *accountStore) RemovePlate(ctx context.Context, accountID, plate string) error {
	result := s.db.WithContext(ctx).
		Where("plate_key = ? AND account_id = ?", plate, accountID).
		Delete(&ownerRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *accountStore) AccountPlates(ctx context.Context, accountID string) ([]string, error) {
	plates := []string{}
	err := s.db.WithContext(ctx).Model(&ownerRow{}).Where("account_id = ?", accountID).Pluck("plate_key", &plates).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(plates)
	return plates, nil
}

func (s *accountStore) RegisteredPlates(ctx context.Context) ([]string, error) {
	plates := []string{}
	if err := s.db.WithContext(ctx).Model(&ownerRow{}).Pluck("plate_key", &plates).Error; err != nil {
		return nil, err
	}
	sort.Strings(plates)
	return plates, nil
}

func (s *accountStore) IsRegistered(ctx context.Context, plate string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ownerRow{}).Where("plate_key = ?", plate).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

type unregisteredStore struct {
	db *gorm.DB
}

func (s *unregisteredStore) AppendUnregisteredEntry(ctx context.Context, entry storage.UnregisteredEntry) error {
	row := unregisteredRow{
		ID:         storage.NewID(),
		PlateKey:   entry.Plate,
		SeenAt:     storage.FormatTime(entry.Timestamp),
		Confidence: entry.Confidence,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *unregisteredStore) ListUnregisteredEntries(ctx context.Context, plate string) ([]storage.UnregisteredEntry, error) {
	var rows []unregisteredRow
	if err := s.db.WithContext(ctx).Where("plate_key = ?", plate).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]storage.UnregisteredEntry, 0, len(rows))
	for _, row := range rows {
		seenAt, err := storage.ParseTime(row.SeenAt)
		if err != nil {
			return nil, fmt.Errorf("unregistered entry %s: %w", row.ID, err)
		}
		entries = append(entries, storage.UnregisteredEntry{
			ID:         row.ID,
			Plate:      row.PlateKey,
			Timestamp:  seenAt,
			Confidence: row.Confidence,
		})
	}
	return entries, nil
}
