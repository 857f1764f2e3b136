package postgres

import (
	"database/sql"
	"fmt"

	"github.com/goodtune/kpark/internal/storage"
	"github.com/shopspring/decimal"
)

type sessionRow struct {
	Seq             int64               `gorm:"column:seq;primaryKey;autoIncrement"`
	ID              string              `gorm:"column:id"`
	PlateKey        string              `gorm:"column:plate_key"`
	EntryTime       string              `gorm:"column:entry_time"`
	ExitTime        sql.NullString      `gorm:"column:exit_time"`
	DurationMinutes sql.NullFloat64     `gorm:"column:duration_minutes"`
	AmountDue       decimal.NullDecimal `gorm:"column:amount_due"`
	Paid            bool                `gorm:"column:paid"`
	EntryMethod     string              `gorm:"column:entry_method"`
	Confidence      float64             `gorm:"column:confidence"`
	ExitConfidence  sql.NullFloat64     `gorm:"column:exit_confidence"`
	Image           string              `gorm:"column:image"`
	ExitImage       string              `gorm:"column:exit_image"`
	Version         int64               `gorm:"column:version"`
}

func (sessionRow) TableName() string {
	return "parking_sessions"
}

type ownerRow struct {
	PlateKey  string `gorm:"column:plate_key;primaryKey"`
	AccountID string `gorm:"column:account_id"`
}

func (ownerRow) TableName() string {
	return "plate_owners"
}

type unregisteredRow struct {
	Seq        int64   `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string  `gorm:"column:id"`
	PlateKey   string  `gorm:"column:plate_key"`
	SeenAt     string  `gorm:"column:seen_at"`
	Confidence float64 `gorm:"column:confidence"`
}

func (unregisteredRow) TableName() string {
	return "unregistered_entries"
}

func optionalFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromSession(s storage.ParkingSession) sessionRow {
	row := sessionRow{
		ID:              s.ID,
		PlateKey:        s.Plate,
		EntryTime:       storage.FormatTime(s.EntryTime),
		DurationMinutes: optionalFloat(s.DurationMinutes),
		ExitConfidence:  optionalFloat(s.ExitConfidence),
		Paid:            s.Paid,
		EntryMethod:     s.EntryMethod,
		Confidence:      s.Confidence,
		Image:           s.Image,
		ExitImage:       s.ExitImage,
		Version:         s.Version,
	}
	if s.ExitTime != nil {
		row.ExitTime = sql.NullString{String: storage.FormatTime(*s.ExitTime), Valid: true}
	}
	if s.AmountDue != nil {
		row.AmountDue = decimal.NewNullDecimal(decimal.NewFromFloat(*s.AmountDue).Round(2))
	}
	return row
}

func (r sessionRow) toSession() (storage.ParkingSession, error) {
	entryTime, err := storage.ParseTime(r.EntryTime)
	if err != nil {
		return storage.ParkingSession{}, fmt.Errorf("session %s: %w", r.ID, err)
	}

	s := storage.ParkingSession{
		ID:          r.ID,
		Plate:       r.PlateKey,
		EntryTime:   entryTime,
		Paid:        r.Paid,
		EntryMethod: r.EntryMethod,
		Confidence:  r.Confidence,
		Image:       r.Image,
		ExitImage:   r.ExitImage,
		Version:     r.Version,
	}

	if r.ExitTime.Valid {
		exitTime, err := storage.ParseTime(r.ExitTime.String)
		if err != nil {
			return storage.ParkingSession{}, fmt.Errorf("session %s: %w", r.ID, err)
		}
		s.ExitTime = &exitTime
	}
	if r.DurationMinutes.Valid {
		d := r.DurationMinutes.Float64
		s.DurationMinutes = &d
	}
	if r.AmountDue.Valid {
		a := r.AmountDue.Decimal.InexactFloat64()
		s.AmountDue = &a
	}
	if r.ExitConfidence.Valid {
		c := r.ExitConfidence.Float64
		s.ExitConfidence = &c
	}

	return s, nil
}
