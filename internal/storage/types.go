package storage

import (
	"fmt"
	"math"
	"time"
)

// TimeLayout is the local wall-clock format every persisted timestamp uses.
const TimeLayout = "2006-01-02 15:04:05"

// EntryMethodCamera marks sessions opened from a plate detection.
const EntryMethodCamera = "camera"

// EntryMethodApp marks sessions the driver opened from the mobile app.
const EntryMethodApp = "app"

// FormatTime renders t in the persisted layout in local time.
func FormatTime(t time.Time) string {
	return t.In(time.Local).Format(TimeLayout)
}

// ParseTime parses a persisted timestamp as local time.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// TruncateTime drops precision the persisted layout cannot hold, so an
// in-memory value equals what a store would read back.
func TruncateTime(t time.Time) time.Time {
	return t.In(time.Local).Truncate(time.Second)
}

// RoundMinutes rounds a duration in minutes to one decimal place.
func RoundMinutes(m float64) float64 {
	return math.Round(m*10) / 10
}

// RoundAmount rounds a money amount to two decimal places.
func RoundAmount(a float64) float64 {
	return math.Round(a*100) / 100
}

// ParkingSession is one visit of a vehicle. It is created open on entry and
// closed exactly once on exit.
type ParkingSession struct {
	ID              string     `json:"id"`
	Plate           string     `json:"plate"`
	EntryTime       time.Time  `json:"entryTime"`
	ExitTime        *time.Time `json:"exitTime,omitempty"`
	DurationMinutes *float64   `json:"durationMinutes,omitempty"`
	AmountDue       *float64   `json:"amountDue,omitempty"`
	Paid            bool       `json:"paid"`
	EntryMethod     string     `json:"entryMethod"`
	Confidence      float64    `json:"confidence"`
	ExitConfidence  *float64   `json:"exitConfidence,omitempty"`
	Image           string     `json:"image"`
	ExitImage       string     `json:"exitImage,omitempty"`
	Version         int64      `json:"version"`
}

// Active reports whether the session is open: unpaid with no recorded exit.
func (s ParkingSession) Active() bool {
	return !s.Paid && s.ExitTime == nil
}

// NewSession holds the fields written when a session is opened.
type NewSession struct {
	Plate       string
	EntryTime   time.Time
	EntryMethod string
	Confidence  float64
	Image       string
}

// SessionExit holds the fields written when a session is closed.
type SessionExit struct {
	ExitTime        time.Time
	DurationMinutes float64
	AmountDue       float64
	ExitConfidence  float64
	ExitImage       string
}

// Apply returns a copy of s closed with e.
func (e SessionExit) Apply(s ParkingSession) ParkingSession {
	exitTime := TruncateTime(e.ExitTime)
	duration := RoundMinutes(e.DurationMinutes)
	amount := RoundAmount(e.AmountDue)
	confidence := e.ExitConfidence

	s.ExitTime = &exitTime
	s.DurationMinutes = &duration
	s.AmountDue = &amount
	s.ExitConfidence = &confidence
	s.ExitImage = e.ExitImage
	s.Paid = true
	s.Version++
	return s
}

// UnregisteredEntry records a refused entry for a plate with no account.
type UnregisteredEntry struct {
	ID         string    `json:"id,omitempty"`
	Plate      string    `json:"plate"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}
