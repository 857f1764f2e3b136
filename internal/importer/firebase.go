// Package importer loads a Firebase Realtime Database export of the legacy
// parking app into a kpark store.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/goodtune/kpark/internal/plate"
	"github.com/goodtune/kpark/internal/storage"
	"github.com/rs/zerolog"
)

// Export is the subset of the database tree kpark understands.
type Export struct {
	ParkingRecords      map[string]map[string]Record     `json:"parking-records"`
	Users               map[string]User                  `json:"users"`
	UnregisteredEntries map[string]map[string]Unregistered `json:"unregistered-entries"`
}

// Record is one legacy parking session. Records written by the mobile app
// carry ISO timestamps, no entryMethod and the fee under charge.
type Record struct {
	EntryTime       string   `json:"entryTime"`
	ExitTime        string   `json:"exitTime"`
	DurationMinutes *float64 `json:"durationMinutes"`
	AmountDue       *float64 `json:"amountDue"`
	Charge          *float64 `json:"charge"`
	Paid            bool     `json:"paid"`
	EntryMethod     string   `json:"entryMethod"`
	Confidence      float64  `json:"confidence"`
	ExitConfidence  *float64 `json:"exitConfidence"`
	Image           string   `json:"image"`
	ExitImage       string   `json:"exitImage"`
}

// User is a legacy account.
type User struct {
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	LicensePlates PlateList `json:"license_plates"`
}

// PlateList accepts both encodings the database produced for a plate list:
// a JSON array, or an object keyed by index once entries had been removed.
type PlateList []string

func (p *PlateList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}

	var keyed map[string]string
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("license_plates: %w", err)
	}
	keys := sortedKeys(keyed)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyed[k])
	}
	*p = out
	return nil
}

// Unregistered is a legacy refused-entry record.
type Unregistered struct {
	Timestamp  string  `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

// Stats counts what an import wrote and skipped.
type Stats struct {
	Sessions     int
	Plates       int
	Unregistered int
	Skipped      int
}

// Decode reads an export document.
func Decode(r io.Reader) (*Export, error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &export, nil
}

// ReadFile decodes the export at path.
func ReadFile(path string) (*Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Importer writes an export into a store.
type Importer struct {
	store  storage.Store
	logger zerolog.Logger
}

// New returns an importer writing to store.
func New(store storage.Store, logger zerolog.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger.With().Str("component", "importer").Logger(),
	}
}

// Apply imports accounts first, then sessions, then unregistered entries.
// Records that cannot be parsed are logged and skipped. Store failures stop
// the import.
func (im *Importer) Apply(ctx context.Context, export *Export) (Stats, error) {
	var stats Stats

	for _, uid := range sortedKeys(export.Users) {
		for _, raw := range export.Users[uid].LicensePlates {
			key, err := plate.Normalize(raw)
			if err != nil {
				im.logger.Warn().Str("account", uid).Str("plate", raw).Msg("Skipping invalid plate")
				stats.Skipped++
				continue
			}
			err = im.store.Accounts().RegisterPlate(ctx, uid, key.String())
			switch {
			case err == nil:
				stats.Plates++
			case errors.Is(err, storage.ErrPlateTaken):
				im.logger.Warn().Str("account", uid).Str("plate", key.String()).Msg("Plate already owned by another account")
				stats.Skipped++
			default:
				return stats, fmt.Errorf("register %s for %s: %w", key, uid, err)
			}
		}
	}

	for _, raw := range sortedKeys(export.ParkingRecords) {
		key, err := plate.Normalize(raw)
		if err != nil {
			im.logger.Warn().Str("plate", raw).Msg("Skipping records for invalid plate")
			stats.Skipped += len(export.ParkingRecords[raw])
			continue
		}
		records := export.ParkingRecords[raw]
		for _, id := range sortedKeys(records) {
			session, err := records[id].toSession(id, key)
			if err != nil {
				im.logger.Warn().Err(err).Str("plate", key.String()).Str("id", id).Msg("Skipping unreadable record")
				stats.Skipped++
				continue
			}
			if _, err := im.store.Sessions().ImportSession(ctx, session); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					im.logger.Warn().Str("plate", key.String()).Str("id", id).Msg("Skipping second active session")
					stats.Skipped++
					continue
				}
				return stats, fmt.Errorf("import session %s: %w", id, err)
			}
			stats.Sessions++
		}
	}

	for _, raw := range sortedKeys(export.UnregisteredEntries) {
		key, err := plate.Normalize(raw)
		if err != nil {
			stats.Skipped += len(export.UnregisteredEntries[raw])
			continue
		}
		entries := export.UnregisteredEntries[raw]
		for _, id := range sortedKeys(entries) {
			ts, err := storage.ParseTime(entries[id].Timestamp)
			if err != nil {
				im.logger.Warn().Err(err).Str("plate", key.String()).Str("id", id).Msg("Skipping unreadable entry")
				stats.Skipped++
				continue
			}
			entry := storage.UnregisteredEntry{
				Plate:      key.String(),
				Timestamp:  ts,
				Confidence: entries[id].Confidence,
			}
			if err := im.store.Unregistered().AppendUnregisteredEntry(ctx, entry); err != nil {
				return stats, fmt.Errorf("append unregistered entry %s: %w", id, err)
			}
			stats.Unregistered++
		}
	}

	im.logger.Info().
		Int("sessions", stats.Sessions).
		Int("plates", stats.Plates).
		Int("unregistered", stats.Unregistered).
		Int("skipped", stats.Skipped).
		Msg("Import complete")

	return stats, nil
}

func (r Record) toSession(id string, key plate.Key) (storage.ParkingSession, error) {
	entry, err := parseRecordTime(r.EntryTime)
	if err != nil {
		return storage.ParkingSession{}, fmt.Errorf("entryTime: %w", err)
	}

	session := storage.ParkingSession{
		ID:          id,
		Plate:       key.String(),
		EntryTime:   entry,
		Paid:        r.Paid,
		EntryMethod: r.EntryMethod,
		Confidence:  r.Confidence,
		Image:       r.Image,
		ExitImage:   r.ExitImage,
		Version:     1,
	}
	if session.EntryMethod == "" {
		session.EntryMethod = storage.EntryMethodApp
	}

	if r.ExitTime != "" {
		exit, err := parseRecordTime(r.ExitTime)
		if err != nil {
			return storage.ParkingSession{}, fmt.Errorf("exitTime: %w", err)
		}
		session.ExitTime = &exit
		session.Version = 2
	}
	if r.DurationMinutes != nil {
		d := storage.RoundMinutes(*r.DurationMinutes)
		session.DurationMinutes = &d
	}
	amount := r.AmountDue
	if amount == nil {
		amount = r.Charge
	}
	if amount != nil {
		a := storage.RoundAmount(*amount)
		session.AmountDue = &a
	}
	session.ExitConfidence = r.ExitConfidence

	return session, nil
}

// parseRecordTime accepts the persisted layout and the RFC 3339 form the
// mobile app wrote.
func parseRecordTime(s string) (time.Time, error) {
	t, err := storage.ParseTime(s)
	if err == nil {
		return t, nil
	}
	if iso, isoErr := time.Parse(time.RFC3339Nano, s); isoErr == nil {
		return storage.TruncateTime(iso), nil
	}
	return time.Time{}, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
