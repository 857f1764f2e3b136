package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/kpark/internal/storage"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseOptionalFloat(data map[string]string, field string) (*float64, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return &f, nil
}

// sessionFields converts a ParkingSession into Redis hash fields using the
// persisted field names.
func sessionFields(s storage.ParkingSession) map[string]interface{} {
	fields := map[string]interface{}{
		"id":          s.ID,
		"plate":       s.Plate,
		"entryTime":   storage.FormatTime(s.EntryTime),
		"paid":        strconv.FormatBool(s.Paid),
		"entryMethod": s.EntryMethod,
		"confidence":  formatFloat(s.Confidence),
		"image":       s.Image,
		"version":     s.Version,
	}
	if s.ExitTime != nil {
		fields["exitTime"] = storage.FormatTime(*s.ExitTime)
	}
	if s.DurationMinutes != nil {
		fields["durationMinutes"] = formatFloat(*s.DurationMinutes)
	}
	if s.AmountDue != nil {
		fields["amountDue"] = formatFloat(*s.AmountDue)
	}
	if s.ExitConfidence != nil {
		fields["exitConfidence"] = formatFloat(*s.ExitConfidence)
	}
	if s.ExitImage != "" {
		fields["exitImage"] = s.ExitImage
	}
	return fields
}

// parseSession converts a Redis hash to ParkingSession
func parseSession(data map[string]string) (*storage.ParkingSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	entryTime, err := storage.ParseTime(data["entryTime"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse entryTime: %w", err)
	}

	paid, err := strconv.ParseBool(data["paid"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse paid: %w", err)
	}

	version, err := strconv.ParseInt(data["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version: %w", err)
	}

	var confidence float64
	if raw := data["confidence"]; raw != "" {
		confidence, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse confidence: %w", err)
		}
	}

	session := &storage.ParkingSession{
		ID:          data["id"],
		Plate:       data["plate"],
		EntryTime:   entryTime,
		Paid:        paid,
		EntryMethod: data["entryMethod"],
		Confidence:  confidence,
		Image:       data["image"],
		ExitImage:   data["exitImage"],
		Version:     version,
	}

	if raw, ok := data["exitTime"]; ok && raw != "" {
		exitTime, err := storage.ParseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse exitTime: %w", err)
		}
		session.ExitTime = &exitTime
	}

	if session.DurationMinutes, err = parseOptionalFloat(data, "durationMinutes"); err != nil {
		return nil, err
	}
	if session.AmountDue, err = parseOptionalFloat(data, "amountDue"); err != nil {
		return nil, err
	}
	if session.ExitConfidence, err = parseOptionalFloat(data, "exitConfidence"); err != nil {
		return nil, err
	}

	return session, nil
}

// parseUnregisteredEntry converts a stream message to UnregisteredEntry
func parseUnregisteredEntry(id string, values map[string]interface{}) (*storage.UnregisteredEntry, error) {
	plate, _ := values["plate"].(string)
	rawTimestamp, _ := values["timestamp"].(string)
	rawConfidence, _ := values["confidence"].(string)

	timestamp, err := storage.ParseTime(rawTimestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	confidence, err := strconv.ParseFloat(rawConfidence, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse confidence: %w", err)
	}

	return &storage.UnregisteredEntry{
		ID:         id,
		Plate:      plate,
		Timestamp:  timestamp,
		Confidence: confidence,
	}, nil
}

// formatUnregisteredEntry converts an entry to stream fields
func formatUnregisteredEntry(e storage.UnregisteredEntry) map[string]interface{} {
	return map[string]interface{}{
		"plate":      e.Plate,
		"timestamp":  storage.FormatTime(e.Timestamp),
		"confidence": formatFloat(e.Confidence),
	}
}

