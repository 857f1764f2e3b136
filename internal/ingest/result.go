// Package ingest feeds recognizer output into the session engine: result
// files from a directory, one-off batch replays, and conflict retries.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goodtune/kpark/internal/session"
)

// ResultTimestampLayout is the capture time format the recognizer writes.
const ResultTimestampLayout = "20060102_150405"

// ErrNoPlate is returned for results where OCR produced no text.
var ErrNoPlate = errors.New("result has no plate number")

// ErrInvalidConfidence is returned for results whose confidence is outside [0,1].
var ErrInvalidConfidence = errors.New("confidence out of range")

// ResultFile is one recognizer output document.
type ResultFile struct {
	OriginalImage  string  `json:"original_image"`
	Timestamp      string  `json:"timestamp"`
	PlateNumber    string  `json:"plate_number"`
	Confidence     float64 `json:"confidence"`
	PlateImagePath string  `json:"plate_image_path"`
	CameraID       string  `json:"camera_id,omitempty"`
}

// DecodeResult reads one result document.
func DecodeResult(r io.Reader) (*ResultFile, error) {
	var result ResultFile
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// ReadResultFile reads and decodes the result document at path.
func ReadResultFile(path string) (*ResultFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeResult(f)
}

// Detection converts the result into engine input. The session image is the
// original frame, not the plate crop.
func (r ResultFile) Detection() (session.Detection, error) {
	if r.PlateNumber == "" {
		return session.Detection{}, ErrNoPlate
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return session.Detection{}, fmt.Errorf("%w: %v", ErrInvalidConfidence, r.Confidence)
	}

	det := session.Detection{
		PlateRaw:   r.PlateNumber,
		Confidence: r.Confidence,
		ImageRef:   r.OriginalImage,
	}

	if r.Timestamp != "" {
		captured, err := time.ParseInLocation(ResultTimestampLayout, r.Timestamp, time.Local)
		if err != nil {
			return session.Detection{}, fmt.Errorf("invalid result timestamp %q: %w", r.Timestamp, err)
		}
		det.Timestamp = captured
	}

	return det, nil
}
