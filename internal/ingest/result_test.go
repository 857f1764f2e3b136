package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeResult(t *testing.T) {
	doc := `{
    "original_image": "frame_0042.jpg",
    "timestamp": "20240115_090000",
    "plate_number": "AB12 CDE",
    "confidence": 0.91,
    "plate_image_path": "plates/AB12 CDE_20240115_090000.jpg"
}`

	result, err := DecodeResult(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("DecodeResult failed: %v", err)
	}

	det, err := result.Detection()
	if err != nil {
		t.Fatalf("Detection failed: %v", err)
	}

	if det.PlateRaw != "AB12 CDE" {
		t.Errorf("Expected plate %q, got %q", "AB12 CDE", det.PlateRaw)
	}
	if det.Confidence != 0.91 {
		t.Errorf("Expected confidence 0.91, got %v", det.Confidence)
	}
	if det.ImageRef != "frame_0042.jpg" {
		t.Errorf("Expected original image as reference, got %s", det.ImageRef)
	}
	if want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local); !det.Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, det.Timestamp)
	}
}

func TestResultFile_Detection(t *testing.T) {
	tests := []struct {
		name    string
		result  ResultFile
		wantErr bool
		noPlate bool
		badConf bool
	}{
		{name: "no plate", result: ResultFile{Timestamp: "20240115_090000"}, wantErr: true, noPlate: true},
		{name: "bad timestamp", result: ResultFile{PlateNumber: "AB12CDE", Timestamp: "2024-01-15"}, wantErr: true},
		{name: "missing timestamp", result: ResultFile{PlateNumber: "AB12CDE"}},
		{name: "confidence above one", result: ResultFile{PlateNumber: "AB12CDE", Confidence: 1.5}, wantErr: true, badConf: true},
		{name: "negative confidence", result: ResultFile{PlateNumber: "AB12CDE", Confidence: -0.1}, wantErr: true, badConf: true},
		{name: "confidence bounds", result: ResultFile{PlateNumber: "AB12CDE", Confidence: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.result.Detection()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Detection() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrNoPlate) != tt.noPlate {
				t.Errorf("Detection() ErrNoPlate = %v, want %v", errors.Is(err, ErrNoPlate), tt.noPlate)
			}
			if errors.Is(err, ErrInvalidConfidence) != tt.badConf {
				t.Errorf("Detection() ErrInvalidConfidence = %v, want %v", errors.Is(err, ErrInvalidConfidence), tt.badConf)
			}
		})
	}
}

func TestDecodeResult_Malformed(t *testing.T) {
	if _, err := DecodeResult(strings.NewReader(`{"plate_number": "AB1`)); err == nil {
		t.Error("Expected error for truncated document")
	}
}
