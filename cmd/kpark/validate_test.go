package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/kpark/internal/config"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpark.yaml")
	body := "storage:\n  type: memory\nbilling:\n  unit_rate: 3\n  hourly_rate: 3\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys failed: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "billing.hourly_rate" {
		t.Errorf("Expected [billing.hourly_rate], got %v", unknown)
	}
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("openStorage failed: %v", err)
	}
	defer store.Close()

	if _, err := openStorage(config.StorageConfig{Type: "bolt"}); err == nil {
		t.Error("Expected error for unsupported storage type")
	}
}
