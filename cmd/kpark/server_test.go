package main

import (
	"testing"
	"time"

	"github.com/goodtune/kpark/internal/clock"
	"github.com/goodtune/kpark/internal/config"
	"github.com/goodtune/kpark/internal/plate"
	"github.com/rs/zerolog"
)

func TestNewFilters(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.Local)
	cfg := config.Default()
	cfg.Dedup.Window = "10s"

	filters, err := newFilters(cfg, clock.NewTestClock(start), zerolog.Nop())
	if err != nil {
		t.Fatalf("newFilters failed: %v", err)
	}
	filter, err := filters.For("test")
	if err != nil {
		t.Fatalf("For failed: %v", err)
	}

	key, err := plate.Normalize("AB12CDE")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if !filter.Admit(key, start) {
		t.Fatal("Expected first read to be admitted")
	}
	if filter.Admit(key, start.Add(5*time.Second)) {
		t.Error("Expected read inside the window to be suppressed")
	}
	if !filter.Admit(key, start.Add(11*time.Second)) {
		t.Error("Expected read after the window to be admitted")
	}
}

func TestNewFilters_InvalidDurations(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"bad window", func(c *config.Config) { c.Dedup.Window = "soon" }},
		{"negative window", func(c *config.Config) { c.Dedup.Window = "-5s" }},
		{"bad sweep interval", func(c *config.Config) { c.Dedup.SweepInterval = "often" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			if _, err := newFilters(cfg, clock.RealClock{}, zerolog.Nop()); err == nil {
				t.Error("Expected error for invalid dedup duration")
			}
		})
	}
}

func TestNewAPIConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Admin.TokenTTL = "2h"

	apiCfg, err := newAPIConfig(cfg)
	if err != nil {
		t.Fatalf("newAPIConfig failed: %v", err)
	}
	if apiCfg.ListenAddr != "127.0.0.1:8080" {
		t.Errorf("Expected listen address 127.0.0.1:8080, got %s", apiCfg.ListenAddr)
	}
	if apiCfg.TokenTTL != 2*time.Hour {
		t.Errorf("Expected token TTL 2h, got %v", apiCfg.TokenTTL)
	}

	cfg.Admin.TokenTTL = "forever"
	if _, err := newAPIConfig(cfg); err == nil {
		t.Error("Expected error for invalid token TTL")
	}
}
