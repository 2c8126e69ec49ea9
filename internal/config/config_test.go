package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != ":8080" {
		t.Fatalf("unexpected port: %s", cfg.ServerPort)
	}
	if cfg.Tracking.AccuracyMaxM != 100 {
		t.Fatalf("unexpected accuracy max: %v", cfg.Tracking.AccuracyMaxM)
	}
	if cfg.Tracking.MaxRetries != 5 {
		t.Fatalf("unexpected max retries: %d", cfg.Tracking.MaxRetries)
	}
	if cfg.Tracking.Cooldown != 5*time.Minute {
		t.Fatalf("unexpected cooldown: %v", cfg.Tracking.Cooldown)
	}
	if cfg.Tracking.TrafficMinKmh >= cfg.Tracking.SpeedThresholdKmh {
		t.Fatalf("traffic min must sit below the speed threshold")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRACK_SPEED_THRESHOLD_KMH", "8")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tracking.SpeedThresholdKmh != 8 {
		t.Fatalf("override ignored: %v", cfg.Tracking.SpeedThresholdKmh)
	}
}
