package config_test

import (
	"strings"
	"testing"
	"time"

	"taskforge/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Bus.BufferSize != 1000 {
		t.Fatalf("buffer size = %d, want 1000", cfg.Bus.BufferSize)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %v, want 2s", cfg.PollInterval())
	}
}

func TestFromYAMLOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("worker:\n  poll_seconds: 7\n  batch_size: 3\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Worker.PollSeconds != 7 || cfg.Worker.BatchSize != 3 {
		t.Fatalf("worker = %+v", cfg.Worker)
	}
	// untouched sections keep defaults
	if cfg.Scheduler.DiscoveryMinutes != 10 {
		t.Fatalf("discovery minutes = %d, want 10", cfg.Scheduler.DiscoveryMinutes)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"zero poll", "worker:\n  poll_seconds: 0\n", "poll_seconds"},
		{"risk out of range", "policy:\n  max_risk_score: 150\n", "max_risk_score"},
		{"zero interval", "scheduler:\n  retry_minutes: -1\n", "retry_minutes"},
		{"not yaml", "worker: [broken", "invalid config yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadOptionalMissingFileFallsBack(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fallback config invalid: %v", err)
	}
}
