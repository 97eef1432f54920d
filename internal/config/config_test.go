package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr() != "0.0.0.0:50051" {
		t.Fatalf("GRPCAddr = %q, want 0.0.0.0:50051", cfg.GRPCAddr())
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q, want %q", cfg.StoreDriver, StoreDriverPostgres)
	}
	if cfg.DefaultDuration != time.Hour {
		t.Fatalf("DefaultDuration = %v, want 1h", cfg.DefaultDuration)
	}
	if cfg.MaxDescriptionLength != 500 {
		t.Fatalf("MaxDescriptionLength = %d, want 500", cfg.MaxDescriptionLength)
	}
	if cfg.OutboxPollEvery != 2*time.Second || cfg.OutboxBatchSize != 50 {
		t.Fatalf("outbox = %v/%d", cfg.OutboxPollEvery, cfg.OutboxBatchSize)
	}
	if cfg.OTelEnabled {
		t.Fatalf("OTelEnabled = true by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRAINING_STORE_DRIVER", "Memory")
	t.Setenv("TRAINING_STORE_SEED_FILE", " /etc/training/seed.yaml ")
	t.Setenv("TRAINING_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("TRAINING_SCHEDULING_DEFAULT_DURATION", "90m")
	t.Setenv("TRAINING_SCHEDULING_MAX_DESCRIPTION_LENGTH", "120")
	t.Setenv("KAFKA_BROKERS", "kafka:9092")
	t.Setenv("TRAINING_OUTBOX_POLL_INTERVAL", "500ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.SeedFile != "/etc/training/seed.yaml" {
		t.Fatalf("SeedFile = %q, want /etc/training/seed.yaml", cfg.SeedFile)
	}
	if cfg.GRPCHost != "127.0.0.1" || cfg.GRPCPort != 6000 {
		t.Fatalf("grpc = %s:%d, want 127.0.0.1:6000", cfg.GRPCHost, cfg.GRPCPort)
	}
	if cfg.DefaultDuration != 90*time.Minute {
		t.Fatalf("DefaultDuration = %v, want 90m", cfg.DefaultDuration)
	}
	if cfg.MaxDescriptionLength != 120 {
		t.Fatalf("MaxDescriptionLength = %d, want 120", cfg.MaxDescriptionLength)
	}
	if cfg.KafkaBrokers != "kafka:9092" {
		t.Fatalf("KafkaBrokers = %q", cfg.KafkaBrokers)
	}
	if cfg.OutboxPollEvery != 500*time.Millisecond {
		t.Fatalf("OutboxPollEvery = %v", cfg.OutboxPollEvery)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"TRAINING_SHUTDOWN_TIMEOUT": "soon"}},
		{"non-positive session length", map[string]string{"TRAINING_SCHEDULING_DEFAULT_DURATION": "0s"}},
		{"unknown driver", map[string]string{"TRAINING_STORE_DRIVER": "mongo"}},
		{"sampling ratio out of range", map[string]string{"TRAINING_OTEL_SAMPLING_RATIO": "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
