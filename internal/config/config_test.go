package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("EXTRACTION_PROVIDER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Backend != StoreMemory {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, StoreMemory)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Cooldown != 60*time.Second {
		t.Errorf("Breaker.Cooldown = %v, want 60s", cfg.Breaker.Cooldown)
	}
	if cfg.Sizer.ChunkCharThreshold != 20000 {
		t.Errorf("Sizer.ChunkCharThreshold = %d, want 20000", cfg.Sizer.ChunkCharThreshold)
	}
	if cfg.Validator.OutflowMinOverlap != 0.20 {
		t.Errorf("Validator.OutflowMinOverlap = %v, want 0.20", cfg.Validator.OutflowMinOverlap)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("EXTRACTION_PROVIDER", "regex")
	t.Setenv("VALIDATOR_INFLOW_MIN_OVERLAP", "0.3")
	t.Setenv("BREAKER_COOLDOWN", "5s")
	t.Setenv("PIPELINE_WORKERS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gemini.Provider != "regex" {
		t.Errorf("Provider = %q, want regex", cfg.Gemini.Provider)
	}
	if cfg.Validator.InflowMinOverlap != 0.3 {
		t.Errorf("InflowMinOverlap = %v, want 0.3", cfg.Validator.InflowMinOverlap)
	}
	if cfg.Breaker.Cooldown != 5*time.Second {
		t.Errorf("Cooldown = %v, want 5s", cfg.Breaker.Cooldown)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Pipeline.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bigquery without project",
			env:     map[string]string{"STORE_BACKEND": "bigquery", "BIGQUERY_PROJECT": ""},
			wantErr: "BIGQUERY_PROJECT",
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": ""},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"STORE_BACKEND": "mongo"},
			wantErr: "unknown STORE_BACKEND",
		},
		{
			name:    "lease shorter than timeout",
			env:     map[string]string{"STORE_BACKEND": "", "PIPELINE_JOB_TIMEOUT": "20m", "PIPELINE_LEASE_TTL": "10m"},
			wantErr: "PIPELINE_LEASE_TTL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
