package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Engine.BaseURL != "http://camunda.internal:8091/engine-rest" {
		t.Errorf("Engine.BaseURL = %q", cfg.Engine.BaseURL)
	}
	if cfg.Engine.Timeout != 10*time.Second {
		t.Errorf("Engine.Timeout = %v, want 10s", cfg.Engine.Timeout)
	}
	if cfg.Engine.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("Engine.CircuitBreaker.FailureThreshold = %d, want 5", cfg.Engine.CircuitBreaker.FailureThreshold)
	}
	if cfg.Dataspace.BaseURL != "http://connector.internal:8181" {
		t.Errorf("Dataspace.BaseURL = %q", cfg.Dataspace.BaseURL)
	}
	if cfg.Identity.Issuer != "https://auth.example.com/realms/cms" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Identity.InternalToken != "internal-ws-secret" {
		t.Errorf("Identity.InternalToken = %q", cfg.Identity.InternalToken)
	}
	if cfg.Evidence.UploadDir != "/var/lib/casetrack/uploads" {
		t.Errorf("Evidence.UploadDir = %q", cfg.Evidence.UploadDir)
	}
	if cfg.Evidence.MaxUploadSize != 33554432 {
		t.Errorf("Evidence.MaxUploadSize = %d", cfg.Evidence.MaxUploadSize)
	}

	key, ok := cfg.ProcessDefinitionKey("uc_3")
	if !ok || key != "process_uc3" {
		t.Errorf("ProcessDefinitionKey(uc_3) = %q, %v", key, ok)
	}
	if _, ok := cfg.ProcessDefinitionKey("uc_9"); ok {
		t.Error("ProcessDefinitionKey(uc_9) should not resolve")
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_env_overrides(t *testing.T) {
	os.Setenv("CASETRACK_ENGINE_BASE_URL", "http://override:9999/engine-rest")
	os.Setenv("CASETRACK_OBSERVABILITY_LOG_LEVEL", "warn")
	defer os.Unsetenv("CASETRACK_ENGINE_BASE_URL")
	defer os.Unsetenv("CASETRACK_OBSERVABILITY_LOG_LEVEL")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.BaseURL != "http://override:9999/engine-rest" {
		t.Errorf("Engine.BaseURL = %q, want env override", cfg.Engine.BaseURL)
	}
	if cfg.Observability.LogLevel != "warn" {
		t.Errorf("Observability.LogLevel = %q, want warn", cfg.Observability.LogLevel)
	}
}

func TestValidate_errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing engine url", func(c *Config) { c.Engine.BaseURL = "" }},
		{"no auth scheme", func(c *Config) {
			c.Identity.JWKSURL = ""
			c.Identity.InternalToken = ""
		}},
		{"no templates", func(c *Config) { c.Templates = nil }},
		{"empty definition key", func(c *Config) { c.Templates = map[string]string{"uc_3": ""} }},
		{"missing upload dir", func(c *Config) { c.Evidence.UploadDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Identity.InternalToken = "tok"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 3001 {
		t.Errorf("default port = %d, want 3001", cfg.Server.Port)
	}
	if key, ok := cfg.ProcessDefinitionKey("uc_3"); !ok || key != "process_uc3" {
		t.Errorf("default template table missing uc_3 mapping: %q, %v", key, ok)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default log level = %q, want info", cfg.Observability.LogLevel)
	}
	if cfg.Evidence.CollectStepMarker != "step2" {
		t.Errorf("default collect step marker = %q, want step2", cfg.Evidence.CollectStepMarker)
	}
}
