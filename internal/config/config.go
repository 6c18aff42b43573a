// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration. It is immutable after Load;
// nothing in the service mutates configuration at runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Engine        EngineConfig        `yaml:"engine"`
	Dataspace     DataspaceConfig     `yaml:"dataspace"`
	Evidence      EvidenceConfig      `yaml:"evidence"`
	Templates     map[string]string   `yaml:"templates"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ExternalURL     string        `yaml:"external_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT validation and the internal service token
// scheme used by machine-to-machine callbacks.
type IdentityConfig struct {
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	JWKSURL       string        `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms    []string      `yaml:"algorithms"`
	InternalToken string        `yaml:"internal_token"`
}

// EngineConfig describes the remote workflow engine (Camunda engine-rest).
type EngineConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// DataspaceConfig describes the dataspace connector backend.
type DataspaceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings per backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// EvidenceConfig describes where evidence file payloads are stored and how
// the evidence-collection workflow step is recognized by task name.
type EvidenceConfig struct {
	UploadDir         string `yaml:"upload_dir"`
	MaxUploadSize     int64  `yaml:"max_upload_size"`
	CollectStepMarker string `yaml:"collect_step_marker"`
}

// ObservabilityConfig groups logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         300,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: time.Hour,
			Algorithms:   []string{"RS256"},
		},
		Engine: EngineConfig{
			BaseURL: "http://localhost:8091/engine-rest",
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Dataspace: DataspaceConfig{
			Timeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Evidence: EvidenceConfig{
			UploadDir:         "uploads",
			MaxUploadSize:     64 << 20,
			CollectStepMarker: "step2",
		},
		Templates: map[string]string{
			"uc_3": "process_uc3",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Engine.BaseURL == "" {
		errs = append(errs, "engine.base_url is required")
	}
	if c.Identity.JWKSURL == "" && c.Identity.InternalToken == "" {
		errs = append(errs, "identity requires jwks_url or internal_token")
	}
	if len(c.Templates) == 0 {
		errs = append(errs, "at least one template mapping is required")
	}
	for template, definitionKey := range c.Templates {
		if definitionKey == "" {
			errs = append(errs, fmt.Sprintf("templates.%s must name a process definition key", template))
		}
	}
	if c.Evidence.UploadDir == "" {
		errs = append(errs, "evidence.upload_dir is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ProcessDefinitionKey resolves a use-case template to the engine's process
// definition key. The table is fixed at startup.
func (c *Config) ProcessDefinitionKey(template string) (string, bool) {
	key, ok := c.Templates[template]
	return key, ok
}

// applyEnvOverrides reads CASETRACK_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASETRACK_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CASETRACK_ENGINE_BASE_URL"); v != "" {
		cfg.Engine.BaseURL = v
	}
	if v := os.Getenv("CASETRACK_DATASPACE_BASE_URL"); v != "" {
		cfg.Dataspace.BaseURL = v
	}
	if v := os.Getenv("CASETRACK_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("CASETRACK_IDENTITY_INTERNAL_TOKEN"); v != "" {
		cfg.Identity.InternalToken = v
	}
	if v := os.Getenv("CASETRACK_EVIDENCE_UPLOAD_DIR"); v != "" {
		cfg.Evidence.UploadDir = v
	}
	if v := os.Getenv("CASETRACK_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
