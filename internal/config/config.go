// Package config loads and holds process-level configuration: server
// ports, storage selection, credential directories, streaming timings and
// the translation/backend knobs every other package reads from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ServerConfig controls the inbound HTTP surface.
type ServerConfig struct {
	Port  string
	Debug bool
}

// RateLimitConfig bounds inbound request rate per API key (or client IP
// when no key is present), plus a coarser global guard.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// SecurityConfig controls inbound auth and credential storage location.
type SecurityConfig struct {
	APIPassword string
	AuthDir     string
}

// StorageConfig selects and configures the storage backend (§4.A).
type StorageConfig struct {
	Backend     string // "postgres", "redis", or "file" — inferred if empty
	PostgresDSN string
	RedisURL    string
	RedisPrefix string
	FileDir     string
}

// CredentialConfig drives pool selection and disabling (§4.B).
type CredentialConfig struct {
	MaxErrorHistory    int
	AutoDisableWindow  int
	Cooldown429Seconds int
	RefreshAheadSeconds int
	AutoLoadEnvCreds   bool
}

// StreamingConfig drives the streaming pipeline (§4.E).
type StreamingConfig struct {
	HeartbeatInterval      time.Duration
	AntiTruncationMaxTries int
	TruncationFinishReasons []string
	ContinuationPrompt     string
}

// BackendConfig drives the outbound Gemini-style client (§4.D).
type BackendConfig struct {
	BaseURL        string
	MaxRetries     int
	UnaryTimeout   time.Duration
	DialTimeout    time.Duration
	TLSTimeout     time.Duration
	ResponseHeaderTimeout time.Duration
}

// OAuthConfig drives token refresh (§4.B/§4.D).
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// ImageHostConfig drives the image rehost client (§4.F).
type ImageHostConfig struct {
	Enabled    bool
	UploadURL  string
	APIKey     string
	Timeout    time.Duration
}

// LoggingConfig drives the ambient logging stack (§4.J).
type LoggingConfig struct {
	Level    string
	JSON     bool
	FilePath string
}

// TranslatorConfig drives translation behavior (§4.C).
type TranslatorConfig struct {
	CompatibilityMode bool
	SafetySettings    []map[string]any
}

// Config is the top-level, domain-grouped process configuration.
type Config struct {
	Server     ServerConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Storage    StorageConfig
	Credential CredentialConfig
	Streaming  StreamingConfig
	Backend    BackendConfig
	OAuth      OAuthConfig
	ImageHost  ImageHostConfig
	Logging    LoggingConfig
	Translator TranslatorConfig
}

// Default returns a Config populated with the same defaults the source
// system ships with.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: "7861"},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		Security: SecurityConfig{
			AuthDir: "./creds",
		},
		Storage: StorageConfig{
			RedisPrefix: "gcli:",
			FileDir:     "./data",
		},
		Credential: CredentialConfig{
			MaxErrorHistory:     20,
			AutoDisableWindow:   3,
			Cooldown429Seconds:  60,
			RefreshAheadSeconds: 300,
		},
		Streaming: StreamingConfig{
			HeartbeatInterval:       3 * time.Second,
			AntiTruncationMaxTries:  3,
			TruncationFinishReasons: []string{"MAX_TOKENS"},
			ContinuationPrompt:      "",
		},
		Backend: BackendConfig{
			BaseURL:               "https://cloudcode-pa.googleapis.com",
			MaxRetries:            3,
			UnaryTimeout:          300 * time.Second,
			DialTimeout:           10 * time.Second,
			TLSTimeout:            10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
		OAuth: OAuthConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		ImageHost: ImageHostConfig{
			UploadURL: "https://www.picgo.net/api/1/upload",
			Timeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Translator: TranslatorConfig{
			SafetySettings: []map[string]any{
				{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
				{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
				{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
				{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
			},
		},
	}
}

// ValidateAndExpandPaths resolves relative directories to absolute paths
// and rejects impossible timeout combinations.
func (c *Config) ValidateAndExpandPaths() error {
	for _, p := range []*string{&c.Security.AuthDir, &c.Storage.FileDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = abs
	}
	if c.Backend.UnaryTimeout <= 0 {
		return fmt.Errorf("backend unary timeout must be positive")
	}
	if c.Streaming.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	return nil
}

// InferredBackend returns the storage backend to use given the configured
// DSNs, honoring the first-non-empty-wins rule from §6.
func (c *Config) InferredBackend() string {
	if c.Storage.Backend != "" {
		return c.Storage.Backend
	}
	if strings.TrimSpace(c.Storage.PostgresDSN) != "" {
		return "postgres"
	}
	if strings.TrimSpace(c.Storage.RedisURL) != "" {
		return "redis"
	}
	return "file"
}

// dirExists is a small helper kept for callers validating CREDENTIALS_DIR.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
