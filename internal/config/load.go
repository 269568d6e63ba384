package config

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the subset of Config an operator may override from a
// YAML file. Anything left zero falls through to Default()'s values, then
// to environment variables applied in LoadWithFile.
type yamlConfig struct {
	Server struct {
		Port  string `yaml:"port"`
		Debug bool   `yaml:"debug"`
	} `yaml:"server"`
	Security struct {
		APIPassword string `yaml:"api_password"`
		AuthDir     string `yaml:"auth_dir"`
	} `yaml:"security"`
	Storage struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
		RedisURL    string `yaml:"redis_url"`
		FileDir     string `yaml:"file_dir"`
	} `yaml:"storage"`
	Backend struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"backend"`
	ImageHost struct {
		Enabled   bool   `yaml:"enabled"`
		UploadURL string `yaml:"upload_url"`
		APIKey    string `yaml:"api_key"`
	} `yaml:"image_host"`
}

// LoadWithFile builds a Config from compiled-in defaults, an optional
// ".env" file, an optional YAML config file, and environment variables —
// in that increasing order of precedence (§4.I).
func LoadWithFile(path string) *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Debug("no .env file loaded")
	}

	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var y yamlConfig
			if err := yaml.Unmarshal(data, &y); err != nil {
				log.WithError(err).Warnf("failed to parse config file %s", path)
			} else {
				applyYAML(cfg, &y)
			}
		} else if !os.IsNotExist(err) {
			log.WithError(err).Warnf("failed to read config file %s", path)
		}
	}

	applyEnv(cfg)
	return cfg
}

func applyYAML(cfg *Config, y *yamlConfig) {
	cfg.Server.Port = firstNonEmpty(y.Server.Port, cfg.Server.Port)
	cfg.Server.Debug = cfg.Server.Debug || y.Server.Debug
	cfg.Security.APIPassword = firstNonEmpty(y.Security.APIPassword, cfg.Security.APIPassword)
	cfg.Security.AuthDir = firstNonEmpty(y.Security.AuthDir, cfg.Security.AuthDir)
	cfg.Storage.Backend = firstNonEmpty(y.Storage.Backend, cfg.Storage.Backend)
	cfg.Storage.PostgresDSN = firstNonEmpty(y.Storage.PostgresDSN, cfg.Storage.PostgresDSN)
	cfg.Storage.RedisURL = firstNonEmpty(y.Storage.RedisURL, cfg.Storage.RedisURL)
	cfg.Storage.FileDir = firstNonEmpty(y.Storage.FileDir, cfg.Storage.FileDir)
	cfg.Backend.BaseURL = firstNonEmpty(y.Backend.BaseURL, cfg.Backend.BaseURL)
	cfg.ImageHost.Enabled = cfg.ImageHost.Enabled || y.ImageHost.Enabled
	cfg.ImageHost.UploadURL = firstNonEmpty(y.ImageHost.UploadURL, cfg.ImageHost.UploadURL)
	cfg.ImageHost.APIKey = firstNonEmpty(y.ImageHost.APIKey, cfg.ImageHost.APIKey)
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getenv("PORT", cfg.Server.Port)
	cfg.Server.Debug = getenvBool("DEBUG", cfg.Server.Debug)

	cfg.RateLimit.RequestsPerSecond = getenvInt("RATE_LIMIT_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = getenvInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Security.APIPassword = getenv("API_PASSWORD", cfg.Security.APIPassword)
	cfg.Security.AuthDir = getenv("CREDENTIALS_DIR", cfg.Security.AuthDir)

	cfg.Storage.PostgresDSN = getenv("POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.RedisURL = firstNonEmpty(os.Getenv("VALKEY_URL"), os.Getenv("REDIS_URL"), cfg.Storage.RedisURL)
	cfg.Storage.FileDir = getenv("CREDENTIALS_DIR", cfg.Storage.FileDir)

	cfg.Credential.AutoLoadEnvCreds = getenvBool("AUTO_LOAD_ENV_CREDS", cfg.Credential.AutoLoadEnvCreds)

	cfg.OAuth.ClientID = getenv("OAUTH_CLIENT_ID", cfg.OAuth.ClientID)
	cfg.OAuth.ClientSecret = getenv("OAUTH_CLIENT_SECRET", cfg.OAuth.ClientSecret)

	cfg.ImageHost.Enabled = getenvBool("PICGO_UPLOAD_ENABLED", cfg.ImageHost.Enabled)
	cfg.ImageHost.UploadURL = getenv("PICGO_UPLOAD_URL", cfg.ImageHost.UploadURL)
	cfg.ImageHost.APIKey = getenv("PICGO_API_KEY", cfg.ImageHost.APIKey)

	cfg.Credential.MaxErrorHistory = getenvInt("MAX_ERROR_HISTORY", cfg.Credential.MaxErrorHistory)
	cfg.Credential.AutoDisableWindow = getenvInt("AUTO_DISABLE_WINDOW", cfg.Credential.AutoDisableWindow)
	cfg.Credential.Cooldown429Seconds = getenvInt("COOLDOWN_429_SECONDS", cfg.Credential.Cooldown429Seconds)
	cfg.Credential.RefreshAheadSeconds = getenvInt("REFRESH_AHEAD_SECONDS", cfg.Credential.RefreshAheadSeconds)

	cfg.Streaming.HeartbeatInterval = getenvDuration("FAKE_STREAMING_INTERVAL", cfg.Streaming.HeartbeatInterval)
	cfg.Streaming.AntiTruncationMaxTries = getenvInt("ANTI_TRUNCATION_MAX_TRIES", cfg.Streaming.AntiTruncationMaxTries)
	if reasons := splitAndTrim(os.Getenv("TRUNCATION_FINISH_REASONS")); len(reasons) > 0 {
		cfg.Streaming.TruncationFinishReasons = reasons
	}

	cfg.Backend.BaseURL = getenv("BACKEND_BASE_URL", cfg.Backend.BaseURL)
	cfg.Backend.MaxRetries = getenvInt("BACKEND_MAX_RETRIES", cfg.Backend.MaxRetries)
	cfg.Backend.UnaryTimeout = getenvDuration("BACKEND_UNARY_TIMEOUT", cfg.Backend.UnaryTimeout)

	cfg.Translator.CompatibilityMode = getenvBool("COMPATIBILITY_MODE", cfg.Translator.CompatibilityMode)

	if cfg.Server.Debug {
		cfg.Logging.Level = "debug"
	}
}
