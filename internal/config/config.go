// Package config loads service configuration from an optional file and the
// environment.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/career-pipeline/internal/logging"
)

// Defaults applied before the file and environment are read
const (
	DefaultPort             = 8080
	DefaultStageTaskTimeout = 2 * time.Minute
	DefaultSQLitePath       = "career_pipeline.db"
	DefaultJWTExpiration    = 24
	DefaultRateLimitPerHour = 10
)

// Duration is a time.Duration written as a Go duration string ("90s", "2m")
// in config files.
type Duration time.Duration

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the standard time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config is the service configuration. Every field may come from the config
// file; the environment variable named in each comment overrides it.
type Config struct {
	// DatabaseURL selects the Postgres store (DATABASE_URL)
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty" toml:"database_url,omitempty"`
	// SQLitePath is the local store used when DatabaseURL is empty (SQLITE_PATH)
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty" toml:"sqlite_path,omitempty"`

	GeminiAPIKey string `json:"gemini_api_key,omitempty" yaml:"gemini_api_key,omitempty" toml:"gemini_api_key,omitempty"` // GEMINI_API_KEY

	JWTSecret          string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty" toml:"jwt_secret,omitempty"`                               // JWT_SECRET
	JWTExpirationHours int    `json:"jwt_expiration_hours,omitempty" yaml:"jwt_expiration_hours,omitempty" toml:"jwt_expiration_hours,omitempty"` // JWT_EXPIRATION_HOURS

	Port      int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`                   // PORT
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`    // LOG_LEVEL
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty" toml:"log_format,omitempty"` // LOG_FORMAT

	StageTaskTimeout Duration `json:"stage_task_timeout,omitempty" yaml:"stage_task_timeout,omitempty" toml:"stage_task_timeout,omitempty"` // STAGE_TASK_TIMEOUT

	// LockDir holds the single-instance lock file for serve (LOCK_DIR)
	LockDir string `json:"lock_dir,omitempty" yaml:"lock_dir,omitempty" toml:"lock_dir,omitempty"`

	// RateLimitPerHour caps run starts and resumes per client; 0 disables (RATE_LIMIT_PER_HOUR)
	RateLimitPerHour int `json:"rate_limit_per_hour,omitempty" yaml:"rate_limit_per_hour,omitempty" toml:"rate_limit_per_hour,omitempty"`

	CoverLetterTone string `json:"cover_letter_tone,omitempty" yaml:"cover_letter_tone,omitempty" toml:"cover_letter_tone,omitempty"` // COVER_LETTER_TONE
	RoadmapLevel    string `json:"roadmap_level,omitempty" yaml:"roadmap_level,omitempty" toml:"roadmap_level,omitempty"`             // ROADMAP_LEVEL
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		SQLitePath:         DefaultSQLitePath,
		JWTExpirationHours: DefaultJWTExpiration,
		Port:               DefaultPort,
		LogLevel:           "info",
		LogFormat:          logging.FormatConsole,
		StageTaskTimeout:   Duration(DefaultStageTaskTimeout),
		LockDir:            os.TempDir(),
		RateLimitPerHour:   DefaultRateLimitPerHour,
	}
}

// Load builds the configuration: defaults, then the file at path (if any),
// then the process environment. The result is validated.
func Load(fs afero.Fs, path string) (*Config, error) {
	return LoadWithEnv(fs, path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup
func LoadWithEnv(fs afero.Fs, path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(fs, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile decodes the file at path over cfg. The format follows the extension.
func (c *Config) readFile(fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(c)
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(c)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DATABASE_URL", &c.DatabaseURL)
	str("SQLITE_PATH", &c.SQLitePath)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("JWT_SECRET", &c.JWTSecret)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOCK_DIR", &c.LockDir)
	str("COVER_LETTER_TONE", &c.CoverLetterTone)
	str("ROADMAP_LEVEL", &c.RoadmapLevel)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := lookup("JWT_EXPIRATION_HOURS"); ok && v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %w", err)
		}
		c.JWTExpirationHours = hours
	}
	if v, ok := lookup("RATE_LIMIT_PER_HOUR"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_PER_HOUR: %w", err)
		}
		c.RateLimitPerHour = n
	}
	if v, ok := lookup("STAGE_TASK_TIMEOUT"); ok && v != "" {
		if err := c.StageTaskTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid STAGE_TASK_TIMEOUT: %w", err)
		}
	}
	return nil
}

// Validate checks that the configuration has usable values.
// Secrets are not required here; commands that need them call RequireLLM
// or JWT.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 1 and 65535, got %d", c.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config error: unknown 'log_level' %q", c.LogLevel)
	}
	switch c.LogFormat {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("config error: 'log_format' must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, c.LogFormat)
	}
	if c.StageTaskTimeout.Duration() <= 0 {
		return fmt.Errorf("config error: 'stage_task_timeout' must be positive")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("config error: one of 'database_url' or 'sqlite_path' is required")
	}
	if c.RateLimitPerHour < 0 {
		return fmt.Errorf("config error: 'rate_limit_per_hour' must be non-negative")
	}
	if c.JWTExpirationHours < 1 {
		return fmt.Errorf("config error: 'jwt_expiration_hours' must be at least 1, got %d", c.JWTExpirationHours)
	}
	return nil
}

// RequireLLM reports an error when no model API key is configured
func (c *Config) RequireLLM() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required but not set")
	}
	return nil
}

// UsePostgres reports whether the Postgres store is selected
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadDotEnv(fs afero.Fs, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for key, value := range vars {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}
