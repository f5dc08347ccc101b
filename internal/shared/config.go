package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Refresh     RefreshConfig     `toml:"refresh"`
	Lock        LockConfig        `toml:"lock"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	OpenAI  OpenAIConfig  `toml:"openai"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	TokenPath    string `toml:"token_path"`
	Market       string `toml:"market"`
}

// Map returns the credentials in the shape accepted by services.NewSpotifyService.
func (c SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
		"market":        c.Market,
	}
}

// OpenAIConfig contains settings for the OpenAI-compatible suggestion generator.
type OpenAIConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
}

// Key returns the configured API key, falling back to the OPENAI_API_KEY environment variable.
func (c OpenAIConfig) Key() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// RefreshConfig tunes candidate selection and commit behavior.
type RefreshConfig struct {
	OversupplyFactor int    `toml:"oversupply_factor"`
	SearchBudget     int    `toml:"search_budget"`
	SuggestTimeout   string `toml:"suggest_timeout"`
	HomeMarket       string `toml:"home_market"`
	TargetLanguage   string `toml:"target_language"`
	CommitLease      string `toml:"commit_lease"`
}

// SuggestTimeoutDuration parses suggest_timeout. An empty value disables the timeout.
func (c RefreshConfig) SuggestTimeoutDuration() (time.Duration, error) {
	return parseDuration("refresh.suggest_timeout", c.SuggestTimeout)
}

// CommitLeaseDuration parses commit_lease. An empty value disables stale-claim recovery.
// The lease should outlast the slowest external playlist update.
func (c RefreshConfig) CommitLeaseDuration() (time.Duration, error) {
	return parseDuration("refresh.commit_lease", c.CommitLease)
}

// LockConfig selects the per-playlist lock backend.
type LockConfig struct {
	Backend       string `toml:"backend"` // memory or redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTL           string `toml:"ttl"`
}

// TTLDuration parses the redis lease ttl.
func (c LockConfig) TTLDuration() (time.Duration, error) {
	return parseDuration("lock.ttl", c.TTL)
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, field)
	}
	return d, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown lock backend %q", ErrInvalidConfig, c.Lock.Backend)
	}
	if c.Lock.Backend == "redis" && c.Lock.RedisAddr == "" {
		return fmt.Errorf("%w: lock.redis_addr is required for the redis backend", ErrInvalidConfig)
	}
	if c.Refresh.OversupplyFactor < 0 || c.Refresh.SearchBudget < 0 {
		return fmt.Errorf("%w: refresh factors must not be negative", ErrInvalidConfig)
	}
	if _, err := c.Refresh.SuggestTimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Refresh.CommitLeaseDuration(); err != nil {
		return err
	}
	if _, err := c.Lock.TTLDuration(); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
