package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes the environment variables overriding file settings, for
// example SITECLONE_PLATFORM_CLIENT_SECRET.
const EnvPrefix = "SITECLONE"

// Polling defaults used when the configuration leaves them unset.
const (
	DefaultInitialInterval = 2 * time.Second
	DefaultMaxInterval     = time.Minute
	DefaultMaxWait         = time.Hour
)

// Bool is a boolean which may be set from the environment as "true", "1", "yes"
// or "on" in any casing.
type Bool bool

// UnmarshalText implements the encoding.TextUnmarshaler interface for a Bool.
func (b *Bool) UnmarshalText(text []byte) error {
	str := strings.ToLower(strings.TrimSpace(string(text)))
	*b = str == "true" || str == "1" || str == "yes" || str == "on"
	return nil
}

// Config represents the entire application configuration.
type Config struct {
	Platform PlatformConfig `yaml:"platform"`
	History  HistoryConfig  `yaml:"history"`
	Polling  PollingConfig  `yaml:"polling"`
	Backups  BackupsConfig  `yaml:"backups"`
}

// PlatformConfig holds the platform API settings.
type PlatformConfig struct {
	BaseURL       string   `yaml:"base_url" split_words:"true"`
	TokenURL      string   `yaml:"token_url" split_words:"true"`
	ClientID      string   `yaml:"client_id" split_words:"true"`
	ClientSecret  string   `yaml:"client_secret" split_words:"true"`
	Scopes        []string `yaml:"scopes" split_words:"true"`
	TokenFilePath string   `yaml:"token_file_path" split_words:"true"`

	CredentialsConfig *clientcredentials.Config `yaml:"-" ignored:"true"`
}

// HistoryConfig holds the clone history database settings. SQLDir, when set,
// replaces the embedded SQL statements with those in the directory.
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path" split_words:"true"`
	SQLDir       string `yaml:"sql_dir" split_words:"true"`
}

// PollingConfig bounds the wait for a backup to finish.
type PollingConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" split_words:"true"`
	MaxInterval     time.Duration `yaml:"max_interval" split_words:"true"`
	MaxWait         time.Duration `yaml:"max_wait" split_words:"true"`
}

// BackupsConfig sets how backups are taken.
type BackupsConfig struct {
	Parallel Bool `yaml:"parallel"`
	Scoped   Bool `yaml:"scoped"`
}

// Load loads the configuration from the given file path, applies any
// environment overrides and validates the result. A .env file in the working
// directory is loaded into the environment first if present.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unable to load .env file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("unable to process environment overrides: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateAndPrepare checks for required fields and sets up derived values.
func validateAndPrepare(c *Config) error {

	// Platform
	pc := &c.Platform
	if pc.BaseURL == "" {
		return errors.New("platform.base_url is missing")
	}
	if _, err := url.ParseRequestURI(pc.BaseURL); err != nil {
		return fmt.Errorf("invalid platform.base_url: %w", err)
	}
	if pc.TokenURL == "" {
		return errors.New("platform.token_url is missing")
	}
	if pc.ClientID == "" {
		return errors.New("platform.client_id is missing")
	}
	if pc.ClientSecret == "" {
		return errors.New("platform.client_secret is missing")
	}
	if pc.TokenFilePath == "" {
		return errors.New("platform.token_file_path is missing")
	}
	pc.CredentialsConfig = &clientcredentials.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		TokenURL:     pc.TokenURL,
		Scopes:       pc.Scopes,
	}

	// History
	if c.History.DatabasePath == "" {
		return errors.New("history.database_path is missing")
	}
	if c.History.SQLDir != "" {
		if info, err := os.Stat(c.History.SQLDir); err != nil || !info.IsDir() {
			return fmt.Errorf("history.sql_dir %q is not a directory", c.History.SQLDir)
		}
	}

	// Polling
	p := &c.Polling
	if p.InitialInterval == 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxWait == 0 {
		p.MaxWait = DefaultMaxWait
	}
	if p.InitialInterval < 0 || p.MaxInterval < 0 || p.MaxWait < 0 {
		return errors.New("polling intervals cannot be negative")
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("polling.max_interval %s is shorter than polling.initial_interval %s", p.MaxInterval, p.InitialInterval)
	}

	return nil
}
