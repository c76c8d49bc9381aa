package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Client is the root configuration of actiko-client.
type Client struct {
	ServerURL      string      `yaml:"server_url"`
	DBPath         string      `yaml:"db_path"`
	UserID         string      `yaml:"user_id"`
	Token          string      `yaml:"-"` // env-only, never in YAML
	RequestTimeout Duration    `yaml:"request_timeout"`
	SyncInterval   Duration    `yaml:"sync_interval"`
	BatchSize      int         `yaml:"batch_size"`
	Retry          RetryConfig `yaml:"retry"`
	Log            LogConfig   `yaml:"log"`
}

// RetryConfig contains background sync retry settings.
type RetryConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// LoadClient loads configuration with precedence: defaults → YAML file → env vars.
// Пустой path означает ACTIKO_CONFIG или ~/.actiko/client.yaml, если он существует.
func LoadClient(path string) (*Client, error) {
	cfg := defaultClient()

	path, explicit := resolvePath(path, defaultClientPath("client.yaml"))
	if err := loadYAML(cfg, path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultClient() *Client {
	return &Client{
		ServerURL:      "http://localhost:8080",
		DBPath:         defaultClientPath("client.db"),
		RequestTimeout: Duration(30 * time.Second),
		SyncInterval:   Duration(time.Minute),
		BatchSize:      100,
		Retry: RetryConfig{
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(5 * time.Minute),
			Multiplier:      2,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "auto",
		},
	}
}

func defaultClientPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".actiko", name)
}

// applyEnv applies environment variable overrides.
func (c *Client) applyEnv() error {
	envString("ACTIKO_SERVER_URL", &c.ServerURL)
	envString("ACTIKO_CLIENT_DB", &c.DBPath)
	envString("ACTIKO_USER_ID", &c.UserID)
	envString("ACTIKO_TOKEN", &c.Token)
	envString("ACTIKO_LOG_LEVEL", &c.Log.Level)
	envString("ACTIKO_LOG_FORMAT", &c.Log.Format)

	if err := envDuration("ACTIKO_REQUEST_TIMEOUT", &c.RequestTimeout); err != nil {
		return err
	}
	if err := envDuration("ACTIKO_SYNC_INTERVAL", &c.SyncInterval); err != nil {
		return err
	}
	return envInt("ACTIKO_BATCH_SIZE", &c.BatchSize)
}

// Validate checks client settings. Вызывается после применения флагов командной строки.
func (c *Client) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("user_id is required (ACTIKO_USER_ID or --user)"))
	}
	if c.BatchSize < 1 || c.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("batch_size must be within 1..100, got %d", c.BatchSize))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive"))
	}
	if !validLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
