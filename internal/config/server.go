package config

import (
	"errors"
	"fmt"
	"time"
)

// Поддерживаемые драйверы хранилища сервера
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Server is the root configuration of actiko-server.
type Server struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Sync    SyncConfig    `yaml:"sync"`
	Log     LogConfig     `yaml:"log"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StorageConfig contains database settings.
type StorageConfig struct {
	Driver string     `yaml:"driver"`
	Path   string     `yaml:"path"` // sqlite
	URL    string     `yaml:"-"`    // postgres, только из окружения
	Pool   PoolConfig `yaml:"pool"`
}

// PoolConfig contains postgres pool settings.
type PoolConfig struct {
	MaxConns          int      `yaml:"max_conns"`
	MinConns          int      `yaml:"min_conns"`
	MaxConnLifetime   Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod Duration `yaml:"health_check_period"`
}

// AuthConfig contains JWT settings.
type AuthConfig struct {
	Secret         string   `yaml:"-"` // env-only, never in YAML
	AccessTokenTTL Duration `yaml:"access_token_ttl"`
}

// SyncConfig contains conflict resolution settings.
type SyncConfig struct {
	DuplicateWindow Duration `yaml:"duplicate_window"`
	LedgerRetention Duration `yaml:"ledger_retention"`
	JanitorInterval Duration `yaml:"janitor_interval"`
}

// LoadServer loads configuration with precedence: defaults → YAML file → env vars.
// Пустой path означает ACTIKO_CONFIG или actiko-server.yaml, если он существует.
func LoadServer(path string) (*Server, error) {
	cfg := defaultServer()

	path, explicit := resolvePath(path, "actiko-server.yaml")
	if err := loadYAML(cfg, path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultServer() *Server {
	return &Server{
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "actiko.db",
			Pool: PoolConfig{
				MaxConns:          20,
				MinConns:          2,
				MaxConnLifetime:   Duration(time.Hour),
				MaxConnIdleTime:   Duration(30 * time.Minute),
				HealthCheckPeriod: Duration(time.Minute),
			},
		},
		Auth: AuthConfig{
			AccessTokenTTL: Duration(24 * time.Hour),
		},
		Sync: SyncConfig{
			DuplicateWindow: Duration(time.Second),
			LedgerRetention: Duration(30 * 24 * time.Hour),
			JanitorInterval: Duration(time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv applies environment variable overrides.
// Only non-empty env vars override config values.
func (c *Server) applyEnv() error {
	envString("ACTIKO_HTTP_ADDRESS", &c.HTTP.Address)
	envString("ACTIKO_STORAGE_DRIVER", &c.Storage.Driver)
	envString("ACTIKO_DB_PATH", &c.Storage.Path)
	envString("ACTIKO_DATABASE_URL", &c.Storage.URL)
	envString("ACTIKO_JWT_SECRET", &c.Auth.Secret)
	envString("ACTIKO_LOG_LEVEL", &c.Log.Level)
	envString("ACTIKO_LOG_FORMAT", &c.Log.Format)

	durations := map[string]*Duration{
		"ACTIKO_HTTP_READ_TIMEOUT":     &c.HTTP.ReadTimeout,
		"ACTIKO_HTTP_WRITE_TIMEOUT":    &c.HTTP.WriteTimeout,
		"ACTIKO_HTTP_SHUTDOWN_TIMEOUT": &c.HTTP.ShutdownTimeout,
		"ACTIKO_ACCESS_TOKEN_TTL":      &c.Auth.AccessTokenTTL,
		"ACTIKO_DUPLICATE_WINDOW":      &c.Sync.DuplicateWindow,
		"ACTIKO_LEDGER_RETENTION":      &c.Sync.LedgerRetention,
		"ACTIKO_JANITOR_INTERVAL":      &c.Sync.JanitorInterval,
	}
	for key, dst := range durations {
		if err := envDuration(key, dst); err != nil {
			return err
		}
	}

	if err := envInt("ACTIKO_DB_MAX_CONNS", &c.Storage.Pool.MaxConns); err != nil {
		return err
	}
	return envInt("ACTIKO_DB_MIN_CONNS", &c.Storage.Pool.MinConns)
}

// Validate checks that required configuration values are set.
func (c *Server) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Storage.URL == "" {
			errs = append(errs, errors.New("ACTIKO_DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Sync.DuplicateWindow < 0 {
		errs = append(errs, errors.New("sync.duplicate_window must not be negative"))
	}
	if c.Sync.JanitorInterval <= 0 {
		errs = append(errs, errors.New("sync.janitor_interval must be positive"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}
	if !validLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// RequireSecret проверяет наличие секрета JWT.
// Нужен только командам, которые подписывают или проверяют токены.
func (c *Server) RequireSecret() error {
	if c.Auth.Secret == "" {
		return errors.New("ACTIKO_JWT_SECRET is required")
	}
	return nil
}
