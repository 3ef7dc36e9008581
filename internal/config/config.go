package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
)

// EnvPrefix es el prefijo de las variables de entorno que pisan el YAML.
const EnvPrefix = "IDENTITY_"

// DefaultPool es el nombre del pool de storage principal.
const DefaultPool = "default"

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env" env:"ENV"`
	} `yaml:"app" envPrefix:"APP_"`

	Server struct {
		Addr               string        `yaml:"addr" env:"ADDR"`
		CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
		ReadTimeout        time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
		WriteTimeout       time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

		// RateLimit por app+IP sobre las rutas de app. Max 0 lo desactiva.
		RateLimit struct {
			Max    int           `yaml:"max" env:"MAX"`
			Window time.Duration `yaml:"window" env:"WINDOW"`
		} `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	} `yaml:"server" envPrefix:"SERVER_"`

	Log struct {
		Level string `yaml:"level" env:"LEVEL"`
	} `yaml:"log" envPrefix:"LOG_"`

	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`

	Cache cache.Config `yaml:"cache" envPrefix:"CACHE_"`

	Security struct {
		// SecretBoxKey cifra los secretos TOTP importados (base64 o hex de 32
		// bytes). Vacío => se guardan en claro.
		SecretBoxKey string `yaml:"secretbox_key" env:"SECRETBOX_KEY"`
	} `yaml:"security" envPrefix:"SECURITY_"`

	Session struct {
		RevocationTTL time.Duration `yaml:"revocation_ttl" env:"REVOCATION_TTL"`
	} `yaml:"session" envPrefix:"SESSION_"`

	// Apps lista las apps servidas. Solo YAML.
	Apps []AppConfig `yaml:"apps"`

	BulkImport struct {
		Enabled        bool          `yaml:"enabled" env:"ENABLED"`
		BatchSize      int           `yaml:"batch_size" env:"BATCH_SIZE"`
		Interval       time.Duration `yaml:"interval" env:"INTERVAL"`
		MaxUsersPerAdd int           `yaml:"max_users_per_add" env:"MAX_USERS_PER_ADD"`
		Parallelism    int           `yaml:"parallelism" env:"PARALLELISM"`
	} `yaml:"bulk_import" envPrefix:"BULK_IMPORT_"`
}

type StorageConfig struct {
	Driver         string        `yaml:"driver" env:"DRIVER"` // postgres | memory
	DSN            string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns   int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns   int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	TxRetries      int           `yaml:"tx_retries" env:"TX_RETRIES"`
	TxRetryBackoff time.Duration `yaml:"tx_retry_backoff" env:"TX_RETRY_BACKOFF"`
	Migrate        bool          `yaml:"migrate" env:"MIGRATE"`

	// Pools adicionales por nombre (user pools separados). Solo YAML.
	Pools map[string]PoolConfig `yaml:"pools"`
}

type PoolConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AppConfig struct {
	ID             string   `yaml:"id"`
	Pool           string   `yaml:"pool"` // vacío => default
	AccountLinking bool     `yaml:"account_linking"`
	Roles          []string `yaml:"roles"` // roles válidos para bulk import; vacío => cualquiera
}

// Load lee el YAML (si path no está vacío), aplica defaults y después las
// variables IDENTITY_*.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.RateLimit.Max > 0 && c.Server.RateLimit.Window == 0 {
		c.Server.RateLimit.Window = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.TxRetries == 0 {
		c.Storage.TxRetries = 3
	}
	if c.Storage.TxRetryBackoff == 0 {
		c.Storage.TxRetryBackoff = 20 * time.Millisecond
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "identity"
	}
	if len(c.Apps) == 0 {
		c.Apps = []AppConfig{{ID: "public"}}
	}
	for i := range c.Apps {
		if c.Apps[i].Pool == "" {
			c.Apps[i].Pool = DefaultPool
		}
	}
	// valores de la importación masiva de referencia
	if c.BulkImport.BatchSize == 0 {
		c.BulkImport.BatchSize = 8000
	}
	if c.BulkImport.Interval == 0 {
		c.BulkImport.Interval = 5 * time.Minute
	}
	if c.BulkImport.MaxUsersPerAdd == 0 {
		c.BulkImport.MaxUsersPerAdd = 10000
	}
	if c.BulkImport.Parallelism == 0 {
		c.BulkImport.Parallelism = 4
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}
	seen := make(map[string]struct{}, len(c.Apps))
	for _, a := range c.Apps {
		if strings.TrimSpace(a.ID) == "" {
			errs = append(errs, errors.New("apps[].id is required"))
			continue
		}
		if _, dup := seen[a.ID]; dup {
			errs = append(errs, fmt.Errorf("app %q declared twice", a.ID))
		}
		seen[a.ID] = struct{}{}
		if a.Pool != DefaultPool {
			if _, ok := c.Storage.Pools[a.Pool]; !ok {
				errs = append(errs, fmt.Errorf("app %q: pool %q is not configured", a.ID, a.Pool))
			}
		}
	}
	if c.BulkImport.BatchSize < 0 || c.BulkImport.MaxUsersPerAdd < 0 {
		errs = append(errs, errors.New("bulk_import sizes must be positive"))
	}
	return errors.Join(errs...)
}

// AppByID retorna la configuración de la app.
func (c *Config) AppByID(appID string) (AppConfig, bool) {
	for _, a := range c.Apps {
		if a.ID == appID {
			return a, true
		}
	}
	return AppConfig{}, false
}

// AppIDs lista las apps configuradas.
func (c *Config) AppIDs() []string {
	out := make([]string, 0, len(c.Apps))
	for _, a := range c.Apps {
		out = append(out, a.ID)
	}
	return out
}

// AccountLinkingEnabled implementa accountlinking.FeatureFlags.
func (c *Config) AccountLinkingEnabled(appID string) bool {
	a, ok := c.AppByID(appID)
	return ok && a.AccountLinking
}

// RolesFor retorna los roles válidos de la app (nil acepta cualquiera).
func (c *Config) RolesFor(appID string) []string {
	a, _ := c.AppByID(appID)
	return a.Roles
}

// AdapterConfig resuelve el adapter de storage de la app.
func (c *Config) AdapterConfig(appID string) (store.AdapterConfig, error) {
	a, ok := c.AppByID(appID)
	if !ok {
		return store.AdapterConfig{}, fmt.Errorf("config: unknown app %q", appID)
	}
	cfg := store.AdapterConfig{
		Name:           c.Storage.Driver,
		DSN:            c.Storage.DSN,
		UserPoolID:     DefaultPool,
		MaxOpenConns:   c.Storage.MaxOpenConns,
		MaxIdleConns:   c.Storage.MaxIdleConns,
		TxRetries:      c.Storage.TxRetries,
		TxRetryBackoff: c.Storage.TxRetryBackoff,
	}
	if a.Pool != DefaultPool {
		p, ok := c.Storage.Pools[a.Pool]
		if !ok {
			return store.AdapterConfig{}, fmt.Errorf("config: app %q: %w", appID, store.ErrPoolNotConfigured)
		}
		cfg.UserPoolID = a.Pool
		cfg.DSN = p.DSN
		if p.Driver != "" {
			cfg.Name = p.Driver
		}
	}
	return cfg, nil
}
