package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/operator-dao/pkg/governance"
	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/store"
)

// EnvPrefix is prepended to every environment override, e.g. DAO_STORE_DSN
const EnvPrefix = "DAO"

// Config is the daemon configuration
type Config struct {
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	Governance GovernanceConfig    `yaml:"governance" mapstructure:"governance"`
	Actions    []models.ActionSpec `yaml:"actions" mapstructure:"actions"`
	Callers    []CallerConfig      `yaml:"callers" mapstructure:"callers"`
	Logging    LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Tracing    TracingConfig       `yaml:"tracing" mapstructure:"tracing"`
	RateLimit  RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port            int       `yaml:"port" mapstructure:"port"`
	MetricsPort     int       `yaml:"metrics_port" mapstructure:"metrics_port"`
	EnableMetrics   bool      `yaml:"enable_metrics" mapstructure:"enable_metrics"`
	ShutdownTimeout string    `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLS             TLSConfig `yaml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile          string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile           string `yaml:"key_file" mapstructure:"key_file"`
	CAFile            string `yaml:"ca_file" mapstructure:"ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert" mapstructure:"require_client_cert"`
	AutoGenerate      bool   `yaml:"auto_generate" mapstructure:"auto_generate"` // self-signed pair when cert_file is missing
}

type StoreConfig struct {
	Type            string `yaml:"type" mapstructure:"type"` // memory, sqlite, postgres
	Path            string `yaml:"path" mapstructure:"path"`
	DSN             string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

type GovernanceConfig struct {
	Threshold                 int            `yaml:"threshold" mapstructure:"threshold"`
	EnforceExtensionAllowlist bool           `yaml:"enforce_extension_allowlist" mapstructure:"enforce_extension_allowlist"`
	BootstrapRef              string         `yaml:"bootstrap_ref" mapstructure:"bootstrap_ref"`
	AutoConstruct             bool           `yaml:"auto_construct" mapstructure:"auto_construct"`
	Deployer                  models.Address `yaml:"deployer" mapstructure:"deployer"` // caller recorded for auto_construct
}

// CallerConfig binds an address to the bcrypt hash of its API key
type CallerConfig struct {
	Address models.Address `yaml:"address" mapstructure:"address"`
	KeyHash string         `yaml:"key_hash" mapstructure:"key_hash"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
	Dir   string `yaml:"dir" mapstructure:"dir"` // empty logs to stdout only
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	Service     string `yaml:"service" mapstructure:"service"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

type RateLimitConfig struct {
	RPS     float64 `yaml:"rps" mapstructure:"rps"` // 0 disables limiting
	Burst   int     `yaml:"burst" mapstructure:"burst"`
	IdleTTL string  `yaml:"idle_ttl" mapstructure:"idle_ttl"`
}

// Default returns the reference deployment: SQLite storage, threshold 2,
// three bootstrap operators and the dp000..dp003 actions.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MetricsPort:     9090,
			EnableMetrics:   true,
			ShutdownTimeout: "15s",
			TLS: TLSConfig{
				CertFile:     "certs/daod.crt",
				KeyFile:      "certs/daod.key",
				AutoGenerate: true,
			},
		},
		Store: StoreConfig{
			Type:            "sqlite",
			Path:            "dao.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
			ConnMaxIdleTime: "1m",
		},
		Governance: GovernanceConfig{
			Threshold:                 governance.DefaultThreshold,
			EnforceExtensionAllowlist: true,
			BootstrapRef:              governance.RefBootstrap,
			Deployer:                  governance.DefaultOperator1,
		},
		Actions: governance.DefaultActionSpecs(),
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Service:     "daod",
			Environment: "development",
		},
		RateLimit: RateLimitConfig{
			RPS:     20,
			Burst:   40,
			IdleTTL: "10m",
		},
	}
}

// DefaultPath is $HOME/.operator-dao/daod.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "daod.yaml"
	}
	return filepath.Join(home, ".operator-dao", "daod.yaml")
}

// Load reads the config file at path (or the default location when path
// is empty and the file exists), applies DAO_* environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.SetConfigName("daod")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("server.enable_metrics", d.Server.EnableMetrics)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.ca_file", d.Server.TLS.CAFile)
	v.SetDefault("server.tls.require_client_cert", d.Server.TLS.RequireClientCert)
	v.SetDefault("server.tls.auto_generate", d.Server.TLS.AutoGenerate)

	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.conn_max_idle_time", d.Store.ConnMaxIdleTime)

	v.SetDefault("governance.threshold", d.Governance.Threshold)
	v.SetDefault("governance.enforce_extension_allowlist", d.Governance.EnforceExtensionAllowlist)
	v.SetDefault("governance.bootstrap_ref", d.Governance.BootstrapRef)
	v.SetDefault("governance.auto_construct", d.Governance.AutoConstruct)
	v.SetDefault("governance.deployer", string(d.Governance.Deployer))

	v.SetDefault("actions", d.Actions)
	v.SetDefault("callers", d.Callers)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.json", d.Logging.JSON)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service", d.Tracing.Service)
	v.SetDefault("tracing.environment", d.Tracing.Environment)

	v.SetDefault("rate_limit.rps", d.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.idle_ttl", d.RateLimit.IdleTTL)
}

// Validate checks the configuration before the daemon starts
func (c *Config) Validate() error {
	if err := validPort("server.port", c.Server.Port); err != nil {
		return err
	}
	if c.Server.EnableMetrics {
		if err := validPort("server.metrics_port", c.Server.MetricsPort); err != nil {
			return err
		}
		if c.Server.MetricsPort == c.Server.Port {
			return fmt.Errorf("server.metrics_port must differ from server.port (%d)", c.Server.Port)
		}
	}
	if _, err := parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	if t := c.Server.TLS; t.Enabled {
		if t.CertFile == "" || t.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
		}
		if t.RequireClientCert && t.CAFile == "" {
			return fmt.Errorf("server.tls.ca_file is required for client certificate verification")
		}
	}

	switch c.Store.Type {
	case "memory", "sqlite":
	case "postgres", "postgresql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s", c.Store.Type)
		}
	default:
		return fmt.Errorf("store.type %q: %w", c.Store.Type, store.ErrUnsupportedDatabase)
	}
	if _, err := c.StoreConfig(); err != nil {
		return err
	}

	if c.Governance.Threshold < 1 {
		return fmt.Errorf("governance.threshold must be at least 1, got %d", c.Governance.Threshold)
	}
	if _, err := governance.NewCatalog(c.Actions); err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	boot, ok := c.action(c.Governance.BootstrapRef)
	if !ok {
		return fmt.Errorf("governance.bootstrap_ref %q is not in actions", c.Governance.BootstrapRef)
	}
	if boot.Kind != models.ActionBootstrap {
		return fmt.Errorf("governance.bootstrap_ref %q has kind %s, want %s", boot.Ref, boot.Kind, models.ActionBootstrap)
	}
	if len(boot.Operators) < c.Governance.Threshold {
		return fmt.Errorf("bootstrap %s seeds %d operators, below threshold %d", boot.Ref, len(boot.Operators), c.Governance.Threshold)
	}
	for _, ext := range boot.Extensions {
		if _, ok := c.action(ext); !ok {
			return fmt.Errorf("bootstrap %s registers unknown extension %q", boot.Ref, ext)
		}
	}
	if c.Governance.AutoConstruct {
		if _, err := models.ParseAddress(string(c.Governance.Deployer)); err != nil {
			return fmt.Errorf("governance.deployer: %w", err)
		}
	}

	seen := make(map[models.Address]bool, len(c.Callers))
	for i, caller := range c.Callers {
		if _, err := models.ParseAddress(string(caller.Address)); err != nil {
			return fmt.Errorf("callers[%d]: %w", i, err)
		}
		if seen[caller.Address] {
			return fmt.Errorf("callers[%d]: duplicate address %s", i, caller.Address)
		}
		seen[caller.Address] = true
		if !strings.HasPrefix(caller.KeyHash, "$2") {
			return fmt.Errorf("callers[%d]: key_hash must be a bcrypt hash", i)
		}
	}

	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1 when rate limiting is enabled")
	}
	if _, err := parseDuration("rate_limit.idle_ttl", c.RateLimit.IdleTTL); err != nil {
		return err
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

func (c *Config) action(ref string) (models.ActionSpec, bool) {
	for _, spec := range c.Actions {
		if spec.Ref == ref {
			return spec, true
		}
	}
	return models.ActionSpec{}, false
}

// StoreConfig converts the store section for store.NewStore
func (c *Config) StoreConfig() (store.Config, error) {
	lifetime, err := parseDuration("store.conn_max_lifetime", c.Store.ConnMaxLifetime)
	if err != nil {
		return store.Config{}, err
	}
	idle, err := parseDuration("store.conn_max_idle_time", c.Store.ConnMaxIdleTime)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Type:            c.Store.Type,
		DSN:             c.Store.DSN,
		Path:            c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: lifetime,
		ConnMaxIdleTime: idle,
	}, nil
}

// ShutdownTimeout returns server.shutdown_timeout, validated by Validate
func (c *Config) ShutdownTimeout() time.Duration {
	d, _ := parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
	return d
}

// IdleTTL returns rate_limit.idle_ttl, validated by Validate
func (c *Config) IdleTTL() time.Duration {
	d, _ := parseDuration("rate_limit.idle_ttl", c.RateLimit.IdleTTL)
	return d
}

// WriteYAML renders cfg as a YAML document
func WriteYAML(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func validPort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
