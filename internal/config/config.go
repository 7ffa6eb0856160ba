// Package config loads service configuration from defaults, an optional YAML
// file and RELIABILITY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/mirrorbuddy/reliability/internal/database"
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
	"github.com/mirrorbuddy/reliability/internal/telemetry"
	"github.com/mirrorbuddy/reliability/internal/worker"
)

// EnvPrefix prefixes every environment override, e.g. RELIABILITY_SERVER_PORT.
const EnvPrefix = "RELIABILITY"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Config is the top-level service configuration.
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    database.Config   `mapstructure:"database"`
	Telemetry   telemetry.Config  `mapstructure:"telemetry"`
	Auth        AuthConfig        `mapstructure:"auth"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Prober      ProberConfig      `mapstructure:"prober"`
	Degradation DegradationConfig `mapstructure:"degradation"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is the per-IP request budget per minute on public routes.
	RateLimit int `mapstructure:"rate_limit"`

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool `mapstructure:"require_tls"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects where flags are persisted.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	BoltPath string `mapstructure:"bolt_path"`

	// QueueCapacity bounds pending flag writes.
	QueueCapacity int `mapstructure:"queue_capacity"`
	// MaxRetries is the retry budget of one flag write.
	MaxRetries uint64 `mapstructure:"max_retries"`
}

// AuthConfig controls operator authentication on admin routes.
type AuthConfig struct {
	// SigningKey is the HS256 key operator tokens are signed with. Empty
	// disables authentication.
	SigningKey string `mapstructure:"signing_key"`
	Issuer     string `mapstructure:"issuer"`
}

// PubSubConfig controls event publishing and remote health ingestion.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`

	// EventsTopic receives degradation events.
	EventsTopic string `mapstructure:"events_topic"`
	// HealthTopic receives health reports from standalone probers.
	HealthTopic string `mapstructure:"health_topic"`
	// HealthSubscription is where serving instances read health reports.
	HealthSubscription string `mapstructure:"health_subscription"`
}

// ProberConfig controls in-process health probing.
type ProberConfig struct {
	Enabled     bool                 `mapstructure:"enabled"`
	Interval    time.Duration        `mapstructure:"interval"`
	Timeout     time.Duration        `mapstructure:"timeout"`
	Concurrency int                  `mapstructure:"concurrency"`
	MaxRetries  uint64               `mapstructure:"max_retries"`
	Targets     []worker.ProbeTarget `mapstructure:"targets"`
}

// ProbeConfig converts to the worker configuration.
func (p ProberConfig) ProbeConfig() worker.ProbeConfig {
	return worker.ProbeConfig{
		Targets:     p.Targets,
		Interval:    p.Interval,
		Timeout:     p.Timeout,
		Concurrency: p.Concurrency,
		MaxRetries:  p.MaxRetries,
	}
}

// DegradationConfig overrides the built-in degradation rules and service map.
type DegradationConfig struct {
	EventCapacity int                `mapstructure:"event_capacity"`
	Rules         []degradation.Rule `mapstructure:"rules"`
	// ServiceMap replaces the default table for each service it names.
	ServiceMap map[string][]string `mapstructure:"service_map"`
}

// EffectiveRules returns the default rules with configured rules layered on top.
func (d DegradationConfig) EffectiveRules() []degradation.Rule {
	byID := make(map[featureflags.FeatureID]int)
	rules := degradation.DefaultRules()
	for i, r := range rules {
		byID[r.FeatureID] = i
	}
	for _, r := range d.Rules {
		if i, ok := byID[r.FeatureID]; ok {
			rules[i] = r
			continue
		}
		byID[r.FeatureID] = len(rules)
		rules = append(rules, r)
	}
	return rules
}

// EffectiveServiceMap returns the default service map with configured entries
// replacing whole services. Unknown feature ids are dropped; Validate reports
// them.
func (d DegradationConfig) EffectiveServiceMap() degradation.ServiceMap {
	m := degradation.DefaultServiceMap()
	for service, ids := range d.ServiceMap {
		features := make([]featureflags.FeatureID, 0, len(ids))
		for _, raw := range ids {
			if id, ok := featureflags.ParseFeatureID(raw); ok {
				features = append(features, id)
			}
		}
		m[health.ServiceID(service)] = features
	}
	return m
}

// SetDefaults registers every default. Keys must have a default for
// environment overrides to reach them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 600)
	v.SetDefault("server.require_tls", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bolt_path", "reliability.db")
	v.SetDefault("storage.queue_capacity", 256)
	v.SetDefault("storage.max_retries", 5)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "reliability")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "reliability")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.connect_timeout", 30*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.export_interval", 15*time.Second)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.events_topic", "degradation-events")
	v.SetDefault("pubsub.health_topic", "")
	v.SetDefault("pubsub.health_subscription", "")

	v.SetDefault("prober.enabled", true)
	v.SetDefault("prober.interval", 30*time.Second)
	v.SetDefault("prober.timeout", 5*time.Second)
	v.SetDefault("prober.concurrency", 4)
	v.SetDefault("prober.max_retries", 1)

	v.SetDefault("degradation.event_capacity", 100)
}

// SetupEnv binds RELIABILITY_* environment variables.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)
	return v
}

// Load reads configuration from path (or reliability.yaml in the working
// directory or /etc/reliability if path is empty) into v, then validates it.
// A missing default config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("reliability")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reliability")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validatePubSub()...)
	errs = append(errs, c.validateProber()...)
	errs = append(errs, c.validateDegradation()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("config: server.rate_limit must not be negative, got %d", c.Server.RateLimit))
	}
	return errs
}

func (c *Config) validateLog() []error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("config: log.level %q: %w", c.Log.Level, err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("config: log.format must be one of [json, console], got %q", c.Log.Format))
	}
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.ConnectTimeout <= 0 {
			errs = append(errs, fmt.Errorf("config: database.connect_timeout must be positive, got %s", c.Database.ConnectTimeout))
		}
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			errs = append(errs, errors.New("config: storage.bolt_path is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: storage.backend must be one of [memory, postgres, bolt], got %q", c.Storage.Backend))
	}
	if c.Storage.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("config: storage.queue_capacity must be positive, got %d", c.Storage.QueueCapacity))
	}
	return errs
}

func (c *Config) validatePubSub() []error {
	if !c.PubSub.Enabled {
		return nil
	}
	var errs []error
	if c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("config: pubsub.project_id is required when pubsub is enabled"))
	}
	if c.PubSub.EventsTopic == "" && c.PubSub.HealthTopic == "" && c.PubSub.HealthSubscription == "" {
		errs = append(errs, errors.New("config: pubsub is enabled but no topic or subscription is set"))
	}
	return errs
}

func (c *Config) validateProber() []error {
	if err := c.Prober.ProbeConfig().Validate(); err != nil {
		return []error{fmt.Errorf("config: prober: %w", err)}
	}
	return nil
}

func (c *Config) validateDegradation() []error {
	var errs []error
	for i, r := range c.Degradation.Rules {
		if !r.FeatureID.Valid() {
			errs = append(errs, fmt.Errorf("config: degradation.rules[%d]: unknown feature %q", i, r.FeatureID))
		}
		if !r.FallbackBehavior.Valid() {
			errs = append(errs, fmt.Errorf("config: degradation.rules[%d]: unknown fallback %q", i, r.FallbackBehavior))
		}
	}
	for service, ids := range c.Degradation.ServiceMap {
		for _, raw := range ids {
			if _, ok := featureflags.ParseFeatureID(raw); !ok {
				errs = append(errs, fmt.Errorf("config: degradation.service_map[%s]: unknown feature %q", service, raw))
			}
		}
	}
	if c.Degradation.EventCapacity < 1 || c.Degradation.EventCapacity > degradation.MaxEventCapacity {
		errs = append(errs, fmt.Errorf("config: degradation.event_capacity must be between 1 and %d, got %d",
			degradation.MaxEventCapacity, c.Degradation.EventCapacity))
	}
	return errs
}
