package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darkace1998/PostureLens/internal/model"
)

// Config holds all PostureLens configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Assessor  string          `yaml:"assessor"` // recorded in every manifest
	Demo      bool            `yaml:"demo"`     // serve canned payloads tagged MOCK instead of calling upstream
	Tenants   []model.Tenant  `yaml:"tenants"`
	Sources   SourcesConfig   `yaml:"sources"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Web       WebConfig       `yaml:"web"`
}

// SourcesConfig controls how upstream collectors are called.
type SourcesConfig struct {
	BaseURL        string                         `yaml:"base_url"`        // upstream API root for the HTTP collectors
	CallTimeout    time.Duration                  `yaml:"call_timeout"`    // bound on a single domain fetch
	TenantDeadline time.Duration                  `yaml:"tenant_deadline"` // bound on a whole tenant run
	StaleFactor    int                            `yaml:"stale_factor"`    // cache entries are served up to TTL × stale_factor old
	MaxConcurrency int                            `yaml:"max_concurrency"` // concurrent tenant runs; 0 = unlimited
	TTL            map[model.Domain]time.Duration `yaml:"ttl"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // "memory" (default), "redis" or "sqlite"
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	SQLitePath    string        `yaml:"sqlite_path"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// StorageConfig selects the manifest store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default), "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig controls periodic assessments.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	History  int           `yaml:"history"` // number of run outcomes kept in memory
}

// WebConfig holds settings for the query API server.
type WebConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultTTLs returns the per-domain cache lifetimes.
func DefaultTTLs() map[model.Domain]time.Duration {
	return map[model.Domain]time.Duration{
		model.DomainSecureScore:     4 * time.Hour,
		model.DomainIdentity:        time.Hour,
		model.DomainDevices:         4 * time.Hour,
		model.DomainBackup:          4 * time.Hour,
		model.DomainThreats:         15 * time.Minute,
		model.DomainVulnerabilities: time.Hour,
	}
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Assessor: "PostureLens",
		Sources: SourcesConfig{
			BaseURL:        "http://localhost:9400",
			CallTimeout:    20 * time.Second,
			TenantDeadline: 60 * time.Second,
			StaleFactor:    4,
			MaxConcurrency: 4,
			TTL:            DefaultTTLs(),
		},
		Cache: CacheConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			KeyPrefix:     "posturelens",
			SQLitePath:    "./posturelens-cache.db",
			PruneInterval: 15 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "./posturelens.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: 4 * time.Hour,
			History:  100,
		},
		Web: WebConfig{
			Listen: ":8080",
		},
	}
}

// Load reads a YAML configuration file from path and returns a Config.
// Values not specified in the file retain their defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	// A partial ttl map in the file replaces the whole default map; put the
	// missing domains back.
	for d, ttl := range DefaultTTLs() {
		if _, ok := cfg.Sources.TTL[d]; !ok {
			if cfg.Sources.TTL == nil {
				cfg.Sources.TTL = make(map[model.Domain]time.Duration)
			}
			cfg.Sources.TTL[d] = ttl
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	seen := make(map[string]struct{}, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("tenants[%d]: id is required", i))
			continue
		}
		if _, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Errorf("tenants[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	for d := range c.Sources.TTL {
		if _, err := model.ParseDomain(string(d)); err != nil {
			errs = append(errs, fmt.Errorf("sources.ttl: %w", err))
		}
	}
	if c.Sources.CallTimeout <= 0 {
		errs = append(errs, errors.New("sources.call_timeout must be positive"))
	}
	if c.Sources.TenantDeadline < c.Sources.CallTimeout {
		errs = append(errs, errors.New("sources.tenant_deadline must be at least call_timeout"))
	}
	if c.Sources.StaleFactor < 1 {
		errs = append(errs, errors.New("sources.stale_factor must be at least 1"))
	}
	switch c.Cache.Backend {
	case "memory", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis, sqlite", c.Cache.Backend))
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive when enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Tenant returns the configured tenant with the given id.
func (c Config) Tenant(id string) (model.Tenant, bool) {
	for _, t := range c.Tenants {
		if t.ID == id {
			return t, true
		}
	}
	return model.Tenant{}, false
}
