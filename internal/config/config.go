package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Conveyor    ConveyorConfig    `mapstructure:"conveyor"`
	Inventory   InventoryConfig   `mapstructure:"inventory"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Advisor     AdvisorConfig     `mapstructure:"advisor"`
	Health      HealthConfig      `mapstructure:"health"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the item store backend.
// Driver is "sqlite" (Path) or "postgres" (DSN).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return filepath.Clean(c.Path) + "?_busy_timeout=5000"
}

// ConveyorConfig controls the background run loop and the pipeline itself.
type ConveyorConfig struct {
	Workers          int           `mapstructure:"workers"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	Burst            int           `mapstructure:"burst"`
	IdlePollInterval time.Duration `mapstructure:"idle_poll_interval"`
	AutoRetryErrors  bool          `mapstructure:"auto_retry_errors"`
	SupplyQuantity   int           `mapstructure:"supply_quantity"`
	LogCapacity      int           `mapstructure:"log_capacity"`
	MaxStoreFailures int           `mapstructure:"max_store_failures"`
	RecoverOnStart   bool          `mapstructure:"recover_on_start"`
	Autostart        bool          `mapstructure:"autostart"`
	LockBackend      string        `mapstructure:"lock_backend"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

type DiscoveryConfig struct {
	HealthURL    string        `mapstructure:"health_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ManifestPath string        `mapstructure:"manifest_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AdvisorConfig struct {
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a language model is configured for the advisor.
func (c *AdvisorConfig) Enabled() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

type HealthConfig struct {
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	OverallTimeout time.Duration `mapstructure:"overall_timeout"`
	WarnLatency    time.Duration `mapstructure:"warn_latency"`
	Interval       time.Duration `mapstructure:"interval"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("inventory.token", "INVENTORY_TOKEN")
	v.BindEnv("inventory.base_url", "INVENTORY_BASE_URL")
	v.BindEnv("marketplace.token", "MARKETPLACE_TOKEN")
	v.BindEnv("marketplace.base_url", "MARKETPLACE_BASE_URL")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("advisor.api_key", "OPENAI_API_KEY")
	v.BindEnv("advisor.base_url", "OPENAI_BASE_URL")
	v.BindEnv("advisor.model", "ADVISOR_MODEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Inventory.ResolveEnvVars()
	cfg.Marketplace.ResolveEnvVars()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/conveyor.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("conveyor.workers", 1)
	v.SetDefault("conveyor.rate_per_second", 0.5)
	v.SetDefault("conveyor.burst", 1)
	v.SetDefault("conveyor.idle_poll_interval", 10*time.Second)
	v.SetDefault("conveyor.auto_retry_errors", false)
	v.SetDefault("conveyor.supply_quantity", 1)
	v.SetDefault("conveyor.log_capacity", 200)
	v.SetDefault("conveyor.max_store_failures", 5)
	v.SetDefault("conveyor.recover_on_start", true)
	v.SetDefault("conveyor.autostart", false)
	v.SetDefault("conveyor.lock_backend", "memory")
	v.SetDefault("conveyor.lock_ttl", 10*time.Minute)

	v.SetDefault("inventory.timeout", 30*time.Second)
	v.SetDefault("inventory.token_env", "INVENTORY_TOKEN")
	v.SetDefault("inventory.cache_size", 1024)

	v.SetDefault("marketplace.timeout", 30*time.Second)
	v.SetDefault("marketplace.token_env", "MARKETPLACE_TOKEN")
	v.SetDefault("marketplace.min_image_side", 0)
	v.SetDefault("marketplace.mirror_images", false)

	v.SetDefault("discovery.health_url", "")
	v.SetDefault("discovery.timeout", 10*time.Second)
	v.SetDefault("discovery.manifest_path", "")

	v.SetDefault("storage.type", "s3compatible")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "conveyor")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("advisor.model", "gpt-4o-mini")
	v.SetDefault("advisor.base_url", "https://api.openai.com/v1")
	v.SetDefault("advisor.timeout", 60*time.Second)

	v.SetDefault("health.probe_timeout", 5*time.Second)
	v.SetDefault("health.overall_timeout", 8*time.Second)
	v.SetDefault("health.warn_latency", 2*time.Second)
	v.SetDefault("health.interval", time.Duration(0))
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database: dsn is required for postgres")
	}
	if err := c.Conveyor.Validate(); err != nil {
		return err
	}
	if c.Conveyor.LockBackend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("redis: host is required when conveyor.lock_backend is redis")
	}
	if c.Health.ProbeTimeout <= 0 || c.Health.OverallTimeout <= 0 {
		return fmt.Errorf("health: timeouts must be positive")
	}
	return nil
}

// Validate checks the run loop settings.
func (c *ConveyorConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("conveyor: workers must be at least 1")
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("conveyor: rate_per_second must be positive")
	}
	if c.Burst < 1 {
		return fmt.Errorf("conveyor: burst must be at least 1")
	}
	if c.SupplyQuantity < 1 {
		return fmt.Errorf("conveyor: supply_quantity must be at least 1")
	}
	if c.LogCapacity < 1 {
		return fmt.Errorf("conveyor: log_capacity must be at least 1")
	}
	if c.MaxStoreFailures < 1 {
		return fmt.Errorf("conveyor: max_store_failures must be at least 1")
	}
	switch c.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("conveyor: unknown lock_backend %q", c.LockBackend)
	}
	return nil
}
