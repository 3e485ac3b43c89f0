package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// City describes one municipality entry in the directory document.
type City struct {
	Name          string `mapstructure:"name" json:"name"`
	CityPort      int    `mapstructure:"city_port" json:"city_port"`
	CityFlaskPort int    `mapstructure:"city_flask_port" json:"city_flask_port"`
}

// Continent groups the cities of one continent plus its aggregation-tier port.
type Continent struct {
	FlaskPort int    `mapstructure:"flask_port" json:"flask_port"`
	Cities    []City `mapstructure:"cities" json:"cities"`
}

// SweeperConfig controls the background expiry sweeper.
type SweeperConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig controls the web server.
type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RateLimitConfig bounds transaction creation per process.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Config aggregates everything a node instance needs. It is loaded once at
// startup and passed to components by injection; nothing reads it as a global.
type Config struct {
	Municipalities map[string]Continent         `mapstructure:"municipalities"`
	Shards         map[string]map[string]string `mapstructure:"shards"`
	Archives       map[string]string            `mapstructure:"archives"`
	Sweeper        SweeperConfig                `mapstructure:"sweeper"`
	HTTP           HTTPConfig                   `mapstructure:"http"`
	RateLimit      RateLimitConfig              `mapstructure:"rate_limit"`
	Election       string                       `mapstructure:"election"`

	// CurrentContinent selects which continent's sweeper and shard context
	// this process instance serves. Taken from the CURRENT_CONTINENT env var.
	CurrentContinent string `mapstructure:"-"`
}

const (
	defaultSweeperTTL      = 180 * 24 * time.Hour
	defaultSweeperInterval = 24 * time.Hour
	defaultHTTPPort        = "5000"
	defaultRequestTimeout  = 10 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultRateLimit       = 10
	defaultRateWindow      = time.Minute
)

// Load reads the node configuration file and applies defaults and the
// CURRENT_CONTINENT environment override.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()
	cfg.CurrentContinent = os.Getenv("CURRENT_CONTINENT")
	if cfg.CurrentContinent == "" {
		cfg.CurrentContinent = "Default"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sweeper.TTL == 0 {
		c.Sweeper.TTL = defaultSweeperTTL
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = defaultSweeperInterval
	}
	if c.HTTP.Port == "" {
		c.HTTP.Port = defaultHTTPPort
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = defaultRequestTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = defaultRateLimit
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = defaultRateWindow
	}
	if c.Election == "" {
		c.Election = "random"
	}
}

// Validate checks the parts of the configuration whose absence is a fatal
// misconfiguration rather than a runtime condition.
func (c *Config) Validate() error {
	if len(c.Municipalities) == 0 {
		return fmt.Errorf("config: municipalities directory is empty")
	}
	if _, ok := c.Municipalities["Default"]; !ok {
		return fmt.Errorf("config: municipalities directory has no Default entry")
	}
	for _, instanceType := range []string{"send", "send_pending"} {
		continents, ok := c.Shards[instanceType]
		if !ok {
			return fmt.Errorf("config: no shard map for instance type %q", instanceType)
		}
		if _, ok := continents["Default"]; !ok {
			return fmt.Errorf("config: shard map for %q has no Default entry", instanceType)
		}
	}
	return nil
}

// FlaskPort returns the aggregation-tier port for a continent, falling back
// to the Default entry.
func (c *Config) FlaskPort(continent string) int {
	if entry, ok := c.Municipalities[continent]; ok && entry.FlaskPort != 0 {
		return entry.FlaskPort
	}
	return c.Municipalities["Default"].FlaskPort
}
