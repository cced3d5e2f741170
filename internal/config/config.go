package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ESQUERY_ELASTIC_HOSTS.
const EnvPrefix = "ESQUERY"

type ElasticConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Index             string        `mapstructure:"index"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UseMappingTypes   bool          `mapstructure:"use_mapping_types"`
	Refresh           string        `mapstructure:"refresh"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxSize int64         `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type ReindexConfig struct {
	Workers         int  `mapstructure:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error"`
}

// Config is the full application configuration.
type Config struct {
	Elastic ElasticConfig `mapstructure:"elastic"`
	Log     LogConfig     `mapstructure:"log"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Reindex ReindexConfig `mapstructure:"reindex"`
}

var defaults = map[string]any{
	"elastic.hosts":               []string{"http://localhost:9200"},
	"elastic.index":               "",
	"elastic.username":            "",
	"elastic.password":            "",
	"elastic.timeout":             30 * time.Second,
	"elastic.requests_per_second": 0.0,
	"elastic.burst":               1,
	"elastic.use_mapping_types":   false,
	"elastic.refresh":             "",
	"log.level":                   "info",
	"log.format":                  "text",
	"http.addr":                   ":8080",
	"cache.enabled":               true,
	"cache.max_size":              1000,
	"cache.ttl":                   10 * time.Minute,
	"reindex.workers":             4,
	"reindex.continue_on_error":   false,
}

// Load reads configuration from path (yaml, json or toml) when given, or from
// an optional esquery.* file in the working directory, then applies
// ESQUERY_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("esquery")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Elastic.Hosts = splitHosts(cfg.Elastic.Hosts)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that the consuming packages cannot default.
func (c Config) Validate() error {
	if len(c.Elastic.Hosts) == 0 {
		return fmt.Errorf("config: elastic.hosts is empty")
	}
	if c.Elastic.RequestsPerSecond < 0 {
		return fmt.Errorf("config: elastic.requests_per_second must be >= 0")
	}
	if c.Reindex.Workers < 0 {
		return fmt.Errorf("config: reindex.workers must be >= 0")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("config: cache.max_size must be >= 0")
	}
	return nil
}

// splitHosts accepts both lists and a single comma separated value.
func splitHosts(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
