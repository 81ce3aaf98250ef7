package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Resolve  ResolveConfig  `mapstructure:"resolve" yaml:"resolve"`
	Ranking  RankingConfig  `mapstructure:"ranking" yaml:"ranking"`

	// Named maps profile names to raw addon configurations. When any profile
	// is present, users select a profile by name instead of carrying an
	// encoded configuration in their URLs.
	Named map[string]map[string]any `mapstructure:"named" yaml:"named,omitempty"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// PublicURL is the origin clients reach the server at. Derived from the
	// request when empty.
	PublicURL       string `mapstructure:"public_url" yaml:"public_url"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"` // seconds
	// RequestsPerMinute limits addon requests per client IP. 0 disables it.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	RequestBurst      int `mapstructure:"request_burst" yaml:"request_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	// StatsCron schedules a log line with cache sizes. Empty disables it.
	StatsCron string `mapstructure:"stats_cron" yaml:"stats_cron"`
}

// MetadataConfig holds series metadata source configuration.
type MetadataConfig struct {
	TVMazeURL         string  `mapstructure:"tvmaze_url" yaml:"tvmaze_url"`
	CinemetaURL       string  `mapstructure:"cinemeta_url" yaml:"cinemeta_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	Timeout           int     `mapstructure:"timeout" yaml:"timeout"` // seconds
	Retries           int     `mapstructure:"retries" yaml:"retries"`
	CacheTTLHours     int     `mapstructure:"cache_ttl_hours" yaml:"cache_ttl_hours"`
	CacheSize         int     `mapstructure:"cache_size" yaml:"cache_size"`
}

// ResolveConfig holds resolve endpoint configuration.
type ResolveConfig struct {
	FailureVideoURL string `mapstructure:"failure_video_url" yaml:"failure_video_url"`
	CacheSize       int    `mapstructure:"cache_size" yaml:"cache_size"`
	// BackendTimeout bounds requests to indexers and providers, in seconds.
	BackendTimeout int `mapstructure:"backend_timeout" yaml:"backend_timeout"`
}

// RankingConfig tunes how many listings are shown per quality.
type RankingConfig struct {
	MaxPerQuality  int     `mapstructure:"max_per_quality" yaml:"max_per_quality"`
	MinPerQuality  int     `mapstructure:"min_per_quality" yaml:"min_per_quality"`
	DownvoteWeight float64 `mapstructure:"downvote_weight" yaml:"downvote_weight"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ShutdownTimeout:   10,
			RequestsPerMinute: 300,
			RequestBurst:      60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "console",
			StatsCron: "*/30 * * * *",
		},
		Metadata: MetadataConfig{
			TVMazeURL:         "https://api.tvmaze.com",
			CinemetaURL:       "https://v3-cinemeta.strem.io",
			RequestsPerSecond: 2,
			Burst:             5,
			Timeout:           15,
			Retries:           3,
			CacheTTLHours:     12,
			CacheSize:         10000,
		},
		Resolve: ResolveConfig{
			FailureVideoURL: "https://torrentio.strem.fun/videos/failed_unexpected_v2.mp4",
			CacheSize:       10000,
			BackendTimeout:  60,
		},
		Ranking: RankingConfig{
			MaxPerQuality:  20,
			MinPerQuality:  5,
			DownvoteWeight: 1.49,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.byoiap")
	}

	v.SetEnvPrefix("BYOIAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults mirrors Default() into viper so env vars can override
// individual keys.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.public_url", d.Server.PublicURL)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	v.SetDefault("server.request_burst", d.Server.RequestBurst)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.stats_cron", d.Logging.StatsCron)

	v.SetDefault("metadata.tvmaze_url", d.Metadata.TVMazeURL)
	v.SetDefault("metadata.cinemeta_url", d.Metadata.CinemetaURL)
	v.SetDefault("metadata.requests_per_second", d.Metadata.RequestsPerSecond)
	v.SetDefault("metadata.burst", d.Metadata.Burst)
	v.SetDefault("metadata.timeout", d.Metadata.Timeout)
	v.SetDefault("metadata.retries", d.Metadata.Retries)
	v.SetDefault("metadata.cache_ttl_hours", d.Metadata.CacheTTLHours)
	v.SetDefault("metadata.cache_size", d.Metadata.CacheSize)

	v.SetDefault("resolve.failure_video_url", d.Resolve.FailureVideoURL)
	v.SetDefault("resolve.cache_size", d.Resolve.CacheSize)
	v.SetDefault("resolve.backend_timeout", d.Resolve.BackendTimeout)

	v.SetDefault("ranking.max_per_quality", d.Ranking.MaxPerQuality)
	v.SetDefault("ranking.min_per_quality", d.Ranking.MinPerQuality)
	v.SetDefault("ranking.downvote_weight", d.Ranking.DownvoteWeight)
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.PublicURL != "" && !strings.HasPrefix(c.Server.PublicURL, "http") {
		return fmt.Errorf("server public_url must start with http:// or https://")
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.RequestBurst < 0 {
		return fmt.Errorf("server request limits must not be negative")
	}
	if c.Ranking.MaxPerQuality < 1 || c.Ranking.MinPerQuality < 0 || c.Ranking.MinPerQuality > c.Ranking.MaxPerQuality {
		return fmt.Errorf("ranking needs 0 <= min_per_quality <= max_per_quality and max_per_quality >= 1")
	}
	if c.Resolve.FailureVideoURL == "" {
		return fmt.Errorf("resolve failure_video_url is required")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
