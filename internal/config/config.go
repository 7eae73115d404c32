package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/logger"
	"github.com/spf13/viper"
)

// Config mirrors config.yaml.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Draw    DrawConfig    `mapstructure:"draw"`
	Spin    SpinConfig    `mapstructure:"spin"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadMB    int64    `mapstructure:"max_upload_mb"`
}

type LogConfig struct {
	Verbose bool   `mapstructure:"verbose"`
	File    string `mapstructure:"file"`
}

// StorageConfig selects the history backend.
type StorageConfig struct {
	Driver       string      `mapstructure:"driver"`
	Path         string      `mapstructure:"path"`
	Bucket       string      `mapstructure:"bucket"`
	Key          string      `mapstructure:"key"`
	HistoryLimit int         `mapstructure:"history_limit"`
	Redis        RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// DrawConfig holds the defaults a new draw starts from and the operator limits.
type DrawConfig struct {
	TotalWinners        int  `mapstructure:"total_winners"`
	HighlightTopWinners bool `mapstructure:"highlight_top_winners"`
	TopWinners          int  `mapstructure:"top_winners"`
	MaxTotalWinners     int  `mapstructure:"max_total_winners"`
	MaxTopWinners       int  `mapstructure:"max_top_winners"`
}

// SpinConfig times the suspense animation before each top winner.
type SpinConfig struct {
	Duration      time.Duration `mapstructure:"duration"`
	BaseInterval  time.Duration `mapstructure:"base_interval"`
	RampInterval  time.Duration `mapstructure:"ramp_interval"`
	FlashCount    int           `mapstructure:"flash_count"`
	FlashInterval time.Duration `mapstructure:"flash_interval"`
	Hold          time.Duration `mapstructure:"hold"`
}

// Validate checks the values that would otherwise break the draw flow.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server address is required")
	}
	switch c.Storage.Driver {
	case "bolt":
		if c.Storage.Path == "" {
			return errors.New("storage path is required for the bolt driver")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errors.New("redis address is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Key == "" {
		return errors.New("storage key is required")
	}
	if c.Storage.HistoryLimit <= 0 {
		return errors.New("history limit must be positive")
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return errors.New("breaker failure ratio must be between 0 and 1")
	}
	if err := c.Draw.Validate(); err != nil {
		return err
	}
	if c.Spin.Duration <= 0 || c.Spin.BaseInterval <= 0 {
		return errors.New("spin duration and base interval must be positive")
	}
	if c.Spin.RampInterval < 0 || c.Spin.FlashInterval < 0 || c.Spin.Hold < 0 || c.Spin.FlashCount < 0 {
		return errors.New("spin timings cannot be negative")
	}
	return nil
}

func (d DrawConfig) Validate() error {
	if d.MaxTotalWinners < 1 {
		return errors.New("max total winners must be at least 1")
	}
	if d.MaxTopWinners < 0 {
		return errors.New("max top winners cannot be negative")
	}
	if d.TotalWinners < 1 || d.TotalWinners > d.MaxTotalWinners {
		return fmt.Errorf("total winners must be between 1 and %d", d.MaxTotalWinners)
	}
	if d.TopWinners < 0 || d.TopWinners > d.MaxTopWinners || d.TopWinners > d.TotalWinners {
		return fmt.Errorf("top winners must be between 0 and %d", min(d.MaxTopWinners, d.TotalWinners))
	}
	return nil
}

// Manager loads the configuration and watches it for changes.
type Manager struct {
	viper  *viper.Viper
	config *Config
}

// NewManager looks for config.yaml in paths, falling back to . and ./config.
func NewManager(paths ...string) *Manager {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("RAFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Manager{viper: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.max_upload_mb", 10)

	v.SetDefault("log.verbose", false)
	v.SetDefault("log.file", "")

	v.SetDefault("storage.driver", "bolt")
	v.SetDefault("storage.path", "raffle.db")
	v.SetDefault("storage.bucket", "raffle")
	v.SetDefault("storage.key", "raffle-history")
	v.SetDefault("storage.history_limit", 50)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_ratio", 0.6)
	v.SetDefault("breaker.min_requests", 3)

	v.SetDefault("draw.total_winners", 75)
	v.SetDefault("draw.highlight_top_winners", true)
	v.SetDefault("draw.top_winners", 3)
	v.SetDefault("draw.max_total_winners", 75)
	v.SetDefault("draw.max_top_winners", 3)

	v.SetDefault("spin.duration", "3s")
	v.SetDefault("spin.base_interval", "50ms")
	v.SetDefault("spin.ramp_interval", "130ms")
	v.SetDefault("spin.flash_count", 7)
	v.SetDefault("spin.flash_interval", "90ms")
	v.SetDefault("spin.hold", "600ms")
}

// Load reads the config file if present and applies env overrides.
func (m *Manager) Load() (*Config, error) {
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return cfg, nil
}

func (m *Manager) decode() (*Config, error) {
	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns the last successfully loaded configuration.
func (m *Manager) Config() *Config { return m.config }

// Watch reloads the file on change and calls onChange with the new config.
// Invalid edits are logged and ignored.
func (m *Manager) Watch(onChange func(*Config)) {
	if m.viper.ConfigFileUsed() == "" {
		logger.Info("No config file in use, live reload disabled")
		return
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.decode()
		if err != nil {
			logger.Errorf("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		m.config = cfg
		logger.Infof("Reloaded config from %s", e.Name)
		if onChange != nil {
			onChange(cfg)
		}
	})
	m.viper.WatchConfig()
}
