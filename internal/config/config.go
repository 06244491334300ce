// Package config loads the coordinator's configuration from defaults, an
// optional YAML file, and environment variable overrides.
//
// Grounded on orbas1-Synnergy's pkg/config/config.go: a single Config
// struct with mapstructure tags, populated via viper's SetDefault +
// optional ReadInConfig + AutomaticEnv + Unmarshal chain. godotenv.Load is
// called first so a local .env file can seed those environment variables,
// matching Synnergy's "AutomaticEnv picks up from .env" comment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the coordinator's full runtime configuration. The RPC bind
// address is not configured here — it is the coordinator's one positional
// CLI argument (spec.md §6), and the dashboard address is derived from it.
type Config struct {
	Registry struct {
		HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
		SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"registry"`

	Ring struct {
		VirtualNodes int    `mapstructure:"virtual_nodes"`
		BaseSeed     uint64 `mapstructure:"base_seed"`
	} `mapstructure:"ring"`

	Checkpoint struct {
		BasePath        string `mapstructure:"base_path"`
		KeepCount       int    `mapstructure:"keep_count"`
		WriteBufferSize int    `mapstructure:"write_buffer_size"`
	} `mapstructure:"checkpoint"`

	Barrier struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"barrier"`

	RateLimit struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("registry.heartbeat_timeout", 30*time.Second)
	v.SetDefault("registry.sweep_interval", 5*time.Second)
	v.SetDefault("ring.virtual_nodes", 150)
	v.SetDefault("ring.base_seed", uint64(42))
	v.SetDefault("checkpoint.base_path", "./data/checkpoints")
	v.SetDefault("checkpoint.keep_count", 5)
	v.SetDefault("checkpoint.write_buffer_size", 64)
	v.SetDefault("barrier.timeout", 300*time.Second)
	v.SetDefault("rate_limit.requests_per_second", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("logging.level", "info")
}

// Load builds a Config from defaults, an optional file at path (skipped
// if path is empty; a non-empty path that cannot be read is an error), and
// STRATA_-prefixed environment variables, which take precedence over the
// file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("strata")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
