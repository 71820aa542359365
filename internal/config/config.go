// Package config loads the gateway daemon's configuration: listen address,
// initial negotiated parameters, and idle timeout. It layers a config file
// (via viper) under command-line flag overrides (via cobra/pflag),
// following the pattern the pack's other daemon repos use for exactly this
// combination.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the gateway daemon's resolved configuration.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	InitialBuffer   uint32        `mapstructure:"initial_buffer_size"`
	RecencyLimit    uint16        `mapstructure:"recency_limit"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxBatchPerPeer int           `mapstructure:"max_batch_per_peer"`
}

// Defaults returns the gateway's built-in configuration, used when no
// config file is present and no flags override it.
func Defaults() Config {
	return Config{
		ListenAddr:      "0.0.0.0:20000",
		InitialBuffer:   512,
		RecencyLimit:    256,
		IdleTimeout:     30 * time.Second,
		TickInterval:    50 * time.Millisecond,
		SweepInterval:   5 * time.Second,
		MaxBatchPerPeer: 64,
	}
}

// Load reads configuration from an optional file at path (if non-empty),
// applies environment variable overrides prefixed SOEGATEWAY_, and returns
// the resolved Config layered on top of Defaults().
func Load(path string) (Config, error) {
	v := viper.New()
	cfg := Defaults()

	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("initial_buffer_size", cfg.InitialBuffer)
	v.SetDefault("recency_limit", cfg.RecencyLimit)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("tick_interval", cfg.TickInterval)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("max_batch_per_peer", cfg.MaxBatchPerPeer)

	v.SetEnvPrefix("soegateway")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	return cfg, nil
}
