// Package config defines replica configuration, loaded from a YAML file
// with LATTICE_* environment variable overrides, following the shape of
// the pack's own config.Load/Validate pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lattice/internal/offer"
)

// Role distinguishes the replica that accepts client traffic from the
// replicas it fans out to for cross-checking.
type Role string

const (
	RolePrimary Role = "primary"
	RolePeer    Role = "peer"
)

// Config is the top-level replica configuration.
type Config struct {
	Role Role   `mapstructure:"role"`
	ID   string `mapstructure:"id"`

	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Replicas   ReplicasConfig   `mapstructure:"replicas"`
	Securities []string         `mapstructure:"securities"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// HTTPConfig controls the replica's own HTTP listener.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

// StorageConfig points at the replica's embedded Badger directory.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ReplicasConfig lists the peers a primary fans out to, and the timeout
// applied to each peer call (spec.md §5 flags this as an implementation
// choice to impose).
type ReplicasConfig struct {
	PeerBaseURLs []string      `mapstructure:"peer_base_urls"`
	PeerTimeout  time.Duration `mapstructure:"peer_timeout"`
}

// LoggingConfig controls the zerolog sink.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with LATTICE_* environment variable
// overrides, mirroring 0xtitan6-polymarket-mm's config.Load shape.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LATTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", "0.0.0.0:8080")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("replicas.peer_timeout", 2*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if addr := os.Getenv("LATTICE_HTTP_ADDRESS"); addr != "" {
		cfg.HTTP.Address = addr
	}
	if dir := os.Getenv("LATTICE_STORAGE_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if role := os.Getenv("LATTICE_ROLE"); role != "" {
		cfg.Role = Role(role)
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Role != RolePrimary && c.Role != RolePeer {
		return fmt.Errorf("role must be %q or %q", RolePrimary, RolePeer)
	}
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Role == RolePrimary && len(c.Replicas.PeerBaseURLs) != 2 {
		return fmt.Errorf("replicas.peer_base_urls must list exactly 2 peers for a primary (spec.md §6 replica topology), got %d", len(c.Replicas.PeerBaseURLs))
	}
	if c.Replicas.PeerTimeout <= 0 {
		return fmt.Errorf("replicas.peer_timeout must be > 0")
	}
	if len(c.Securities) == 0 {
		return fmt.Errorf("securities must list at least one supported security")
	}
	for _, s := range c.Securities {
		if _, err := ParseSecurity(s); err != nil {
			return err
		}
	}
	return nil
}

// ParseSecurity maps a configured security tag onto offer.Security.
func ParseSecurity(s string) (offer.Security, error) {
	switch strings.ToUpper(s) {
	case "BTC":
		return offer.BTC, nil
	case "USD":
		return offer.USD, nil
	case "COP":
		return offer.COP, nil
	default:
		return 0, fmt.Errorf("unknown security %q", s)
	}
}
