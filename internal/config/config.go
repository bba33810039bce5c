// Package config loads the three deployment config files. Their paths come
// from the environment — TORRENT_INGRESS_CONFIG, TORRENT_EGRESS_CONFIG and
// TORRENT_AGGREGATOR_CONFIG — and startup panics when one is unset.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Env var names for the config file paths.
const (
	EnvIngressConfig    = "TORRENT_INGRESS_CONFIG"
	EnvEgressConfig     = "TORRENT_EGRESS_CONFIG"
	EnvAggregatorConfig = "TORRENT_AGGREGATOR_CONFIG"
)

// VenueConfig is one venue subscription: which venue, which raw symbols,
// and optional endpoint/credential overrides.
type VenueConfig struct {
	Name      string   `mapstructure:"name"`
	Symbols   []string `mapstructure:"symbols"`
	WsURL     string   `mapstructure:"ws_url"`
	RestURL   string   `mapstructure:"rest_url"`
	APIKey    string   `mapstructure:"api_key"`
	APISecret string   `mapstructure:"api_secret"`
}

// IngressConfig lists the venue feeds to open.
type IngressConfig struct {
	Venues []VenueConfig `mapstructure:"venues"`
}

// TransportConfig is one egress NATS connection.
type TransportConfig struct {
	URI     string `mapstructure:"uri"`
	Subject string `mapstructure:"subject"`
	Stream  string `mapstructure:"stream"`
}

// EgressConfig lists the outbound transports.
type EgressConfig struct {
	Transports []TransportConfig `mapstructure:"transports"`
}

// AggregatorConfig tunes the pipeline itself.
//
//   - RingCapacity: slots per SPSC ring.
//   - ExecutionSize: decimal size used for execution-price analytics.
//   - PricingInterval: cadence of pricing publications per instrument.
//   - MonitorPort: varz/health HTTP port, 0 disables.
//   - Development: console logging and debug level.
type AggregatorConfig struct {
	RingCapacity    int           `mapstructure:"ring_capacity"`
	ExecutionSize   string        `mapstructure:"execution_size"`
	PricingInterval time.Duration `mapstructure:"pricing_interval"`
	MonitorPort     int           `mapstructure:"monitor_port"`
	Development     bool          `mapstructure:"development"`
}

// MustPath reads a config path env var, panicking when unset.
func MustPath(envVar string) string {
	path := os.Getenv(envVar)
	if path == "" {
		panic(fmt.Sprintf("%s is not set", envVar))
	}
	return path
}

func load(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return nil
}

// LoadIngress reads and validates the ingress config file.
func LoadIngress(path string) (*IngressConfig, error) {
	var cfg IngressConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEgress reads and validates the egress config file.
func LoadEgress(path string) (*EgressConfig, error) {
	var cfg EgressConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadAggregator reads the aggregator config file, applying defaults.
func LoadAggregator(path string) (*AggregatorConfig, error) {
	cfg := AggregatorConfig{
		RingCapacity:    50000,
		ExecutionSize:   "1",
		PricingInterval: 100 * time.Millisecond,
	}
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *IngressConfig) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("venues cannot be empty")
	}
	for i, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venues[%d].name cannot be empty", i)
		}
		if len(v.Symbols) == 0 {
			return fmt.Errorf("venues[%d].symbols cannot be empty", i)
		}
	}
	return nil
}

func (c *EgressConfig) Validate() error {
	if len(c.Transports) == 0 {
		return fmt.Errorf("transports cannot be empty")
	}
	for i, t := range c.Transports {
		if t.Subject == "" {
			return fmt.Errorf("transports[%d].subject cannot be empty", i)
		}
		if err := validateNATSURI(t.URI); err != nil {
			return fmt.Errorf("transports[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *AggregatorConfig) Validate() error {
	if c.RingCapacity <= 0 {
		return fmt.Errorf("ring_capacity must be positive")
	}
	if c.ExecutionSize == "" {
		return fmt.Errorf("execution_size cannot be empty")
	}
	if c.PricingInterval <= 0 {
		return fmt.Errorf("pricing_interval must be positive")
	}
	return nil
}

func validateNATSURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("uri cannot be empty")
	}
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return fmt.Errorf("invalid NATS URI: %w", err)
	}
	if parsed.Scheme != "nats" {
		return fmt.Errorf("invalid NATS URI scheme: expected 'nats', got '%s'", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("invalid NATS URI: hostname cannot be empty")
	}
	return nil
}
