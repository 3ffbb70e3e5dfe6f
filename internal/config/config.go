// Package config loads the demo coordinator binary's YAML configuration
// into a clustercoord/internal/coordinator.Options value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clustercoord/internal/addr"
	"clustercoord/internal/coordinator"
	"clustercoord/internal/logger"
	"clustercoord/internal/metrics"
	"clustercoord/internal/nodeclient"
)

// Config is the on-disk shape of the demo CLI's configuration file.
type Config struct {
	Seeds []string `yaml:"seeds"`

	MinReplicas    int    `yaml:"minReplicas"`
	UpdateSlotWait string `yaml:"updateSlotWait"`
	CloseWait      string `yaml:"closeWait"`

	Client ClientConfig `yaml:"client"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	path string
}

// ClientConfig configures the per-node client (nodeclient.Options).
type ClientConfig struct {
	Password     string `yaml:"password"`
	TLS          bool   `yaml:"tls"`
	DialTimeout  string `yaml:"dialTimeout"`
	PingInterval string `yaml:"pingInterval"`
	MaxInFlight  int    `yaml:"maxInFlight"`
}

// LogConfig controls the demo CLI's logger.
type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// MetricsConfig controls the in-memory metrics recorder's window size.
type MetricsConfig struct {
	Window int `yaml:"window"`
}

// ValidationError collects configuration problems found at Load time.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err)
	}
	return b.String()
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.path = path
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinReplicas == 0 {
		c.MinReplicas = 1
	}
	if c.UpdateSlotWait == "" {
		c.UpdateSlotWait = "500ms"
	}
	if c.CloseWait == "" {
		c.CloseWait = "10s"
	}
	if c.Client.DialTimeout == "" {
		c.Client.DialTimeout = "5s"
	}
	if c.Client.PingInterval == "" {
		c.Client.PingInterval = "3s"
	}
	if c.Client.MaxInFlight == 0 {
		c.Client.MaxInFlight = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Window == 0 {
		c.Metrics.Window = 256
	}
}

func (c *Config) validate() error {
	var errs []string

	if len(c.Seeds) == 0 {
		errs = append(errs, "seeds must list at least one host:port")
	}
	for _, s := range c.Seeds {
		if _, err := addr.Parse(s); err != nil {
			errs = append(errs, fmt.Sprintf("seeds: %v", err))
		}
	}
	if c.MinReplicas < 0 {
		errs = append(errs, "minReplicas must be >= 0")
	}
	for name, val := range map[string]string{
		"updateSlotWait":      c.UpdateSlotWait,
		"closeWait":           c.CloseWait,
		"client.dialTimeout":  c.Client.DialTimeout,
		"client.pingInterval": c.Client.PingInterval,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

func parseLevel(s string) (logger.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warn", "warning":
		return logger.WARN, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
}

// SeedAddrs parses the configured seed addresses.
func (c *Config) SeedAddrs() ([]addr.Address, error) {
	out := make([]addr.Address, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		a, err := addr.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// CoordinatorOptions builds a coordinator.Options from the loaded config,
// wiring in log and observers supplied by the caller.
func (c *Config) CoordinatorOptions(log *logger.Logger, rec *metrics.Recorder, observers ...coordinator.Observer) (coordinator.Options, error) {
	updateSlotWait, err := time.ParseDuration(c.UpdateSlotWait)
	if err != nil {
		return coordinator.Options{}, err
	}
	closeWait, err := time.ParseDuration(c.CloseWait)
	if err != nil {
		return coordinator.Options{}, err
	}
	dialTimeout, err := time.ParseDuration(c.Client.DialTimeout)
	if err != nil {
		return coordinator.Options{}, err
	}
	pingInterval, err := time.ParseDuration(c.Client.PingInterval)
	if err != nil {
		return coordinator.Options{}, err
	}

	return coordinator.Options{
		Observers:      observers,
		UpdateSlotWait: updateSlotWait,
		CloseWait:      closeWait,
		MinReplicas:    c.MinReplicas,
		Logger:         log,
		Metrics:        rec,
		ClientOpts: nodeclient.Options{
			Password:     c.Client.Password,
			TLS:          c.Client.TLS,
			DialTimeout:  dialTimeout,
			PingInterval: pingInterval,
			MaxInFlight:  c.Client.MaxInFlight,
		},
	}, nil
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logger.Level {
	lvl, _ := parseLevel(c.Log.Level)
	return lvl
}

// MetricsWindow returns the configured metrics window size.
func (c *Config) MetricsWindow() int {
	return c.Metrics.Window
}
