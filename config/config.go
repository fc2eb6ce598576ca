// Package config defines the poolmon daemon configuration, loaded from a
// TOML file with optional command-line overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lathiat/poolmon/helpers"
)

// Config is the top-level configuration for poolmon.
type Config struct {
	Director    DirectorConfig    `toml:"director"`
	Scan        ScanConfig        `toml:"scan"`
	Credentials CredentialsConfig `toml:"credentials"`
	Weights     WeightsConfig     `toml:"weights"`
	Logging     LoggingConfig     `toml:"logging"`
	Status      StatusConfig      `toml:"status"`
}

// DirectorConfig locates the Dovecot director admin socket.
type DirectorConfig struct {
	// Socket is a unix socket path (contains "/") or a host:port address.
	Socket  string `toml:"socket"`
	Timeout string `toml:"timeout"` // I/O deadline per director operation
}

// GetTimeout returns the per-operation director timeout.
func (d *DirectorConfig) GetTimeout() (time.Duration, error) {
	if d.Timeout == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(d.Timeout)
}

// ScanConfig controls the probe cycle.
type ScanConfig struct {
	Interval string `toml:"interval"` // time between scan cycles
	Timeout  string `toml:"timeout"`  // wall-clock deadline per port probe

	// Ports lists plaintext port specs, probed in order. A spec is a port
	// number with an optional protocol prefix, e.g. "143", "IMAP:143",
	// "POP3:10110". Well-known mail ports infer their protocol.
	Ports []string `toml:"ports"`
	// TLSPorts lists encrypted port specs, probed after all plaintext
	// ports passed.
	TLSPorts []string `toml:"tls_ports"`
	// TLSVerify enables certificate verification on encrypted probes.
	TLSVerify bool `toml:"tls_verify"`
}

// GetInterval returns the scan cycle interval.
func (s *ScanConfig) GetInterval() (time.Duration, error) {
	if s.Interval == "" {
		return 30 * time.Second, nil
	}
	return helpers.ParseDuration(s.Interval)
}

// GetTimeout returns the per-probe deadline.
func (s *ScanConfig) GetTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 5 * time.Second, nil
	}
	return helpers.ParseDuration(s.Timeout)
}

// CredentialsConfig points at an optional login credentials file for
// authenticated probes: first line username, second line password.
type CredentialsConfig struct {
	File string `toml:"file"`
}

// WeightsConfig points at an optional enable-weight table file.
type WeightsConfig struct {
	File string `toml:"file"`
}

type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// StatusConfig controls the optional HTTP status/metrics listener.
type StatusConfig struct {
	Start       bool   `toml:"start"`
	Addr        string `toml:"addr"`
	MetricsPath string `toml:"metrics_path"`
}

// NewDefaultConfig returns a configuration with sensible defaults: probe
// IMAP on port 143 every 30 seconds against the standard director socket.
func NewDefaultConfig() Config {
	return Config{
		Director: DirectorConfig{
			Socket:  "/var/run/dovecot/director-admin",
			Timeout: "10s",
		},
		Scan: ScanConfig{
			Interval:  "30s",
			Timeout:   "5s",
			Ports:     []string{"IMAP:143"},
			TLSPorts:  []string{},
			TLSVerify: false,
		},
		Logging: LoggingConfig{
			Output: "stderr",  // Default to stderr
			Format: "console", // Default to console format
			Level:  "info",    // Default to info level
		},
		Status: StatusConfig{
			Start:       false,
			Addr:        "127.0.0.1:9205",
			MetricsPath: "/metrics",
		},
	}
}

// Validate checks the configuration for values that cannot work. Port spec
// syntax is checked where the specs are parsed, at startup.
func (c *Config) Validate() error {
	if c.Director.Socket == "" {
		return fmt.Errorf("director socket is required")
	}
	directorTimeout, err := c.Director.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid director timeout '%s': %w", c.Director.Timeout, err)
	}
	if directorTimeout <= 0 {
		return fmt.Errorf("director timeout must be positive, got '%s'", c.Director.Timeout)
	}

	interval, err := c.Scan.GetInterval()
	if err != nil {
		return fmt.Errorf("invalid scan interval '%s': %w", c.Scan.Interval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("scan interval must be positive, got '%s'", c.Scan.Interval)
	}
	timeout, err := c.Scan.GetTimeout()
	if err != nil {
		return fmt.Errorf("invalid scan timeout '%s': %w", c.Scan.Timeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("scan timeout must be positive, got '%s'", c.Scan.Timeout)
	}
	if len(c.Scan.Ports) == 0 && len(c.Scan.TLSPorts) == 0 {
		return fmt.Errorf("at least one port must be configured in scan.ports or scan.tls_ports")
	}

	if c.Logging.Format != "" {
		validFormats := []string{"console", "json"}
		isValid := false
		for _, f := range validFormats {
			if c.Logging.Format == f {
				isValid = true
				break
			}
		}
		if !isValid {
			return fmt.Errorf("invalid logging format '%s', must be one of: %s", c.Logging.Format, strings.Join(validFormats, ", "))
		}
	}
	if c.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "warning", "error"}
		isValid := false
		for _, l := range validLevels {
			if c.Logging.Level == l {
				isValid = true
				break
			}
		}
		if !isValid {
			return fmt.Errorf("invalid logging level '%s', must be one of: %s", c.Logging.Level, strings.Join(validLevels, ", "))
		}
	}

	if c.Status.Start && c.Status.Addr == "" {
		return fmt.Errorf("status listener enabled but status.addr is empty")
	}

	return nil
}

// LoadConfigFromFile loads configuration from a TOML file into cfg,
// preserving any defaults the file does not mention.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	// Capture metadata to check for unknown keys
	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", configPath, err)
	}

	// Warn about unknown keys (might be typos or deprecated settings)
	if len(metadata.Undecoded()) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range metadata.Undecoded() {
			log.Printf("WARNING:   - %s", key)
		}
		log.Printf("WARNING: These keys may be typos or deprecated settings. Please review your configuration.")
	}

	// Trim whitespace from all string fields in the configuration
	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))

	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			} else {
				trimStringFields(elem)
			}
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			field := v.Field(i)
			if field.CanSet() {
				trimStringFields(field)
			}
		}

	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
