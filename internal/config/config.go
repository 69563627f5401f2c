// Package config loads flowctl configuration.
//
// Precedence: defaults, then the YAML file, then FLOWSTREAM_* environment
// variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("flowstream.yaml").
//	    Load()
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/flowstream/flow/transport"
)

// Config is the complete flowctl configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// EngineConfig locates the workflow engine.
type EngineConfig struct {
	BaseURL     string `yaml:"base_url" env:"BASE_URL"`
	ExecutePath string `yaml:"execute_path" env:"EXECUTE_PATH"`
	HealthPath  string `yaml:"health_path" env:"HEALTH_PATH"`

	// Headers are sent with every request. File only.
	Headers map[string]string `yaml:"headers"`

	ReadBufferSize int           `yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
	MaxErrorBody   int64         `yaml:"max_error_body" env:"MAX_ERROR_BODY"`
	HealthTimeout  time.Duration `yaml:"health_timeout" env:"HEALTH_TIMEOUT"`
}

// Transport converts the engine section into a transport.Config.
func (e EngineConfig) Transport() transport.Config {
	return transport.Config{
		BaseURL:        e.BaseURL,
		ExecutePath:    e.ExecutePath,
		HealthPath:     e.HealthPath,
		Headers:        e.Headers,
		ReadBufferSize: e.ReadBufferSize,
		MaxErrorBody:   e.MaxErrorBody,
		HealthTimeout:  e.HealthTimeout,
	}
}

// LogConfig configures the diagnostic zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Events selects run event output: text, json, none
	Events string `yaml:"events" env:"EVENTS"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. ":9090".
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig configures span export.
type TelemetryConfig struct {
	// OTLPEndpoint enables OTLP/gRPC trace export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"INSECURE"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			BaseURL:        transport.DefaultBaseURL,
			ExecutePath:    transport.DefaultExecutePath,
			HealthPath:     transport.DefaultHealthPath,
			ReadBufferSize: transport.DefaultReadBufferSize,
			MaxErrorBody:   transport.DefaultMaxErrorBody,
			HealthTimeout:  transport.DefaultHealthTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Events: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "flowctl",
		},
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Engine.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine.base_url: %q is not an http(s) URL", c.Engine.BaseURL))
	}
	if c.Engine.ReadBufferSize < 0 {
		errs = append(errs, errors.New("engine.read_buffer_size must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch c.Log.Events {
	case "text", "json", "none":
	default:
		errs = append(errs, fmt.Errorf("log.events: unknown mode %q", c.Log.Events))
	}

	return errors.Join(errs...)
}

// Loader reads a Config from defaults, a YAML file and the environment.
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader returns a loader using the FLOWSTREAM environment prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "FLOWSTREAM",
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix changes the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnv replaces the environment lookup (tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, l.lookupEnv); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

// setFieldsFromEnv walks struct fields with an env tag. Nested structs
// extend the prefix: Engine.BaseURL is FLOWSTREAM_ENGINE_BASE_URL.
func setFieldsFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}

		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
