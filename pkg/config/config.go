package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ttm56p/arsenic/pkg/engine"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/logging"
	"github.com/ttm56p/arsenic/pkg/probe"
	"github.com/ttm56p/arsenic/pkg/service"
)

// Default configuration values exported for documentation and validation
const (
	DefaultServiceKind      = service.KindGeckodriver
	DefaultRequestTimeout   = 2 * time.Second
	DefaultTerminationGrace = 5 * time.Second
	DefaultLogLevel         = "info"
	DefaultMetricsListen    = "127.0.0.1:9464"
	DefaultTracingService   = "arsenic"
)

// Config represents the complete arsenic configuration
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Probe   ProbeConfig   `yaml:"probe"`
	HTTP    HTTPConfig    `yaml:"http"`
	Process ProcessConfig `yaml:"process"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServiceConfig selects the driver variant and its options.
type ServiceConfig struct {
	Kind service.Kind `yaml:"kind"`

	// Local drivers
	Binary    string   `yaml:"binary"`
	Port      int      `yaml:"port"`
	LogFile   string   `yaml:"log_file"`
	Arguments []string `yaml:"arguments"`

	// Remote driver
	URL  string       `yaml:"url"`
	Auth *engine.Auth `yaml:"auth"`
}

// ProbeConfig controls readiness probing of local drivers.
type ProbeConfig struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// HTTPConfig tunes driver sessions.
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// ProcessConfig controls spawned driver processes.
type ProcessConfig struct {
	TerminationGrace time.Duration `yaml:"termination_grace"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a configuration that launches geckodriver on a free
// port with the standard probe budget.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Kind: DefaultServiceKind,
		},
		Probe: ProbeConfig{
			Attempts: probe.DefaultAttempts,
			Interval: probe.DefaultInterval,
		},
		HTTP: HTTPConfig{
			Timeout: DefaultRequestTimeout,
		},
		Process: ProcessConfig{
			TerminationGrace: DefaultTerminationGrace,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultTracingService,
		},
	}
}

// LoadFromPath loads the YAML file at path over the defaults and validates
// the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "read config").
			WithContext("path", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		if e, ok := apperrors.As(err); ok {
			e.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Service.Kind {
	case service.KindGeckodriver, service.KindChromedriver:
		if c.Service.Port < 0 || c.Service.Port > 65535 {
			return invalid("service.port out of range: %d", c.Service.Port)
		}
		if c.Service.URL != "" {
			return invalid("service.url only applies to kind remote")
		}
	case service.KindRemote:
		if err := validateRemoteURL(c.Service.URL); err != nil {
			return err
		}
		if c.Service.Binary != "" || c.Service.Port != 0 || len(c.Service.Arguments) > 0 {
			return invalid("binary, port and arguments do not apply to kind remote")
		}
	default:
		return invalid("invalid service kind: %q (valid: geckodriver, chromedriver, remote)", c.Service.Kind)
	}
	if c.Service.Auth != nil && strings.TrimSpace(c.Service.Auth.Username) == "" {
		return invalid("service.auth.username is required when auth is set")
	}

	if c.Probe.Attempts <= 0 {
		return invalid("probe.attempts must be positive")
	}
	if c.Probe.Interval <= 0 {
		return invalid("probe.interval must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		return invalid("http.timeout must be positive")
	}
	if c.HTTP.RequestsPerSecond < 0 || c.HTTP.Burst < 0 {
		return invalid("http rate limit must not be negative")
	}
	if c.Process.TerminationGrace <= 0 {
		return invalid("process.termination_grace must be positive")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid logging.level")
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid metrics.listen").
				WithContext("listen", c.Metrics.Listen)
		}
	}
	return nil
}

func validateRemoteURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return invalid("service.url is required for kind remote")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "invalid service.url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("service.url must be an absolute http(s) URL: %q", raw)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apperrors.New(apperrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...))
}

// Service builds the configured service descriptor.
func (c *Config) Service() service.Service {
	readiness := probe.Config{Attempts: c.Probe.Attempts, Interval: c.Probe.Interval}
	switch c.Service.Kind {
	case service.KindChromedriver:
		return service.Chromedriver{
			Binary:    c.Service.Binary,
			Port:      c.Service.Port,
			LogFile:   c.Service.LogFile,
			Arguments: c.Service.Arguments,
			Readiness: readiness,
		}
	case service.KindRemote:
		return service.Remote{URL: c.Service.URL, Auth: c.Service.Auth}
	default:
		return service.Geckodriver{
			Binary:    c.Service.Binary,
			Port:      c.Service.Port,
			LogFile:   c.Service.LogFile,
			Arguments: c.Service.Arguments,
			Readiness: readiness,
		}
	}
}

// Engine builds the host engine.
func (c *Config) Engine() *engine.Host {
	return engine.NewHost(engine.HostConfig{
		RequestTimeout:    c.HTTP.Timeout,
		RequestsPerSecond: c.HTTP.RequestsPerSecond,
		Burst:             c.HTTP.Burst,
		TerminationGrace:  c.Process.TerminationGrace,
	})
}

// Logger builds the root logger writing to w.
func (c *Config) Logger(w io.Writer) *logging.Logger {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.New(w, "arsenicd", level)
}
