package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fllarpy/apm-demo/domain"
)

// Supported OTLP export protocols.
const (
	ProtocolGRPC         = "grpc"
	ProtocolHTTPProtobuf = "http/protobuf"
)

// EnvPrefix is prepended to every environment variable, e.g. APM_HTTP_ADDR.
const EnvPrefix = "APM"

// Config holds the configuration for the demo service and its metrics pipeline.
type Config struct {
	ServiceName string   `mapstructure:"service_name"`
	LogLevel    string   `mapstructure:"log_level"`
	HTTP        HTTP     `mapstructure:"http"`
	Admin       Admin    `mapstructure:"admin"`
	Exporter    Exporter `mapstructure:"exporter"`
	Tracing     Tracing  `mapstructure:"tracing"`
	Shutdown    Shutdown `mapstructure:"shutdown"`
}

// HTTP configures the public demo server.
type HTTP struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	SlowDelay         time.Duration `mapstructure:"slow_delay"`
}

// Admin configures the health/debug server. An empty Addr disables it.
type Admin struct {
	Addr      string `mapstructure:"addr"`
	DebugPath string `mapstructure:"debug_path"`
}

// Exporter is the collector configuration; it is immutable once the
// pipeline has been built.
type Exporter struct {
	Endpoint     string            `mapstructure:"endpoint"`
	Protocol     string            `mapstructure:"protocol"`
	PushInterval time.Duration     `mapstructure:"push_interval"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Headers      map[string]string `mapstructure:"headers"`
}

// Tracing enables OTLP span export next to metrics.
type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Shutdown controls the drain sequence after the servers stop.
type Shutdown struct {
	DrainPeriod  time.Duration `mapstructure:"drain_period"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// Flags returns the command line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config-dir", ".", "Directory searched for config.yaml.")
	fs.String("http-addr", "", "Listen address of the demo server.")
	fs.String("admin-addr", "", "Listen address of the admin server.")
	fs.String("exporter-endpoint", "", "OTLP collector endpoint.")
	fs.String("exporter-protocol", "", "OTLP protocol: grpc or http/protobuf.")
	fs.String("log-level", "", "Log level: debug|info|warn|error.")
	return fs
}

// flagKeys maps flag names onto config keys.
var flagKeys = map[string]string{
	"http-addr":         "http.addr",
	"admin-addr":        "admin.addr",
	"exporter-endpoint": "exporter.endpoint",
	"exporter-protocol": "exporter.protocol",
	"log-level":         "log_level",
}

// Load reads configuration from (in increasing priority) defaults, an
// optional config.yaml in path, APM_* environment variables and flags.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		if dir, err := flags.GetString("config-dir"); err == nil && flags.Changed("config-dir") {
			path = dir
		}
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "apm-demo")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("http.slow_delay", time.Second)

	v.SetDefault("admin.addr", ":9464")
	v.SetDefault("admin.debug_path", "/debug/apm")

	v.SetDefault("exporter.endpoint", "http://localhost:4317")
	v.SetDefault("exporter.protocol", ProtocolGRPC)
	v.SetDefault("exporter.push_interval", time.Second)
	v.SetDefault("exporter.timeout", 5*time.Second)
	v.SetDefault("exporter.headers", map[string]string{})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("shutdown.drain_period", 10*time.Second)
	v.SetDefault("shutdown.flush_timeout", 5*time.Second)
}

// Validate checks every setting that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return &domain.ConfigurationError{Field: "service_name", Err: errors.New("must not be empty")}
	}
	if c.HTTP.Addr == "" {
		return &domain.ConfigurationError{Field: "http.addr", Err: errors.New("must not be empty")}
	}
	if c.HTTP.SlowDelay < 0 {
		return durationError("http.slow_delay", c.HTTP.SlowDelay)
	}
	if c.Admin.Addr != "" {
		if err := validateDebugPath(c.Admin.DebugPath); err != nil {
			return &domain.ConfigurationError{Field: "admin.debug_path", Value: c.Admin.DebugPath, Err: err}
		}
	}
	if _, err := ParseEndpoint(c.Exporter.Endpoint, c.Exporter.Protocol); err != nil {
		return err
	}
	if c.Exporter.PushInterval <= 0 {
		return durationError("exporter.push_interval", c.Exporter.PushInterval)
	}
	if c.Exporter.Timeout <= 0 {
		return durationError("exporter.timeout", c.Exporter.Timeout)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return &domain.ConfigurationError{
			Field: "tracing.sample_ratio",
			Value: strconv.FormatFloat(c.Tracing.SampleRatio, 'f', -1, 64),
			Err:   errors.New("must be within [0, 1]"),
		}
	}
	if c.Shutdown.DrainPeriod < 0 {
		return durationError("shutdown.drain_period", c.Shutdown.DrainPeriod)
	}
	if c.Shutdown.FlushTimeout <= 0 {
		return durationError("shutdown.flush_timeout", c.Shutdown.FlushTimeout)
	}
	return nil
}

// ReservedAdminPaths are served by the admin server itself.
var ReservedAdminPaths = []string{"/healthz", "/readyz", "/metrics"}

// validateDebugPath rejects paths the admin mux could not register.
func validateDebugPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return errors.New("must start with /")
	}
	if strings.ContainsAny(path, "{} \t") {
		return errors.New("must be a literal path")
	}
	for _, reserved := range ReservedAdminPaths {
		if path == reserved {
			return fmt.Errorf("conflicts with %s", reserved)
		}
	}
	return nil
}

func durationError(field string, d time.Duration) error {
	return &domain.ConfigurationError{Field: field, Value: d.String(), Err: errors.New("out of range")}
}

// ParseEndpoint validates a collector address and normalizes it into a URL.
// Both "http(s)://host:port[/path]" and bare "host:port" are accepted; a
// missing port defaults to 4317 for grpc and 4318 for http/protobuf.
func ParseEndpoint(raw, protocol string) (*url.URL, error) {
	fail := func(err error) error {
		return &domain.ConfigurationError{Field: "exporter.endpoint", Value: raw, Err: err}
	}

	var defaultPort string
	switch protocol {
	case ProtocolGRPC:
		defaultPort = "4317"
	case ProtocolHTTPProtobuf:
		defaultPort = "4318"
	default:
		return nil, &domain.ConfigurationError{
			Field: "exporter.protocol",
			Value: protocol,
			Err:   fmt.Errorf("must be %q or %q", ProtocolGRPC, ProtocolHTTPProtobuf),
		}
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fail(errors.New("must not be empty"))
	}
	s := raw
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fail(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fail(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, fail(errors.New("missing host"))
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return nil, fail(fmt.Errorf("invalid port %q", port))
	}
	u.Host = net.JoinHostPort(u.Hostname(), port)
	return u, nil
}
