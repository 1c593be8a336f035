// Package config loads intentctl configuration.
//
// Sources, later ones overriding earlier ones:
//  1. Defaults
//  2. A YAML file: the --config path, or intentctl.yaml found in ., ./configs,
//     $HOME/.intentctl or /etc/intentctl
//  3. Environment variables with the INTENTCTL_ prefix, e.g.
//     INTENTCTL_CONTROLLER_BASE_URL or INTENTCTL_LOOP_POLL_INTERVAL
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/controller"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/logging"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/observability"
	"github.com/signalsfoundry/bandwidth-intent-controller/internal/onos"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INTENTCTL"

// Config is the root configuration.
type Config struct {
	Controller ControllerConfig `mapstructure:"controller"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Allocator  AllocatorConfig  `mapstructure:"allocator"`
	Flows      FlowsConfig      `mapstructure:"flows"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ControllerConfig locates the SDN controller REST API.
type ControllerConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`
	Retries           int           `mapstructure:"retries" validate:"gte=0,lte=10"`
}

// LoopConfig tunes the control loop.
type LoopConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// AllocatorConfig selects and tunes path search.
type AllocatorConfig struct {
	Strategy            string `mapstructure:"strategy" validate:"oneof=kshortest hop hop-strict"`
	HopDiff             int    `mapstructure:"hop_diff" validate:"gte=0"`
	MaxPaths            int    `mapstructure:"max_paths" validate:"gte=1"`
	MaxCandidates       int    `mapstructure:"max_candidates" validate:"gte=1"`
	DefaultLinkCapacity int64  `mapstructure:"default_link_capacity" validate:"gte=1"`
}

// FlowsConfig shapes installed flow rules.
type FlowsConfig struct {
	Priority       int `mapstructure:"priority" validate:"gte=1,lte=65535"`
	InstallWorkers int `mapstructure:"install_workers" validate:"gte=1,lte=256"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level     string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format    string `mapstructure:"format" validate:"oneof=text json"`
	AddSource bool   `mapstructure:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// AdminConfig configures the gRPC admin endpoint. An empty GRPCAddr disables it.
type AdminConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr" validate:"omitempty,hostname_port"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter" validate:"oneof=stdout otlp"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
}

// Load reads configuration from cfgFile, or from the standard search paths
// when cfgFile is empty, then applies environment overrides and validates
// the result. An explicit cfgFile must exist.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("intentctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.intentctl")
		v.AddConfigPath("/etc/intentctl")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("controller.base_url", "http://localhost:8181/onos/v1")
	v.SetDefault("controller.username", "onos")
	v.SetDefault("controller.password", "rocks")
	v.SetDefault("controller.timeout", "10s")
	v.SetDefault("controller.requests_per_second", 0)
	v.SetDefault("controller.burst", 1)
	v.SetDefault("controller.retries", 0)

	v.SetDefault("loop.poll_interval", controller.DefaultPollInterval.String())
	v.SetDefault("loop.shutdown_timeout", controller.DefaultShutdownTimeout.String())

	def := alloc.DefaultConfig()
	v.SetDefault("allocator.strategy", string(def.Strategy))
	v.SetDefault("allocator.hop_diff", def.HopDiff)
	v.SetDefault("allocator.max_paths", def.MaxPaths)
	v.SetDefault("allocator.max_candidates", def.MaxCandidates)
	v.SetDefault("allocator.default_link_capacity", controller.DefaultLinkCapacity)

	v.SetDefault("flows.priority", 40001)
	v.SetDefault("flows.install_workers", controller.DefaultInstallWorkers)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("admin.grpc_addr", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "intentctl")
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("tracing.endpoint is required for the otlp exporter")
	}
	if c.Loop.ShutdownTimeout < c.Controller.Timeout {
		return fmt.Errorf("loop.shutdown_timeout %s shorter than controller.timeout %s", c.Loop.ShutdownTimeout, c.Controller.Timeout)
	}
	return nil
}

// ONOS returns the REST client settings.
func (c *Config) ONOS() onos.Config {
	return onos.Config{
		BaseURL:           c.Controller.BaseURL,
		Username:          c.Controller.Username,
		Password:          c.Controller.Password,
		Timeout:           c.Controller.Timeout,
		RequestsPerSecond: c.Controller.RequestsPerSecond,
		Burst:             c.Controller.Burst,
		Retries:           c.Controller.Retries,
	}
}

// Alloc returns the allocator settings.
func (c *Config) Alloc() alloc.Config {
	return alloc.Config{
		Strategy:      alloc.Strategy(c.Allocator.Strategy),
		HopDiff:       c.Allocator.HopDiff,
		MaxCandidates: c.Allocator.MaxCandidates,
		MaxPaths:      c.Allocator.MaxPaths,
	}
}

// LoopSettings returns the control loop settings.
func (c *Config) LoopSettings() controller.LoopConfig {
	return controller.LoopConfig{
		PollInterval:    c.Loop.PollInterval,
		ShutdownTimeout: c.Loop.ShutdownTimeout,
	}
}

// Log returns the logger settings.
func (c *Config) Log() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
	}
}

// Trace returns the tracing settings.
func (c *Config) Trace() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
