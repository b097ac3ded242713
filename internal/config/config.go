// Package config loads the FlowSentry configuration in three layers: built-in
// defaults, an optional YAML file and FLOWSENTRY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"FlowSentry/internal/logging"
)

// EnvPrefix is the prefix of environment overrides. FLOWSENTRY_NATS_URL maps
// to nats.url: the first segment after the prefix names the section.
const EnvPrefix = "FLOWSENTRY_"

// EngineConfig controls feature assembly when no model bundle provides the
// window length.
type EngineConfig struct {
	WindowSeconds int    `koanf:"window_seconds" validate:"min=0"`
	WindowMode    string `koanf:"window_mode" validate:"oneof=auto enabled disabled"`
	FeatureOnly   bool   `koanf:"feature_only"`

	// SnapshotDir, when set, is where ns-engine saves its window state on
	// shutdown and restores it from on startup.
	SnapshotDir string `koanf:"snapshot_dir"`
}

// ModelConfig locates the classifier bundle and an optional remote scorer.
type ModelConfig struct {
	BundlePath      string `koanf:"bundle_path"`
	RemoteURL       string `koanf:"remote_url" validate:"omitempty,url"`
	RemoteTimeout   string `koanf:"remote_timeout"`
	BreakerFailures uint32 `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  string `koanf:"breaker_timeout"`
}

// NATSConfig holds the flow and detection subjects.
type NATSConfig struct {
	URL              string `koanf:"url" validate:"required"`
	FlowSubject      string `koanf:"flow_subject" validate:"required"`
	DetectionSubject string `koanf:"detection_subject" validate:"required"`
	QueueGroup       string `koanf:"queue_group"`
	BufferSize       int    `koanf:"buffer_size" validate:"min=1"`
}

// ClickHouseConfig holds the connection settings of the detection store.
type ClickHouseConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host" validate:"required_if=Enabled true"`
	Port     int    `koanf:"port" validate:"min=0,max=65535"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Table    string `koanf:"table"`
}

// OutputConfig selects the file writer used by the CLI.
type OutputConfig struct {
	Format string `koanf:"format" validate:"oneof=json jsonl text"`
	Path   string `koanf:"path"`
}

// AlerterRule fires when a class was detected at least MinCount times within
// one check interval.
type AlerterRule struct {
	Name       string `koanf:"name" validate:"required"`
	ClassGuess string `koanf:"class_guess" validate:"required"`
	MinCount   int    `koanf:"min_count" validate:"min=1"`
}

// AlerterConfig holds the detection alerter settings.
type AlerterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	CheckInterval string        `koanf:"check_interval"`
	Rules         []AlerterRule `koanf:"rules" validate:"dive"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	To       string `koanf:"to"`
}

// APIConfig holds the query API listen address.
type APIConfig struct {
	ListenAddr string `koanf:"listen_addr" validate:"required"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr"`
}

// HealthConfig holds the gRPC health service address.
type HealthConfig struct {
	ListenAddr string `koanf:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine     EngineConfig     `koanf:"engine"`
	Model      ModelConfig      `koanf:"model"`
	Logging    logging.Config   `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
	Output     OutputConfig     `koanf:"output"`
	Alerter    AlerterConfig    `koanf:"alerter"`
	SMTP       SMTPConfig       `koanf:"smtp"`
	API        APIConfig        `koanf:"api"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Health     HealthConfig     `koanf:"health"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{WindowSeconds: 60, WindowMode: "auto"},
		Model: ModelConfig{
			RemoteTimeout:   "2s",
			BreakerFailures: 5,
			BreakerTimeout:  "30s",
		},
		Logging: logging.Config{Level: "info", Format: "console"},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			FlowSubject:      "flowsentry.flows",
			DetectionSubject: "flowsentry.detections",
			BufferSize:       4096,
		},
		ClickHouse: ClickHouseConfig{
			Host:     "127.0.0.1",
			Port:     9000,
			Database: "default",
			Username: "default",
			Table:    "detections",
		},
		Output:  OutputConfig{Format: "json"},
		Alerter: AlerterConfig{CheckInterval: "1m"},
		API:     APIConfig{ListenAddr: ":8080"},
		Metrics: MetricsConfig{Enabled: true, ListenAddr: ":9100"},
		Health:  HealthConfig{ListenAddr: ":9101"},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file at
// filePath (skipped when empty) and the environment, then validates it.
func LoadConfig(filePath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps FLOWSENTRY_SECTION_SOME_KEY to section.some_key.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	return section + "." + rest
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
