package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the danso client.
type Config struct {
	Server  Server  `yaml:"server"`
	Engine  Engine  `yaml:"engine"`
	Chart   Chart   `yaml:"chart"`
	Push    Push    `yaml:"push"`
	Notify  Notify  `yaml:"notify"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
}

// Server locates the signal server whose JSON contract the client consumes.
type Server struct {
	BaseURL      string `yaml:"base_url"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// Engine controls the update scheduler.
type Engine struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Chart controls the chart session refresh loop.
type Chart struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Height          int           `yaml:"height"`
}

// Push configures the optional unsolicited snapshot channel.
type Push struct {
	// Transport is "", "websocket" or "grpc". Empty disables push.
	Transport string `yaml:"transport"`
	URL       string `yaml:"url"`
}

// Notify configures the notification subscription flow.
type Notify struct {
	// Permission is the process-level notification permission:
	// "default" (ask), "granted" or "denied".
	Permission     string        `yaml:"permission"`
	WorkerURL      string        `yaml:"worker_url"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	AlertThreshold int           `yaml:"alert_threshold"`
}

// Alpaca holds optional credentials for fetching candles directly from the
// Alpaca market-data API instead of the signal server.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ---------------------------------------------------------------------------
// Defaults and validation
// ---------------------------------------------------------------------------

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultRequestTimeout  = 4 * time.Second
	DefaultRefreshInterval = 5 * time.Second
	DefaultReadyTimeout    = 10 * time.Second
	DefaultChartHeight     = 14

	MinPollInterval = time.Second
	MaxPollInterval = time.Minute
)

// Default returns a configuration pointing at a local development server.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:5000"
	}
	if c.Server.SnapshotPath == "" {
		c.Server.SnapshotPath = "/api/sts/status"
	}
	if c.Engine.PollInterval == 0 {
		c.Engine.PollInterval = DefaultPollInterval
	}
	if c.Engine.RequestTimeout == 0 {
		c.Engine.RequestTimeout = DefaultRequestTimeout
	}
	if c.Chart.RefreshInterval == 0 {
		c.Chart.RefreshInterval = DefaultRefreshInterval
	}
	if c.Chart.Height == 0 {
		c.Chart.Height = DefaultChartHeight
	}
	if c.Notify.Permission == "" {
		c.Notify.Permission = "default"
	}
	if c.Notify.ReadyTimeout == 0 {
		c.Notify.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = fmt.Sprintf("/tmp/danso-client-%s.log", time.Now().Format("2006-01-02"))
	}
}

// Validate reports configuration values outside their accepted ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.PollInterval < MinPollInterval || c.Engine.PollInterval > MaxPollInterval {
		errs = append(errs, fmt.Errorf("engine.poll_interval %v outside [%v, %v]",
			c.Engine.PollInterval, MinPollInterval, MaxPollInterval))
	}
	if c.Engine.RequestTimeout <= 0 {
		errs = append(errs, errors.New("engine.request_timeout must be positive"))
	}
	if c.Chart.RefreshInterval < MinPollInterval {
		errs = append(errs, fmt.Errorf("chart.refresh_interval %v below %v", c.Chart.RefreshInterval, MinPollInterval))
	}
	if c.Notify.AlertThreshold < 0 || c.Notify.AlertThreshold > 100 {
		errs = append(errs, fmt.Errorf("notify.alert_threshold %d outside [0, 100]", c.Notify.AlertThreshold))
	}
	switch c.Notify.Permission {
	case "default", "granted", "denied":
	default:
		errs = append(errs, fmt.Errorf("notify.permission %q must be default, granted or denied", c.Notify.Permission))
	}
	switch c.Push.Transport {
	case "", "websocket", "grpc":
	default:
		errs = append(errs, fmt.Errorf("push.transport %q must be websocket or grpc", c.Push.Transport))
	}
	if c.Push.Transport != "" && c.Push.URL == "" {
		errs = append(errs, errors.New("push.url is required when push.transport is set"))
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides (after loading an optional .env file from
// the working directory), fills defaults and validates the result. An empty
// path skips the file and starts from defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load(".env")

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DANSO_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("DANSO_PUSH_TRANSPORT"); v != "" {
		cfg.Push.Transport = v
	}
	if v := os.Getenv("DANSO_PUSH_URL"); v != "" {
		cfg.Push.URL = v
	}
	if v := os.Getenv("DANSO_WORKER_URL"); v != "" {
		cfg.Notify.WorkerURL = v
	}
	if v := os.Getenv("DANSO_NOTIFY_PERMISSION"); v != "" {
		cfg.Notify.Permission = v
	}
	if v := os.Getenv("DANSO_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DANSO_POLL_INTERVAL: %w", err)
		}
		cfg.Engine.PollInterval = d
	}
	if v := os.Getenv("DANSO_ALERT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DANSO_ALERT_THRESHOLD: %w", err)
		}
		cfg.Notify.AlertThreshold = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}
