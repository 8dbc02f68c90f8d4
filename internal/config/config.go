// Package config loads the typed settings struct for both process classes
// (webhook-service, worker-service) from a YAML file, the way the teacher's
// internal/config package does: one Load entry point, defaults applied for
// anything the file omits, validation that fails fast at process start.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	LLM            LLMConfig            `yaml:"llm"`
	Worker         WorkerConfig         `yaml:"worker"`
	Budget         BudgetConfig         `yaml:"budget"`
	Routing        RoutingConfig        `yaml:"routing"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Notification   NotificationConfig  `yaml:"notification"`
	Logging        LoggingConfig        `yaml:"logging"`
	Rasterizer     RasterizerConfig     `yaml:"rasterizer"`
}

type ServerConfig struct {
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LLMConfig describes the vendor binding used by the extractors and the
// three-agent pipeline. APIKey is never read from YAML; it is always
// sourced from the environment (see Load).
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	CheapModel  string   `yaml:"cheap_model"`
	Endpoint    string   `yaml:"endpoint"`
	Timeout     Duration `yaml:"timeout"`
	Temperature float32  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	APIKey      string   `yaml:"-"`
}

type WorkerConfig struct {
	Concurrency       int      `yaml:"concurrency"`
	PollInterval      Duration `yaml:"poll_interval"`
	VisibilityTimeout Duration `yaml:"visibility_timeout"`
	MaxRetries        int      `yaml:"max_retries"`
	BackoffMin        Duration `yaml:"backoff_min"`
	BackoffMax        Duration `yaml:"backoff_max"`
	MemoryEnvelopeMB  int      `yaml:"memory_envelope_mb"`
}

type BudgetConfig struct {
	TokenCapPerJob         int      `yaml:"token_cap_per_job"`
	TokenWarnFraction      float64  `yaml:"token_warn_fraction"`
	DailyCostCapUSD        float64  `yaml:"daily_cost_cap_usd"`
	DailyCostTTL           Duration `yaml:"daily_cost_ttl"`
	MaxPages               int      `yaml:"max_pages"`
	MaxAttachmentSize      int64    `yaml:"max_attachment_size_bytes"`
	PricePerThousandIn     float64  `yaml:"price_per_thousand_tokens_in"`
	PricePerThousandOut    float64  `yaml:"price_per_thousand_tokens_out"`
}

// RasterizerConfig points at the external page-rasterization service (§4.G
// scanned-PDF fallback): renders a native-text-absent PDF's pages to images
// for the vision extractor, an out-of-process concern this module never
// implements itself.
type RasterizerConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

type RoutingConfig struct {
	HighThreshold float64 `yaml:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold"`
}

type ReconciliationConfig struct {
	Interval Duration `yaml:"interval"`
	Window   Duration `yaml:"window"`
}

type NotificationConfig struct {
	SlackWebhookURL string `yaml:"-"`
	SlackChannel    string `yaml:"slack_channel"`
	AdminEmail      string `yaml:"admin_email"`
	SMTPHost        string `yaml:"smtp_host"`
	SMTPPort        int    `yaml:"smtp_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, applies defaults, overlays environment secrets, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	cfg.Notification.SlackWebhookURL = os.Getenv("SLACK_WEBHOOK_URL")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			WebhookPort: "8080",
			MetricsPort: "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * 60 * 1e9),
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		LLM: LLMConfig{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-5",
			CheapModel: "claude-haiku-4-5",
			Timeout:    Duration(30 * 1e9),
			MaxTokens:  2048,
		},
		Worker: WorkerConfig{
			Concurrency:       5,
			PollInterval:      Duration(2 * 1e9),
			VisibilityTimeout: Duration(5 * 60 * 1e9),
			MaxRetries:        5,
			BackoffMin:        Duration(15 * 1e9),
			BackoffMax:        Duration(5 * 60 * 1e9),
			MemoryEnvelopeMB:  512,
		},
		Budget: BudgetConfig{
			TokenCapPerJob:      100_000,
			TokenWarnFraction:   0.8,
			DailyCostCapUSD:     50.0,
			DailyCostTTL:        Duration(48 * 60 * 60 * 1e9),
			MaxPages:            10,
			MaxAttachmentSize:   20 * 1024 * 1024,
			PricePerThousandIn:  0.003,
			PricePerThousandOut: 0.015,
		},
		Rasterizer: RasterizerConfig{
			Timeout: Duration(30 * 1e9),
		},
		Routing: RoutingConfig{
			HighThreshold: 0.85,
			LowThreshold:  0.60,
		},
		Reconciliation: ReconciliationConfig{
			Interval: Duration(60 * 60 * 1e9),
			Window:   Duration(48 * 60 * 60 * 1e9),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) validate() error {
	if c.Server.WebhookPort == "" {
		return fmt.Errorf("failed to parse config file: server.webhook_port is required")
	}
	if c.LLM.Endpoint == "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("failed to parse config file: llm.endpoint is required for provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("failed to parse config file: llm.model is required")
	}
	if c.Routing.HighThreshold < 0.75 {
		return fmt.Errorf("failed to parse config file: routing.high_threshold must never be set below 0.75")
	}
	if c.Routing.LowThreshold >= c.Routing.HighThreshold {
		return fmt.Errorf("failed to parse config file: routing.low_threshold must be less than routing.high_threshold")
	}
	return nil
}
