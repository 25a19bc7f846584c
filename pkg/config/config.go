package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the backend's runtime settings.
type ServerConfig struct {
	Listen    string          `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Hardening HardeningConfig `yaml:"hardening"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type DatabaseConfig struct {
	Path           string `yaml:"path"`
	QueryTimeoutMs int    `yaml:"query_timeout_ms"`
}

// HardeningConfig controls the optional environment probes applied during
// scan ingestion.
type HardeningConfig struct {
	WindowsPasswordPolicy bool `yaml:"windows_password_policy"`
	MinPasswordLength     int  `yaml:"min_password_length"`
	// InventoryPath is a YAML map of hostname -> reported minimum password
	// length, maintained by an out-of-band environment probe.
	InventoryPath string `yaml:"inventory_path"`
}

// AgentConfig holds the host agent's runtime settings.
type AgentConfig struct {
	Server    AgentServerConfig `yaml:"server"`
	Scanner   ScannerConfig     `yaml:"scanner"`
	StatePath string            `yaml:"state_path"`
	Logging   LoggingConfig     `yaml:"logging"`
}

type AgentServerConfig struct {
	URL             string `yaml:"url"`
	RequestTimeout  int    `yaml:"request_timeout_s"`
	RetryInitialMs  int    `yaml:"retry_initial_ms"`
	RetryMaxMs      int    `yaml:"retry_max_ms"`
	RetryMaxRetries int    `yaml:"retry_max_attempts"`
}

// ScannerConfig points at the report handoff produced by the external CIS
// scanner. The agent never invokes the scanner itself.
type ScannerConfig struct {
	ReportPath string `yaml:"report_path"`
	Benchmark  string `yaml:"benchmark"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

// DefaultServerConfig returns a config with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen: ":8000",
		Database: DatabaseConfig{
			Path:           "trace.db",
			QueryTimeoutMs: 5000,
		},
		Hardening: HardeningConfig{
			WindowsPasswordPolicy: false,
			MinPasswordLength:     12,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

// DefaultAgentConfig returns a config with sensible defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Server: AgentServerConfig{
			URL:             "http://localhost:8000",
			RequestTimeout:  30,
			RetryInitialMs:  500,
			RetryMaxMs:      5000,
			RetryMaxRetries: 5,
		},
		Scanner: ScannerConfig{
			ReportPath: "outputs/report.json",
		},
		StatePath: "agent_config.json",
		Logging:   LoggingConfig{Level: "info", JSON: false},
	}
}

// LoadServer reads server config from file with env var overrides.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	if listen := os.Getenv("TRACE_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if db := os.Getenv("TRACE_DB_PATH"); db != "" {
		cfg.Database.Path = db
	}
	if level := os.Getenv("TRACE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if ep := os.Getenv("TRACE_OTLP_ENDPOINT"); ep != "" {
		cfg.Tracing.Endpoint = ep
	}

	return cfg, nil
}

// LoadAgent reads agent config from file with env var overrides.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv("TRACE_SERVER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if report := os.Getenv("TRACE_REPORT_PATH"); report != "" {
		cfg.Scanner.ReportPath = report
	}
	if level := os.Getenv("TRACE_AGENT_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, out)
}

func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return ErrMissingListen
	}
	if c.Database.Path == "" {
		return ErrMissingDatabase
	}
	if c.Database.QueryTimeoutMs <= 0 {
		c.Database.QueryTimeoutMs = 5000
	}
	if c.Hardening.MinPasswordLength <= 0 {
		c.Hardening.MinPasswordLength = 12
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

func (c *AgentConfig) Validate() error {
	if c.Server.URL == "" {
		return ErrMissingServerURL
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		return &Error{"server URL must be http or https"}
	}
	if c.Scanner.ReportPath == "" {
		return ErrMissingReportPath
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30
	}
	if c.Server.RetryInitialMs <= 0 {
		c.Server.RetryInitialMs = 500
	}
	if c.Server.RetryMaxMs <= 0 {
		c.Server.RetryMaxMs = 5000
	}
	if c.Server.RetryMaxRetries < 0 {
		c.Server.RetryMaxRetries = 5
	}
	if c.Server.RetryMaxMs < c.Server.RetryInitialMs {
		c.Server.RetryMaxMs = c.Server.RetryInitialMs
	}
	return nil
}

var (
	ErrMissingListen     = &Error{"listen address is required"}
	ErrMissingDatabase   = &Error{"database path is required"}
	ErrMissingServerURL  = &Error{"server URL is required"}
	ErrMissingReportPath = &Error{"scanner report path is required"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
