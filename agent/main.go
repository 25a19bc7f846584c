package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/tracehq/trace/pkg/config"
	"github.com/tracehq/trace/pkg/report"
)

var (
	configPath = flag.String("config", "agent.yaml", "Config file path")
	serverURL  = flag.String("server", "", "Trace server URL (overrides config)")
	reportPath = flag.String("report", "", "Scanner report path (overrides config)")
	interval   = flag.Duration("interval", 0, "Re-upload interval; zero means upload once and exit")
	Version    = "dev"
)

type Agent struct {
	config *config.AgentConfig
	state  *agentState
	client *http.Client
	retry  *retrier
}

// agentState is the credential handoff persisted after first registration.
type agentState struct {
	AgentID    uint   `json:"agent_id"`
	AgentToken string `json:"agent_token"`
}

func main() {
	flag.Parse()

	configureAgentLogger()
	log.Info().Str("version", Version).Msg("Trace Agent starting")

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *reportPath != "" {
		cfg.Scanner.ReportPath = *reportPath
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	applyAgentLogging(cfg.Logging)

	agent := &Agent{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		},
		retry: newRetrier(cfg.Server.RetryInitialMs, cfg.Server.RetryMaxMs, cfg.Server.RetryMaxRetries),
	}

	if err := agent.loadOrRegister(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize agent identity")
	}
	log.Info().Uint("agent_id", agent.state.AgentID).Str("server", cfg.Server.URL).Msg("Agent registered")

	if err := agent.uploadReport(); err != nil {
		log.Fatal().Err(err).Msg("Failed to upload scan report")
	}

	if *interval <= 0 {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := agent.uploadReport(); err != nil {
			log.Error().Err(err).Msg("Failed to upload scan report")
		}
	}
}

func configureAgentLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("TRACE_AGENT_LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	format := strings.ToLower(strings.TrimSpace(os.Getenv("TRACE_AGENT_LOG_FORMAT")))

	logger := newAgentLogger(format)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func applyAgentLogging(cfg config.LoggingConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}

	format := "console"
	if cfg.JSON {
		format = "json"
	}

	logger := newAgentLogger(format)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func newAgentLogger(format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// loadOrRegister reuses persisted credentials when present, otherwise
// registers with the server and saves the issued token.
func (a *Agent) loadOrRegister() error {
	state, err := loadState(a.config.StatePath)
	if err == nil && state.AgentToken != "" {
		a.state = state
		log.Info().Uint("agent_id", state.AgentID).Msg("Loaded existing credentials")
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	log.Info().Msg("Registering new agent")
	return a.register()
}

func (a *Agent) register() error {
	hostname, osName := hostIdentity()
	payload := map[string]string{
		"system_name": hostname,
		"os_name":     osName,
		"ip_address":  primaryIP(),
	}
	data, _ := json.Marshal(payload)

	var state agentState
	err := a.retry.do(func() error {
		resp, err := a.client.Post(a.endpoint("/api/agents/register"), "application/json", bytes.NewReader(data))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp) {
			return retryableStatusError{status: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("registration failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return json.NewDecoder(resp.Body).Decode(&state)
	}, isRetryableHTTP)
	if err != nil {
		return err
	}
	if state.AgentToken == "" {
		return errors.New("server issued no agent token")
	}

	if err := saveState(a.config.StatePath, &state); err != nil {
		return err
	}
	a.state = &state
	log.Info().Uint("agent_id", state.AgentID).Msg("Registration successful")
	return nil
}

// uploadReport reads the scanner's report handoff and submits it with the
// agent's bearer token.
func (a *Agent) uploadReport() error {
	payload, err := a.loadScannerReport()
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return a.retry.do(func() error {
		req, err := http.NewRequest(http.MethodPost, a.endpoint("/api/upload"), bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.state.AgentToken)

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if isRetryableStatus(resp) {
			return retryableStatusError{status: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("upload failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var ack struct {
			Score  float64 `json:"score"`
			Passed int     `json:"passed"`
			Failed int     `json:"failed"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return err
		}
		log.Info().Float64("score", ack.Score).Int("passed", ack.Passed).Int("failed", ack.Failed).Msg("Scan report accepted")
		return nil
	}, isRetryableHTTP)
}

// loadScannerReport wraps the scanner's result file in an upload payload,
// filling in host metadata the scanner does not record.
func (a *Agent) loadScannerReport() (*report.Payload, error) {
	data, err := os.ReadFile(a.config.Scanner.ReportPath)
	if err != nil {
		return nil, fmt.Errorf("read scanner report: %w", err)
	}

	var payload report.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse scanner report: %w", err)
	}

	hostname, osName := hostIdentity()
	if payload.Hostname == "" {
		payload.Hostname = hostname
	}
	if payload.OS == "" {
		payload.OS = osName
	}
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if len(payload.Results) == 0 {
		// The handoff may be a bare results object rather than a full payload.
		payload.Results = data
	}

	if _, err := report.Parse(payload.Results); err != nil {
		return nil, fmt.Errorf("scanner report %s: %w", a.config.Scanner.ReportPath, err)
	}
	return &payload, nil
}

func hostIdentity() (hostname, osName string) {
	info, err := host.Info()
	if err != nil {
		hostname, _ = os.Hostname()
		return hostname, "unknown"
	}
	osName = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	if osName == "" {
		osName = info.OS
	}
	return info.Hostname, osName
}

// primaryIP returns the first non-loopback unicast address, empty when none.
func primaryIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func loadState(path string) (*agentState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state agentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func saveState(path string, state *agentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (a *Agent) endpoint(path string) string {
	base := strings.TrimRight(a.config.Server.URL, "/")
	return base + path
}
