package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// === BACKEND (LLM CLASSIFIER) ===

const (
	ProviderHosted    = "hosted"
	ProviderLocal     = "local"
	ProviderAnthropic = "anthropic"
)

type BackendConfig struct {
	Provider        string            `json:"provider" yaml:"provider"` // "hosted", "local", "anthropic"
	APIKey          string            `json:"api_key" yaml:"api_key"`
	Model           string            `json:"model" yaml:"model"` // overrides DefaultModels
	BaseURL         string            `json:"base_url" yaml:"base_url"`
	LocalHost       string            `json:"local_host" yaml:"local_host"`
	Temperature     float32           `json:"temperature" yaml:"temperature"`
	TimeoutSeconds  int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	CacheTTLSeconds int               `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	DefaultModels   map[string]string `json:"default_models" yaml:"default_models"`
}

// NormalizedProvider maps the accepted aliases onto the canonical provider names.
func (b BackendConfig) NormalizedProvider() string {
	switch strings.ToLower(strings.TrimSpace(b.Provider)) {
	case ProviderHosted, "openai":
		return ProviderHosted
	case ProviderLocal, "ollama":
		return ProviderLocal
	case ProviderAnthropic, "claude":
		return ProviderAnthropic
	default:
		return strings.ToLower(strings.TrimSpace(b.Provider))
	}
}

// ResolvedModel returns the model override, falling back to the provider default.
func (b BackendConfig) ResolvedModel() string {
	if b.Model != "" {
		return b.Model
	}
	return b.DefaultModels[b.NormalizedProvider()]
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

func (b BackendConfig) CacheTTL() time.Duration {
	return time.Duration(b.CacheTTLSeconds) * time.Second
}

// === PROMPTS ===

type PromptConfig struct {
	Path string `json:"path" yaml:"path"` // empty = embedded default template
}

// === FLOW GENERATOR ===

type GeneratorConfig struct {
	Subnet             string   `json:"subnet" yaml:"subnet"`
	SuspectIP          string   `json:"suspect_ip" yaml:"suspect_ip"`
	SuspectProbability float64  `json:"suspect_probability" yaml:"suspect_probability"`
	SuspectPackets     [2]int   `json:"suspect_packets" yaml:"suspect_packets"`
	NormalPackets      [2]int   `json:"normal_packets" yaml:"normal_packets"`
	DstPorts           []uint16 `json:"dst_ports" yaml:"dst_ports"`
	Protocols          []uint8  `json:"protocols" yaml:"protocols"`
	Seed               int64    `json:"seed" yaml:"seed"` // 0 = time based
}

// === CONTROL LOOP ===

type ControllerConfig struct {
	IntervalSeconds float64 `json:"interval_seconds" yaml:"interval_seconds"`
	MaxIterations   int     `json:"max_iterations" yaml:"max_iterations"` // 0 = run until stopped
}

func (c ControllerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds * float64(time.Second))
}

// === RULE INSTALLATION ===

type RulesConfig struct {
	TableName  string        `json:"table_name" yaml:"table_name"`
	ActionName string        `json:"action_name" yaml:"action_name"`
	MatchKey   string        `json:"match_key" yaml:"match_key"`
	Sinks      []string      `json:"sinks" yaml:"sinks"` // "log", "sqlite", "nats", "webhook"
	AuditFile  string        `json:"audit_file" yaml:"audit_file"`
	SQLite     SQLiteConfig  `json:"sqlite" yaml:"sqlite"`
	NATS       NATSConfig    `json:"nats" yaml:"nats"`
	Webhook    WebhookConfig `json:"webhook" yaml:"webhook"`
}

type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

type NATSConfig struct {
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type WebhookConfig struct {
	Endpoint          string `json:"endpoint" yaml:"endpoint"`
	AuthToken         string `json:"auth_token" yaml:"auth_token"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	RetryCount        int    `json:"retry_count" yaml:"retry_count"`
	RetryDelaySeconds int    `json:"retry_delay_seconds" yaml:"retry_delay_seconds"`
}

// === MITIGATION POLICY ===

type PolicyConfig struct {
	ProtectedIPs []string `json:"protected_ips" yaml:"protected_ips"`
	DropGuard    string   `json:"drop_guard" yaml:"drop_guard"` // CEL expression, empty = allow
}

type ExecutionModeConfig struct {
	Mode           string `json:"mode" yaml:"mode"` // "enforce" or "monitor"
	MonitorLogFile string `json:"monitor_log_file" yaml:"monitor_log_file"`
}

// === MITIGATION ALERTS ===

type NotificationsConfig struct {
	Slack SlackConfig `json:"slack" yaml:"slack"`
}

type SlackConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	Channel        string `json:"channel" yaml:"channel"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// === STATUS API ===

type APIConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// === SYSTEM ===

type LogRotationConfig struct {
	MaxSizeMB  int  `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `json:"compress" yaml:"compress"`
}

type SystemConfig struct {
	LogDir      string            `json:"log_dir" yaml:"log_dir"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Debug       bool              `json:"debug" yaml:"debug"`
	LogRotation LogRotationConfig `json:"log_rotation" yaml:"log_rotation"`
}

// === MAIN CONFIG STRUCTURE ===

type Config struct {
	Backend       BackendConfig       `json:"backend" yaml:"backend"`
	Prompts       PromptConfig        `json:"prompts" yaml:"prompts"`
	Generator     GeneratorConfig     `json:"generator" yaml:"generator"`
	Controller    ControllerConfig    `json:"controller" yaml:"controller"`
	Rules         RulesConfig         `json:"rules" yaml:"rules"`
	Policy        PolicyConfig        `json:"policy" yaml:"policy"`
	ExecutionMode ExecutionModeConfig `json:"execution_mode" yaml:"execution_mode"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	API           APIConfig           `json:"api" yaml:"api"`
	System        SystemConfig        `json:"system" yaml:"system"`
}

// === LOADER FUNCTIONS ===

// Load reads the config at configPath, or the first file found in the default
// locations. When no file exists the defaults are returned.
func Load(configPath string) (*Config, error) {
	var data []byte
	var source string

	if configPath != "" {
		d, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		data, source = d, configPath
	} else {
		locations := []string{
			"./config/default.json",
			"./config/default.yaml",
			"./config/default.yml",
			"/etc/flowguard/config.json",
			"/etc/flowguard/config.yaml",
			os.Getenv("FLOWGUARD_CONFIG"),
		}

		for _, loc := range locations {
			if loc == "" {
				continue
			}
			if d, err := os.ReadFile(loc); err == nil {
				data, source = d, loc
				break
			}
		}
	}

	if data == nil {
		return Defaults(), nil
	}

	cfg, err := Parse(data, filepath.Ext(source))
	if err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", source, err)
	}
	return cfg, nil
}

// Parse decodes raw config bytes. ext selects the decoder (".yaml"/".yml" for
// YAML, anything else for JSON).
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variables
func expandEnvVars(cfg *Config) {
	cfg.Backend.APIKey = os.ExpandEnv(cfg.Backend.APIKey)
	cfg.Backend.BaseURL = os.ExpandEnv(cfg.Backend.BaseURL)
	cfg.Backend.LocalHost = os.ExpandEnv(cfg.Backend.LocalHost)
	cfg.Rules.Webhook.AuthToken = os.ExpandEnv(cfg.Rules.Webhook.AuthToken)
	cfg.Rules.NATS.URL = os.ExpandEnv(cfg.Rules.NATS.URL)
	cfg.Rules.SQLite.Path = os.ExpandEnv(cfg.Rules.SQLite.Path)
	cfg.Notifications.Slack.WebhookURL = os.ExpandEnv(cfg.Notifications.Slack.WebhookURL)

	if cfg.Backend.APIKey != "" {
		return
	}
	switch cfg.Backend.NormalizedProvider() {
	case ProviderHosted:
		cfg.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		cfg.Backend.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// OverrideProvider switches the backend provider and picks up the matching
// API key from the environment when none is configured.
func (c *Config) OverrideProvider(provider string) {
	if provider == c.Backend.Provider {
		return
	}
	c.Backend.Provider = provider
	c.Backend.APIKey = ""
	expandEnvVars(c)
}

// Defaults returns a fully populated config that runs against a local Ollama.
func Defaults() *Config {
	cfg := &Config{
		Backend: BackendConfig{
			Provider: ProviderLocal,
		},
		Rules: RulesConfig{
			Sinks: []string{"log"},
		},
	}
	applyDefaults(cfg)
	expandEnvVars(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	// Backend defaults
	if cfg.Backend.Provider == "" {
		cfg.Backend.Provider = ProviderLocal
	}
	if cfg.Backend.LocalHost == "" {
		cfg.Backend.LocalHost = "http://localhost:11434"
	}
	if cfg.Backend.Temperature == 0 {
		cfg.Backend.Temperature = 0.2
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 30
	}
	if cfg.Backend.DefaultModels == nil {
		cfg.Backend.DefaultModels = map[string]string{}
	}
	defaultModels := map[string]string{
		ProviderHosted:    "gpt-3.5-turbo",
		ProviderLocal:     "llama3",
		ProviderAnthropic: "claude-3-5-haiku-20241022",
	}
	for provider, model := range defaultModels {
		if cfg.Backend.DefaultModels[provider] == "" {
			cfg.Backend.DefaultModels[provider] = model
		}
	}

	// Generator defaults
	if cfg.Generator.Subnet == "" {
		cfg.Generator.Subnet = "10.0.0."
	}
	if cfg.Generator.SuspectIP == "" {
		cfg.Generator.SuspectIP = "10.0.0.1"
	}
	if cfg.Generator.SuspectProbability == 0 {
		cfg.Generator.SuspectProbability = 0.3
	}
	if cfg.Generator.SuspectPackets == [2]int{} {
		cfg.Generator.SuspectPackets = [2]int{6, 20}
	}
	if cfg.Generator.NormalPackets == [2]int{} {
		cfg.Generator.NormalPackets = [2]int{1, 5}
	}
	if len(cfg.Generator.DstPorts) == 0 {
		cfg.Generator.DstPorts = []uint16{80, 443, 22, 23, 53, 8080}
	}
	if len(cfg.Generator.Protocols) == 0 {
		cfg.Generator.Protocols = []uint8{6, 17}
	}

	// Controller defaults
	if cfg.Controller.IntervalSeconds == 0 {
		cfg.Controller.IntervalSeconds = 2
	}

	// Rules defaults
	if cfg.Rules.TableName == "" {
		cfg.Rules.TableName = "acl_table"
	}
	if cfg.Rules.ActionName == "" {
		cfg.Rules.ActionName = "_drop"
	}
	if cfg.Rules.MatchKey == "" {
		cfg.Rules.MatchKey = "hdr.ipv4.srcAddr"
	}
	if len(cfg.Rules.Sinks) == 0 {
		cfg.Rules.Sinks = []string{"log"}
	}
	if cfg.Rules.SQLite.Path == "" {
		cfg.Rules.SQLite.Path = "./data/flowguard.db"
	}
	if cfg.Rules.NATS.URL == "" {
		cfg.Rules.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Rules.NATS.Subject == "" {
		cfg.Rules.NATS.Subject = "flowguard.rules"
	}
	if cfg.Rules.Webhook.TimeoutSeconds == 0 {
		cfg.Rules.Webhook.TimeoutSeconds = 5
	}
	if cfg.Rules.Webhook.RetryCount == 0 {
		cfg.Rules.Webhook.RetryCount = 3
	}

	// Execution mode defaults
	if cfg.ExecutionMode.Mode == "" {
		cfg.ExecutionMode.Mode = "enforce"
	}
	if cfg.ExecutionMode.MonitorLogFile == "" {
		cfg.ExecutionMode.MonitorLogFile = "./logs/monitor_intents.log"
	}

	// Notification defaults
	if cfg.Notifications.Slack.TimeoutSeconds == 0 {
		cfg.Notifications.Slack.TimeoutSeconds = 10
	}

	// API defaults
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = ":9095"
	}

	// System defaults
	if cfg.System.LogDir == "" {
		cfg.System.LogDir = "./logs"
	}
	if cfg.System.LogLevel == "" {
		cfg.System.LogLevel = "info"
	}
	if cfg.System.LogRotation.MaxSizeMB == 0 {
		cfg.System.LogRotation.MaxSizeMB = 100
	}
	if cfg.System.LogRotation.MaxBackups == 0 {
		cfg.System.LogRotation.MaxBackups = 10
	}
	if cfg.System.LogRotation.MaxAgeDays == 0 {
		cfg.System.LogRotation.MaxAgeDays = 30
	}
}

// Validate rejects configurations the controller cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.NormalizedProvider() {
	case ProviderHosted, ProviderLocal, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("backend.provider %q is not one of hosted, local, anthropic", c.Backend.Provider))
	}
	if c.Backend.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("backend.timeout_seconds must not be negative"))
	}

	g := c.Generator
	if g.SuspectProbability < 0 || g.SuspectProbability > 1 {
		errs = append(errs, fmt.Errorf("generator.suspect_probability %v outside [0,1]", g.SuspectProbability))
	}
	if net.ParseIP(g.SuspectIP) == nil {
		errs = append(errs, fmt.Errorf("generator.suspect_ip %q is not an IP address", g.SuspectIP))
	}
	for name, r := range map[string][2]int{"suspect_packets": g.SuspectPackets, "normal_packets": g.NormalPackets} {
		if r[0] < 1 || r[1] < r[0] {
			errs = append(errs, fmt.Errorf("generator.%s range %v invalid", name, r))
		}
	}

	if c.Controller.IntervalSeconds < 0 {
		errs = append(errs, errors.New("controller.interval_seconds must not be negative"))
	}

	for _, sink := range c.Rules.Sinks {
		switch sink {
		case "log", "sqlite", "nats", "webhook":
		default:
			errs = append(errs, fmt.Errorf("rules.sinks: unknown sink %q", sink))
		}
		if sink == "webhook" && c.Rules.Webhook.Endpoint == "" {
			errs = append(errs, errors.New("rules.webhook.endpoint is required for the webhook sink"))
		}
	}

	for _, ip := range c.Policy.ProtectedIPs {
		if net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Errorf("policy.protected_ips: %q is not an IP address", ip))
		}
	}

	if c.Notifications.Slack.Enabled && c.Notifications.Slack.WebhookURL == "" {
		errs = append(errs, errors.New("notifications.slack.webhook_url is required when slack is enabled"))
	}

	switch c.ExecutionMode.Mode {
	case "enforce", "monitor":
	default:
		errs = append(errs, fmt.Errorf("execution_mode.mode %q is not enforce or monitor", c.ExecutionMode.Mode))
	}

	return errors.Join(errs...)
}
