package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `json:"app" yaml:"app"`
	Gateways   map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Models     ModelsConfig              `json:"models" yaml:"models"`
	Memory     MemoryConfig              `json:"memory" yaml:"memory"`
	Gmail      GmailConfig               `json:"gmail" yaml:"gmail"`
	Scheduler  SchedulerConfig           `json:"scheduler" yaml:"scheduler"`
	Governance GovernanceConfig          `json:"governance" yaml:"governance"`
}

type AppConfig struct {
	Name    string `json:"name" yaml:"name"`
	Prompts string `json:"prompts" yaml:"prompts"`
}

// GatewayConfig describes an inbound channel. Token is used by telegram,
// Addr by the http gateway.
type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// ModelsConfig selects the model used by each role. Empty values fall back
// to the enabled provider's model.
type ModelsConfig struct {
	Conductor  string `json:"conductor" yaml:"conductor"`
	Specialist string `json:"specialist" yaml:"specialist"`
	Summarizer string `json:"summarizer" yaml:"summarizer"`
}

type MemoryConfig struct {
	Type             string `json:"type" yaml:"type"`
	Path             string `json:"path" yaml:"path"`
	SummaryThreshold int    `json:"summary_threshold" yaml:"summary_threshold"`
}

// GmailConfig configures the Composio client and the important-mail
// monitor. MonitorMinutes < 0 disables the monitor.
type GmailConfig struct {
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey         string   `json:"api_key" yaml:"api_key"`
	MonitorMinutes int      `json:"monitor_interval_minutes" yaml:"monitor_interval_minutes"`
	VIPDomains     []string `json:"vip_domains" yaml:"vip_domains"`
}

type SchedulerConfig struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
}

type GovernanceConfig struct {
	DeniedTools    []string `json:"denied_tools" yaml:"denied_tools"`
	DeniedPatterns []string `json:"denied_patterns" yaml:"denied_patterns"`
}

// LoadConfig reads a JSON or YAML config file, chosen by extension, and
// applies environment overrides and defaults.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Load is the non-fatal variant of LoadConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers["openrouter"]
		p.APIKey = key
		if _, explicit := c.Providers["openrouter"]; !explicit {
			p.Enabled = true
		}
		c.Providers["openrouter"] = p
	}
	if key := os.Getenv("COMPOSIO_API_KEY"); key != "" {
		c.Gmail.APIKey = key
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		if c.Gateways == nil {
			c.Gateways = make(map[string]GatewayConfig)
		}
		tg := c.Gateways["telegram"]
		tg.Token = token
		c.Gateways["telegram"] = tg
	}
	if addr := os.Getenv("MAESTRO_HTTP_ADDR"); addr != "" {
		if c.Gateways == nil {
			c.Gateways = make(map[string]GatewayConfig)
		}
		h := c.Gateways["http"]
		h.Addr = addr
		h.Enabled = true
		c.Gateways["http"] = h
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "maestro"
	}
	if c.App.Prompts == "" {
		c.App.Prompts = "./prompts"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "maestro.db"
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = 60
	}
	if c.Gmail.MonitorMinutes == 0 {
		c.Gmail.MonitorMinutes = 5
	}
	if h, ok := c.Gateways["http"]; ok && h.Addr == "" {
		h.Addr = ":8001"
		c.Gateways["http"] = h
	}

	_, p := c.GetDefaultProvider()
	if c.Models.Conductor == "" {
		c.Models.Conductor = p.Model
	}
	if c.Models.Specialist == "" {
		c.Models.Specialist = c.Models.Conductor
	}
	if c.Models.Summarizer == "" {
		c.Models.Summarizer = c.Models.Conductor
	}
}

// GetDefaultProvider returns the enabled provider, preferring openrouter.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	if p, ok := c.Providers["openrouter"]; ok && p.Enabled {
		return "openrouter", p
	}
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// GetHTTPConfig returns the http gateway config if enabled
func (c *Config) GetHTTPConfig() (GatewayConfig, bool) {
	h, ok := c.Gateways["http"]
	if ok && h.Enabled {
		return h, true
	}
	return GatewayConfig{}, false
}

func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// EmailMonitorInterval returns the mail monitor period, or false when the
// monitor is disabled.
func (c *Config) EmailMonitorInterval() (time.Duration, bool) {
	if c.Gmail.MonitorMinutes < 0 {
		return 0, false
	}
	return time.Duration(c.Gmail.MonitorMinutes) * time.Minute, true
}
