package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Session   SessionConfig   `json:"session"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace     string  `json:"workspace" env:"MENDBOT_AGENTS_DEFAULTS_WORKSPACE"`
	Provider      string  `json:"provider" env:"MENDBOT_AGENTS_DEFAULTS_PROVIDER"`
	Model         string  `json:"model" env:"MENDBOT_AGENTS_DEFAULTS_MODEL"`
	MaxTokens     int     `json:"max_tokens" env:"MENDBOT_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature   float64 `json:"temperature" env:"MENDBOT_AGENTS_DEFAULTS_TEMPERATURE"`
	MaxToolRounds int     `json:"max_tool_rounds" env:"MENDBOT_AGENTS_DEFAULTS_MAX_TOOL_ROUNDS"`
}

// SessionConfig bounds conversation sessions: when they expire, how much
// history is kept and when it is compacted.
type SessionConfig struct {
	TimeoutMinutes   int `json:"timeout_minutes" env:"MENDBOT_SESSION_TIMEOUT_MINUTES"`
	MaxMessages      int `json:"max_messages" env:"MENDBOT_SESSION_MAX_MESSAGES"`
	KeepRecent       int `json:"keep_recent" env:"MENDBOT_SESSION_KEEP_RECENT"`
	TokenBudget      int `json:"token_budget" env:"MENDBOT_SESSION_TOKEN_BUDGET"`
	SummaryMaxLength int `json:"summary_max_length" env:"MENDBOT_SESSION_SUMMARY_MAX_LENGTH"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Bridge   BridgeConfig   `json:"bridge"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"MENDBOT_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"MENDBOT_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MENDBOT_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

// BridgeConfig points at a websocket relay that forwards chat messages
// from platforms mendbot has no native client for.
type BridgeConfig struct {
	Enabled           bool                `json:"enabled" env:"MENDBOT_CHANNELS_BRIDGE_ENABLED"`
	WSUrl             string              `json:"ws_url" env:"MENDBOT_CHANNELS_BRIDGE_WS_URL"`
	AccessToken       string              `json:"access_token" env:"MENDBOT_CHANNELS_BRIDGE_ACCESS_TOKEN"`
	ReconnectInterval int                 `json:"reconnect_interval" env:"MENDBOT_CHANNELS_BRIDGE_RECONNECT_INTERVAL"`
	AllowFrom         FlexibleStringSlice `json:"allow_from" env:"MENDBOT_CHANNELS_BRIDGE_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter" envPrefix:"MENDBOT_PROVIDERS_OPENROUTER_"`
	OpenAI     ProviderConfig `json:"openai" envPrefix:"MENDBOT_PROVIDERS_OPENAI_"`
	Anthropic  ProviderConfig `json:"anthropic" envPrefix:"MENDBOT_PROVIDERS_ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
}

type LogConfig struct {
	Level string `json:"level" env:"MENDBOT_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:     "~/.mendbot/workspace",
				Provider:      "",
				Model:         "anthropic/claude-sonnet-4",
				MaxTokens:     8192,
				Temperature:   0.7,
				MaxToolRounds: 5,
			},
		},
		Session: SessionConfig{
			TimeoutMinutes:   15,
			MaxMessages:      50,
			KeepRecent:       10,
			TokenBudget:      8000,
			SummaryMaxLength: 1000,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
			Bridge: BridgeConfig{
				Enabled:           false,
				WSUrl:             "ws://127.0.0.1:3001",
				AccessToken:       "",
				ReconnectInterval: 5,
				AllowFrom:         FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
			OpenAI:     ProviderConfig{},
			Anthropic:  ProviderConfig{},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

// GetAPIKey returns the first configured provider key, preferring
// OpenRouter since it fronts every model the defaults use.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIKey != "" {
		return c.Providers.OpenRouter.APIKey
	}
	if c.Providers.OpenAI.APIKey != "" {
		return c.Providers.OpenAI.APIKey
	}
	if c.Providers.Anthropic.APIKey != "" {
		return c.Providers.Anthropic.APIKey
	}
	return ""
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIKey != "" {
		if c.Providers.OpenRouter.APIBase != "" {
			return c.Providers.OpenRouter.APIBase
		}
		return "https://openrouter.ai/api/v1"
	}
	if c.Providers.OpenAI.APIKey != "" {
		return c.Providers.OpenAI.APIBase
	}
	if c.Providers.Anthropic.APIKey != "" {
		return c.Providers.Anthropic.APIBase
	}
	return ""
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
