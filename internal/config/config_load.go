package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		RememberPreference:   true,
		NeedsWakeupInPrivate: true,
		SwitchSuffix:         "切换",
		CommandTip:           "输入 /help 查看帮助，/list 查看可用智能体，/重置会话 重新开始对话。",
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18920,
			RateLimitRPM: 20,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "~/.agentrelay/state",
		},
		Janitor: JanitorConfig{
			Schedule: "* * * * *",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is fatal: the registry and policy table cannot be built
// without one.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENTRELAY_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AGENTRELAY_GATEWAY_HOST", &c.Gateway.Host)
	envStr("AGENTRELAY_STORAGE_DIR", &c.Storage.Dir)
	envStr("AGENTRELAY_SQLITE_PATH", &c.Storage.SQLitePath)
	envStr("AGENTRELAY_DEFAULT_AGENT", &c.DefaultAgent)

	if v := os.Getenv("AGENTRELAY_GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Gateway.Port = p
		}
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' {
		return home + path[1:]
	}
	return path
}
