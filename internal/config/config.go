package config

import (
	"fmt"
)

// Config is the root configuration for the AgentRelay gateway.
type Config struct {
	// DefaultAgent is the process-wide default agent for private chats.
	DefaultAgent string `json:"default_agent"`

	// RememberPreference controls whether explicit switches persist into the
	// preference store. When false, routing always resolves defaults.
	RememberPreference bool `json:"remember_preference"`

	// NeedsWakeupInPrivate requires a wakeup or trigger word before a private
	// message is forwarded to an agent.
	NeedsWakeupInPrivate bool `json:"needs_wakeup_in_private"`

	// VoiceReplyAll marks every reply for voice rendering by the (external)
	// transport. Carried through to the sink untouched.
	VoiceReplyAll bool `json:"voice_reply_all"`

	// SwitchSuffix is the message suffix that turns a trigger word into a
	// switch command. Compared case-insensitively.
	SwitchSuffix string `json:"switch_suffix"`

	// CommandTip is the global help text, used when a group has none.
	CommandTip string `json:"command_tip"`

	// ReplyTitle is prepended to private-chat answers.
	ReplyTitle string `json:"reply_title,omitempty"`

	// Agents is the agent catalog in registration order. Order matters:
	// wakeup-word collisions resolve to the first registered agent permitted
	// in scope.
	Agents []AgentSpec `json:"agents"`

	Groups []GroupSpec `json:"groups,omitempty"`

	Gateway GatewayConfig `json:"gateway"`
	Storage StorageConfig `json:"storage"`
	Janitor JanitorConfig `json:"janitor,omitempty"`
}

// AgentSpec configures one backend conversational agent.
type AgentSpec struct {
	Name         string   `json:"name"`
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url"`
	TriggerWords []string `json:"trigger_words,omitempty"`
	WakeupWords  []string `json:"wakeup_words,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// GroupSpec configures one group policy covering a set of group chats.
type GroupSpec struct {
	Name       string   `json:"name"`
	GroupIDs   []string `json:"group_ids"`
	GroupNames []string `json:"group_names,omitempty"`
	// AllowedAgents lists permitted agent names; the first entry is the
	// group default.
	AllowedAgents []string `json:"allowed_agents"`
	// LiaisonIDs are human liaison identities mentioned when an agent
	// escalates to a person.
	LiaisonIDs []string `json:"liaison_ids,omitempty"`
	CommandTip string   `json:"command_tip,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket ingress surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env AGENTRELAY_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// RateLimitRPM limits inbound messages per sender per minute.
	// 0 disables rate limiting.
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	// Backend is "file" (default) or "sqlite".
	Backend string `json:"backend,omitempty"`
	// Dir holds the file backend's JSON snapshots.
	Dir string `json:"dir,omitempty"`
	// SQLitePath is the database path for the sqlite backend.
	SQLitePath string `json:"sqlite_path,omitempty"`
}

// JanitorConfig configures background maintenance sweeps.
type JanitorConfig struct {
	// Schedule is a cron expression; default "* * * * *" (every minute).
	Schedule string `json:"schedule,omitempty"`
}

// Validate checks invariants that must hold before startup may proceed.
// Any error here is fatal: the process aborts rather than run with a
// half-usable catalog.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: no agents configured")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: agent with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if a.BaseURL == "" {
			return fmt.Errorf("config: agent %q has no base_url", a.Name)
		}
	}
	if c.DefaultAgent != "" && !seen[c.DefaultAgent] {
		return fmt.Errorf("config: default_agent %q is not a configured agent", c.DefaultAgent)
	}
	for _, g := range c.Groups {
		for _, name := range g.AllowedAgents {
			if !seen[name] {
				return fmt.Errorf("config: group %q allows unknown agent %q", g.Name, name)
			}
		}
	}
	switch c.Storage.Backend {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
