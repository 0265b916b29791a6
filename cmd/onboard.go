package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/hxqlab/agentrelay/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactively create a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboard()
	},
}

func runOnboard() error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}

	var (
		agentName    string
		apiKey       string
		baseURL      = "https://api.dify.ai/v1"
		triggerWords string
		wakeupWords  string
		port         = "18920"
		needsWakeup  = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Description("Identifier shown in the agent catalog").
				Value(&agentName).
				Validate(notEmpty("agent name")),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(notEmpty("api key")),
			huh.NewInput().
				Title("API base URL").
				Value(&baseURL).
				Validate(notEmpty("base url")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Trigger words").
				Description("Comma-separated; used to switch to this agent").
				Value(&triggerWords),
			huh.NewInput().
				Title("Wakeup words").
				Description("Comma-separated; addressing words that route to this agent").
				Value(&wakeupWords),
			huh.NewInput().
				Title("Gateway port").
				Value(&port),
			huh.NewConfirm().
				Title("Require wakeup word in private chats?").
				Value(&needsWakeup),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.NeedsWakeupInPrivate = needsWakeup
	cfg.DefaultAgent = agentName
	cfg.Agents = []config.AgentSpec{{
		Name:         agentName,
		APIKey:       apiKey,
		BaseURL:      baseURL,
		TriggerWords: splitWords(triggerWords),
		WakeupWords:  splitWords(wakeupWords),
	}}
	fmt.Sscanf(port, "%d", &cfg.Gateway.Port)

	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\nstart the gateway with: agentrelay serve -c %s\n", configPath, configPath)
	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func splitWords(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
