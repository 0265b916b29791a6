package cmd

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/hxqlab/agentrelay/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and agent endpoint health",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor() {
	fmt.Println("agentrelay doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	fmt.Printf("  Config:   %s", configPath)
	if _, err := os.Stat(configPath); err != nil {
		fmt.Println(" (NOT FOUND)")
		return
	}
	fmt.Println(" (OK)")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Agents:")
	probe := &http.Client{Timeout: 5 * time.Second}
	for _, a := range cfg.Agents {
		status := "REACHABLE"
		// Any HTTP response means the endpoint is up; auth is checked at
		// exchange time, not here.
		resp, err := probe.Get(a.BaseURL)
		if err != nil {
			status = fmt.Sprintf("UNREACHABLE (%s)", err)
		} else {
			resp.Body.Close()
		}
		fmt.Printf("    %-16s %s  %s\n", a.Name, a.BaseURL, status)
		if a.APIKey == "" {
			fmt.Printf("    %-16s WARNING: no api_key configured\n", "")
		}
	}

	fmt.Println()
	fmt.Println("  Storage:")
	switch cfg.Storage.Backend {
	case "sqlite":
		fmt.Printf("    %-10s sqlite (%s)\n", "Backend:", cfg.Storage.SQLitePath)
	default:
		dir := config.ExpandHome(cfg.Storage.Dir)
		fmt.Printf("    %-10s file (%s)\n", "Backend:", dir)
		if _, err := os.Stat(dir); err != nil {
			fmt.Printf("    %-10s directory missing (created on first run)\n", "Note:")
		}
	}

	if len(cfg.Groups) > 0 {
		fmt.Println()
		fmt.Printf("  Groups:   %d configured\n", len(cfg.Groups))
		for _, g := range cfg.Groups {
			def := "(none)"
			if len(g.AllowedAgents) > 0 {
				def = g.AllowedAgents[0]
			}
			fmt.Printf("    %-16s %d group ids, default agent %s\n",
				g.Name, len(g.GroupIDs), def)
		}
	}
}
