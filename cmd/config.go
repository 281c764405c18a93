package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paneldesk/assistant-bridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage assistant configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active configuration",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if cfgMgr.Exists() {
		color.Yellow("Configuration already exists at %s", cfgMgr.GetPath())
		return nil
	}

	cfg := &config.Config{
		Providers: []config.Provider{
			{Name: "openai", APIKey: "env:OPENAI_API_KEY", Models: []string{"gpt-4o", "gpt-4o-mini"}},
			{Name: "anthropic", APIKey: "env:ANTHROPIC_API_KEY", Models: []string{"claude-sonnet-4-20250514"}},
			{Name: "gemini", APIKey: "env:GEMINI_API_KEY", Models: []string{"gemini-2.0-flash"}},
			{Name: "ollama", Models: []string{"llama3.1"}},
		},
		Defaults: config.Defaults{
			Provider:      "openai",
			MaxToolRounds: config.DefaultMaxToolRounds,
			Stream:        true,
		},
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return err
	}

	color.Green("Configuration written to %s", cfgMgr.GetPath())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found, run 'abr config init'")
		return fmt.Errorf("configuration required")
	}

	data, err := os.ReadFile(cfgMgr.GetPath())
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fmt.Printf("# %s\n%s\n", cfgMgr.GetPath(), string(data))
	return nil
}
