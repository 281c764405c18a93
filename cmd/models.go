package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paneldesk/assistant-bridge/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured providers and their models",
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg := cfgMgr.Get()

	registry := providers.NewRegistry()
	registry.Configure(cfg)

	enabled := color.New(color.FgGreen).SprintFunc()
	disabled := color.New(color.FgRed).SprintFunc()

	for _, name := range registry.List() {
		status := disabled("disabled")
		if registry.IsEnabled(name) {
			status = enabled("enabled")
		}
		fmt.Printf("%s [%s]\n", name, status)

		for _, model := range registry.Models(name) {
			fmt.Printf("  %s\n", model)
		}
	}

	return nil
}
