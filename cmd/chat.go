package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paneldesk/assistant-bridge/internal/chat"
	"github.com/paneldesk/assistant-bridge/internal/orchestrator"
	"github.com/paneldesk/assistant-bridge/internal/providers"
	"github.com/paneldesk/assistant-bridge/internal/tools"
	"github.com/paneldesk/assistant-bridge/internal/transport"
)

var (
	chatProvider  string
	chatModel     string
	chatSystem    string
	chatNoStream  bool
	chatMaxRounds int
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt to the configured assistant backend",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "backend provider name")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model identifier")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system instruction")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "disable streaming output")
	chatCmd.Flags().IntVar(&chatMaxRounds, "max-rounds", 0, "maximum tool-call rounds (0 = configured default)")
}

func runChat(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	cfg := cfgMgr.Get()
	if len(cfg.Providers) == 0 {
		color.Yellow("No providers configured, run 'abr config init' first")
		return fmt.Errorf("configuration required")
	}

	registry := providers.NewRegistry()
	registry.Configure(cfg)

	providerName := chatProvider
	if providerName == "" {
		providerName = cfg.Defaults.Provider
	}
	model := chatModel
	if model == "" {
		model = cfg.Defaults.Model
	}
	maxRounds := chatMaxRounds
	if maxRounds == 0 {
		maxRounds = cfg.Defaults.MaxToolRounds
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var catalog tools.Catalog
	if len(cfg.MCPServers) > 0 {
		mcpCatalog, err := tools.ConnectMCP(ctx, cfg.MCPServers, logger)
		if err != nil {
			return fmt.Errorf("connect MCP servers: %w", err)
		}
		defer mcpCatalog.Close()
		catalog = mcpCatalog
	}

	client := orchestrator.New(registry, transport.New(nil), catalog, logger)

	var conversation []chat.Message
	if chatSystem != "" {
		conversation = append(conversation, chat.SystemMessage(chatSystem))
	}
	conversation = append(conversation, chat.UserMessage(strings.Join(args, " ")))

	streaming := !chatNoStream
	toolColor := color.New(color.FgYellow)

	resp, err := client.SendMessage(ctx, conversation, orchestrator.Options{
		Provider:  providerName,
		Model:     model,
		Stream:    streaming,
		MaxRounds: maxRounds,
		OnDelta: func(d chat.Delta) {
			switch d.Type {
			case chat.DeltaText:
				fmt.Print(d.Text)
			case chat.DeltaToolCallStart:
				toolColor.Fprintf(os.Stderr, "\n[tool: %s]\n", d.ToolName)
			}
		},
	})
	if err != nil {
		return err
	}

	if streaming {
		fmt.Println()
	} else {
		fmt.Println(resp.Content)
	}

	if resp.Usage != nil {
		suffix := ""
		if resp.Usage.Estimated {
			suffix = " (estimated)"
		}
		color.New(color.Faint).Fprintf(os.Stderr, "%s | %d in / %d out tokens%s\n",
			resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, suffix)
	}

	return nil
}
