package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// providerCmd represents the mailbox provider command group
var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Mailbox provider management",
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mailbox providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		providers := application.Registry.ListMailboxes()
		if len(providers) == 0 {
			fmt.Println("No mailbox providers registered.")
			return nil
		}

		fmt.Printf("%-4s %-32s %-10s %-8s %-7s %-5s %s\n", "ID", "NAME", "KIND", "MAILBOX", "ACTIVE", "SEND", "LAST FETCH")
		for _, p := range providers {
			state := application.Scheduler.SyncState(p.ID)
			last := "never"
			if !state.LastFetchAt.IsZero() {
				last = state.LastFetchAt.Format("2006-01-02 15:04:05")
			}
			if state.LastError != "" {
				last += " (error: " + state.LastError + ")"
			}
			fmt.Printf("%-4d %-32s %-10s %-8s %-7t %-5t %s\n", p.ID, p.Name, p.Kind, p.MailboxKind, p.Active, p.CanSend(), last)
		}
		return nil
	},
}

var providerTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Check a provider's connectivity and credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		result, err := application.Registry.TestMailbox(context.Background(), id)
		if err != nil {
			return err
		}
		printJSON(result)
		if !result.Success {
			return fmt.Errorf("connection test failed")
		}
		return nil
	},
}

var providerEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Activate a provider after revalidating its configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setProviderActive(args[0], true)
	},
}

var providerDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Deactivate a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setProviderActive(args[0], false)
	},
}

func setProviderActive(arg string, active bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	if err := application.Registry.SetMailboxActive(id, active); err != nil {
		return err
	}
	fmt.Printf("Provider %d active: %t\n", id, active)
	return nil
}

// modelCmd represents the model provider command group
var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Model provider management",
}

var modelFlags struct {
	kind     string
	name     string
	apiKey   string
	model    string
	baseURL  string
	priority int
}

var modelAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a model provider",
	Long: `Register a model provider. Kinds: openai, claude, azure, custom (any
OpenAI-compatible endpoint, needs --base-url) and local (keyword heuristics,
no key needed). Lower --priority is preferred.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := application.Registry.RegisterModel(services.RegisterModelInput{
			Name: modelFlags.name,
			Kind: models.ModelProviderKind(strings.ToLower(modelFlags.kind)),
			Config: map[string]string{
				"api_key":  modelFlags.apiKey,
				"model":    modelFlags.model,
				"base_url": modelFlags.baseURL,
			},
			Priority: modelFlags.priority,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered model provider %d: %s (%s, priority %d)\n", p.ID, p.Name, p.Kind, p.Priority)
		return nil
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List model providers, preferred first",
	RunE: func(cmd *cobra.Command, args []string) error {
		providers := application.Registry.ListModels()
		if len(providers) == 0 {
			fmt.Println("No model providers registered; the local engine is used.")
			return nil
		}
		fmt.Printf("%-4s %-32s %-8s %-8s %s\n", "ID", "NAME", "KIND", "PRIORITY", "ACTIVE")
		for _, p := range providers {
			fmt.Printf("%-4d %-32s %-8s %-8d %t\n", p.ID, p.Name, p.Kind, p.Priority, p.Active)
		}
		return nil
	},
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

func init() {
	providerCmd.AddCommand(providerListCmd)
	providerCmd.AddCommand(providerTestCmd)
	providerCmd.AddCommand(providerEnableCmd)
	providerCmd.AddCommand(providerDisableCmd)

	f := modelAddCmd.Flags()
	f.StringVar(&modelFlags.kind, "kind", "", "openai, claude, azure, custom or local")
	f.StringVar(&modelFlags.name, "name", "", "display name")
	f.StringVar(&modelFlags.apiKey, "api-key", "", "API key")
	f.StringVar(&modelFlags.model, "model", "", "model name")
	f.StringVar(&modelFlags.baseURL, "base-url", "", "API base URL")
	f.IntVar(&modelFlags.priority, "priority", 100, "selection order, lower first")
	modelAddCmd.MarkFlagRequired("kind")

	modelCmd.AddCommand(modelAddCmd)
	modelCmd.AddCommand(modelListCmd)
}
