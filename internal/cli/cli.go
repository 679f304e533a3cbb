package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownster/email-ai-assistant/internal/api/middleware"
	"github.com/Brownster/email-ai-assistant/internal/app"
)

var (
	application   *app.App
	apiKeyManager *middleware.APIKeyManager
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "email-assistant",
	Short: "AI-assisted shared mailbox triage",
	Long: `email-assistant pulls mail from the configured providers, classifies each
message with a model provider, drafts a reply and keeps every email on a
review workflow until it is resolved or sent.

Run without arguments to start the HTTP server.

Examples:
  email-assistant fetch --mode once            # one pass over every provider
  email-assistant fetch --mode background      # fetch until interrupted
  email-assistant process --input ./inbox --mode directory
  email-assistant provider list
  email-assistant email list --status pending_review
  email-assistant key show
  email-assistant user create`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI against the shared service graph
func Execute(a *app.App) {
	application = a

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(a.Config.DataDir)
	if err != nil {
		fail("cannot initialize API key manager: %v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fail("%v", err)
	}
}

// fail prints the error and exits 1
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encoding output: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(emailCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(userCmd)
}
