package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

var fetchFlags struct {
	mode          string
	interval      int
	setupProvider bool
	providerType  string
	username      string
	password      string
	server        string
	port          int
	smtpServer    string
	smtpPort      int
	name          string
	mailboxKind   string
}

// fetchCmd pulls mail from the active providers
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch new mail from every active provider",
	Long: `Fetch new mail from every active mailbox provider and run it through
analysis and draft generation.

  --mode once         run one pass and print the counts
  --mode background   fetch every --interval seconds until SIGINT or SIGTERM

With --setup-provider the command registers a mailbox provider and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchFlags.setupProvider {
			return setupProvider()
		}

		switch fetchFlags.mode {
		case "once":
			return fetchOnce()
		case "background":
			return fetchBackground()
		default:
			return fmt.Errorf("unknown mode %q, expected once or background", fetchFlags.mode)
		}
	},
}

func setupProvider() error {
	kind := models.MailboxKind(fetchFlags.mailboxKind)
	if !kind.IsValid() {
		return fmt.Errorf("unknown mailbox kind %q", fetchFlags.mailboxKind)
	}

	var input services.RegisterMailboxInput
	switch strings.ToLower(fetchFlags.providerType) {
	case "gmail":
		input = services.NewGmailPreset(fetchFlags.username, fetchFlags.password, kind)
	case "outlook":
		input = services.NewOutlookPreset(fetchFlags.username, fetchFlags.password, kind)
	case "imap":
		input = services.NewIMAPPreset(fetchFlags.server, fetchFlags.port, fetchFlags.username, fetchFlags.password,
			fetchFlags.smtpServer, fetchFlags.smtpPort, kind)
	default:
		return fmt.Errorf("unknown provider type %q, expected gmail, outlook or imap", fetchFlags.providerType)
	}
	if fetchFlags.name != "" {
		input.Name = fetchFlags.name
	}

	p, err := application.Registry.RegisterMailbox(input)
	if err != nil {
		return err
	}
	fmt.Printf("Registered provider %d: %s (%s)\n", p.ID, p.Name, p.Kind)
	return nil
}

func fetchOnce() error {
	report := application.Scheduler.RunOnce(context.Background())
	created, duplicates, failed := report.Totals()
	printJSON(map[string]interface{}{
		"created":    created,
		"duplicates": duplicates,
		"failed":     failed,
		"providers":  report.Providers,
	})
	if failed > 0 && failed == len(report.Providers) {
		return fmt.Errorf("every provider failed")
	}
	return nil
}

func fetchBackground() error {
	if fetchFlags.interval > 0 {
		application.Scheduler = services.NewFetchScheduler(application.DB, application.Registry, application.Pipeline,
			application.Logs, withInterval(time.Duration(fetchFlags.interval)*time.Second), application.Log)
	}

	application.Scheduler.Start()
	fmt.Println("Fetching in the background, press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("Stopping, waiting for in-flight messages")
	application.Scheduler.Stop()
	return nil
}

func withInterval(d time.Duration) services.FetchOptions {
	opts := services.FetchOptionsFromConfig(application.Config)
	opts.Interval = d
	return opts
}

func init() {
	f := fetchCmd.Flags()
	f.StringVar(&fetchFlags.mode, "mode", "once", "once or background")
	f.IntVar(&fetchFlags.interval, "interval", 0, "seconds between passes in background mode (default from config)")
	f.BoolVar(&fetchFlags.setupProvider, "setup-provider", false, "register a mailbox provider and exit")
	f.StringVar(&fetchFlags.providerType, "provider-type", "", "gmail, outlook or imap")
	f.StringVar(&fetchFlags.username, "username", "", "mailbox username")
	f.StringVar(&fetchFlags.password, "password", "", "mailbox password or app password")
	f.StringVar(&fetchFlags.server, "server", "", "IMAP server")
	f.IntVar(&fetchFlags.port, "port", 993, "IMAP port")
	f.StringVar(&fetchFlags.smtpServer, "smtp-server", "", "SMTP server, enables sending")
	f.IntVar(&fetchFlags.smtpPort, "smtp-port", 587, "SMTP port")
	f.StringVar(&fetchFlags.name, "name", "", "provider display name")
	f.StringVar(&fetchFlags.mailboxKind, "mailbox-kind", string(models.MailboxGeneral), "support, sales or general")
}
