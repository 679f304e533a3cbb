package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// cliActor is recorded as the actor of review actions taken from the shell
const cliActor = "cli"

// emailCmd represents the review command group
var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Review emails without the dashboard",
}

var emailListFlags struct {
	status     string
	search     string
	providerID uint
	sort       string
	limit      int
	page       int
}

var emailListCmd = &cobra.Command{
	Use:   "list",
	Short: "List emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := application.Emails.ListEmails(context.Background(), services.EmailListOptions{
			ProviderID: emailListFlags.providerID,
			Status:     emailListFlags.status,
			Search:     emailListFlags.search,
			SortBy:     emailListFlags.sort,
			SortOrder:  "desc",
			Page:       emailListFlags.page,
			Limit:      emailListFlags.limit,
		})
		if err != nil {
			return err
		}
		if len(result.Emails) == 0 {
			fmt.Println("No emails.")
			return nil
		}

		fmt.Printf("%-6s %-15s %-7s %-6s %-28s %s\n", "ID", "STATUS", "URGENCY", "DRAFT", "FROM", "SUBJECT")
		for _, e := range result.Emails {
			urgency := "-"
			if e.Urgency != nil {
				urgency = fmt.Sprint(*e.Urgency)
			}
			fmt.Printf("%-6d %-15s %-7s %-6t %-28s %s\n", e.ID, e.Status, urgency, e.HasDraft, truncate(e.FromAddr, 28), e.Subject)
		}
		fmt.Printf("Page %d, %d of %d emails\n", result.Page, len(result.Emails), result.Total)
		return nil
	},
}

var emailShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an email with its latest analysis and current draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		detail, err := application.Emails.GetEmailDetail(context.Background(), id)
		if err != nil {
			return err
		}
		printJSON(detail)
		return nil
	},
}

var emailStatusNote string

var emailStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move an email along the review workflow",
	Long:  "Statuses: pending_review, in_progress, resolved, sent. Resolved and sent are final.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		email, err := application.Workflow.Transition(context.Background(), id,
			models.EmailStatus(strings.ToLower(args[1])), cliActor, emailStatusNote)
		if err != nil {
			return err
		}
		fmt.Printf("Email %d is now %s\n", email.ID, email.Status)
		return nil
	},
}

var emailSendCmd = &cobra.Command{
	Use:   "send <id>",
	Short: "Send the current draft as the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		result, err := application.Sender.Send(context.Background(), id, cliActor)
		if err != nil {
			return err
		}
		fmt.Printf("Sent reply to %s, message id %s\n", result.Email.FromAddr, result.MessageID)
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	f := emailListCmd.Flags()
	f.StringVar(&emailListFlags.status, "status", "", "filter by status")
	f.StringVar(&emailListFlags.search, "search", "", "match subject, sender or body")
	f.UintVar(&emailListFlags.providerID, "provider-id", 0, "filter by mailbox provider")
	f.StringVar(&emailListFlags.sort, "sort", "date", "date, from, subject or urgency")
	f.IntVar(&emailListFlags.limit, "limit", 20, "page size")
	f.IntVar(&emailListFlags.page, "page", 1, "page number")

	emailStatusCmd.Flags().StringVar(&emailStatusNote, "note", "", "note for the activity log")

	emailCmd.AddCommand(emailListCmd)
	emailCmd.AddCommand(emailShowCmd)
	emailCmd.AddCommand(emailStatusCmd)
	emailCmd.AddCommand(emailSendCmd)
}
