package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Brownster/email-ai-assistant/internal/services"
)

var processFlags struct {
	input      string
	mode       string
	providerID uint
}

// processCmd runs .eml files through the pipeline without the scheduler
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process .eml files from disk",
	Long: `Run one .eml file (--mode file) or every .eml file in a directory
(--mode directory) through ingestion, analysis and draft generation.

The files are attributed to a directory provider for their folder, created on
first use, unless --provider-id names another one. Re-processing a file is a
duplicate and changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if processFlags.input == "" {
			return fmt.Errorf("--input is required")
		}
		ctx := context.Background()

		switch processFlags.mode {
		case "file":
			res, err := application.Pipeline.ProcessFile(ctx, processFlags.input, processFlags.providerID)
			if err != nil {
				return err
			}
			report := &services.BatchReport{Details: []services.BatchDetail{{File: filepath.Base(processFlags.input), Result: res}}}
			switch res.Status {
			case services.OutcomeProcessed:
				report.Processed = 1
			case services.OutcomeDuplicate:
				report.Duplicates = 1
			default:
				report.Errors = 1
			}
			printJSON(report)

		case "directory":
			info, err := os.Stat(processFlags.input)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("%s is not a directory", processFlags.input)
			}
			report, err := application.Pipeline.ProcessDirectory(ctx, processFlags.input, processFlags.providerID)
			if err != nil {
				return err
			}
			printJSON(report)

		default:
			return fmt.Errorf("unknown mode %q, expected file or directory", processFlags.mode)
		}
		return nil
	},
}

func init() {
	f := processCmd.Flags()
	f.StringVar(&processFlags.input, "input", "", "path to an .eml file or a directory of them")
	f.StringVar(&processFlags.mode, "mode", "directory", "file or directory")
	f.UintVar(&processFlags.providerID, "provider-id", 0, "attribute the files to this mailbox provider")
}
