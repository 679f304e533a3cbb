package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// keyCmd represents the key command group
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "API key management",
	Long:  `Show or reset the API key that every /api request must carry in X-API-Key.`,
}

// keyShowCmd shows the current API key
var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		currentKey := apiKeyManager.GetCurrentKey()
		if currentKey == "" {
			return fmt.Errorf("no API key available")
		}
		fmt.Println("Current API key:")
		fmt.Println(currentKey)
		return nil
	},
}

// keyResetCmd resets the API key
var keyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Generate a new API key",
	Long:  `Generate a new API key. The old key stops working immediately. Asks for confirmation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Current API key:")
		fmt.Println(apiKeyManager.GetCurrentKey())
		fmt.Println()

		fmt.Println("Warning: clients using the old key will lose access.")
		if !confirm(bufio.NewReader(os.Stdin), "Reset the API key?") {
			fmt.Println("Cancelled.")
			return nil
		}

		newKey, err := apiKeyManager.ResetKey()
		if err != nil {
			return fmt.Errorf("resetting key: %w", err)
		}
		application.Logs.LogAPIKeyReset()

		fmt.Println()
		fmt.Println("New API key:")
		fmt.Println(newKey)
		return nil
	},
}

// confirm asks a yes/no question on stdin
func confirm(reader *bufio.Reader, question string) bool {
	fmt.Print(question + " (yes/no): ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "yes" || input == "y"
}

func init() {
	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyResetCmd)
}
