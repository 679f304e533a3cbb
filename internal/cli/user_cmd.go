package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
)

// userCmd represents the user command group
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Reviewer account management",
	Long:  `Create reviewer accounts, list them and reset their passwords.`,
}

// readPassword prompts twice with hidden input and checks both match
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt + " (at least 6 characters): ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(first) < 6 {
		return "", fmt.Errorf("password must be at least 6 characters")
	}

	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func readLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// userCreateCmd creates a new user
var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a reviewer account",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		username, err := readLine(reader, "Username: ")
		if err != nil {
			return err
		}
		if username == "" {
			return fmt.Errorf("username cannot be empty")
		}

		password, err := readPassword("Password")
		if err != nil {
			return err
		}

		nickname, err := readLine(reader, "Nickname (optional): ")
		if err != nil {
			return err
		}
		if nickname == "" {
			nickname = username
		}

		newUser, err := application.Users.CreateUser(username, password, nickname)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		fmt.Println()
		fmt.Println("User created.")
		fmt.Printf("  ID:       %d\n", newUser.ID)
		fmt.Printf("  Username: %s\n", newUser.Username)
		fmt.Printf("  Nickname: %s\n", newUser.Nickname)
		return nil
	},
}

// userListCmd lists all users
var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reviewer accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := application.Users.ListUsers()
		if err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}

		fmt.Printf("%-6s %-20s %-20s %s\n", "ID", "USERNAME", "NICKNAME", "CREATED")
		for _, u := range users {
			fmt.Printf("%-6d %-20s %-20s %s\n", u.ID, u.Username, u.Nickname, u.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d users\n", len(users))
		return nil
	},
}

// userResetPwdCmd resets a user's password
var userResetPwdCmd = &cobra.Command{
	Use:   "reset-pwd",
	Short: "Reset a reviewer's password",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		users, err := application.Users.ListUsers()
		if err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("No users.")
			return nil
		}
		for _, u := range users {
			fmt.Printf("  [%d] %s (%s)\n", u.ID, u.Username, u.Nickname)
		}
		fmt.Println()

		idStr, err := readLine(reader, "User ID: ")
		if err != nil {
			return err
		}
		userID, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid user id %q", idStr)
		}
		target, err := application.Users.GetUserByID(uint(userID))
		if err != nil {
			return err
		}

		if !confirm(reader, fmt.Sprintf("Reset the password of %q?", target.Username)) {
			fmt.Println("Cancelled.")
			return nil
		}

		password, err := readPassword("New password")
		if err != nil {
			return err
		}
		if err := application.Users.ResetPassword(target.ID, password); err != nil {
			return fmt.Errorf("resetting password: %w", err)
		}
		application.Logs.LogPasswordChange(target.Username, true, nil)

		fmt.Printf("Password of %q reset.\n", target.Username)
		return nil
	},
}

// userDeleteCmd removes a reviewer account
var userDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a reviewer account",
	Long:  `Delete a reviewer account. The last remaining account cannot be deleted.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		target, err := application.Users.GetUserByID(id)
		if err != nil {
			return err
		}

		if !confirm(bufio.NewReader(os.Stdin), fmt.Sprintf("Delete user %q?", target.Username)) {
			fmt.Println("Cancelled.")
			return nil
		}
		if err := application.Users.DeleteUser(target.ID); err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		application.Logs.LogInfo(models.LogModuleUser, "user_deleted", "User deleted", map[string]interface{}{
			"user_id":  target.ID,
			"username": target.Username,
		})

		fmt.Printf("User %q deleted.\n", target.Username)
		return nil
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userResetPwdCmd)
}
