package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Frokesy/goatmail-be/internal/account"
)

var addUserCmd = &cobra.Command{
	Use:   "add-user <email>",
	Short: "Create a goatmail user",
	Long: `Create a goatmail login. You will be prompted for the password.

Examples:
  goatmail add-user jane@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(fmt.Sprintf("Password for %s: ", args[0]))
		if err != nil {
			return err
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		svc := account.NewService(s, nil, nil, nil, logger)
		u, err := svc.Signup(cmd.Context(), args[0], password)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		fmt.Printf("User created\n")
		fmt.Printf("  ID:    %s\n", u.ID)
		fmt.Printf("  Email: %s\n", u.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addUserCmd)
}
