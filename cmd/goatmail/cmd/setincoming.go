package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Frokesy/goatmail-be/internal/account"
	"github.com/Frokesy/goatmail-be/internal/auth"
	"github.com/Frokesy/goatmail-be/internal/store"
)

var (
	inServerType string
	inHost       string
	inPort       int
	inSecurity   string
	inUsername   string
)

var setIncomingCmd = &cobra.Command{
	Use:   "set-incoming <user-email>",
	Short: "Set a user's incoming mail server",
	Long: `Save the IMAP or POP3 server goatmail reads mail from for a user.
The password is prompted for and stored encrypted.

Port 0 picks the protocol default for the security mode.

Examples:
  goatmail set-incoming jane@example.com --type IMAP --host imap.example.com --username jane
  goatmail set-incoming jane@example.com --type POP3 --host pop.example.com --security STARTTLS --username jane`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if inHost == "" {
			return fmt.Errorf("--host is required")
		}
		if inUsername == "" {
			return fmt.Errorf("--username is required")
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		cipher, err := loadCipher()
		if err != nil {
			return err
		}

		u, err := s.GetUserByEmail(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no user %s (run 'goatmail add-user %s' first)", args[0], args[0])
		}
		if err != nil {
			return fmt.Errorf("look up user: %w", err)
		}

		password, err := readPassword(fmt.Sprintf("Password for %s@%s: ", inUsername, inHost))
		if err != nil {
			return err
		}

		flagStore, closeFlags, err := openFlagStore(cmd.Context(), cfg, s)
		if err != nil {
			return err
		}
		defer closeFlags()

		svc := account.NewService(s, flagStore, cipher, auth.NewTokenManager(cfg.Server.JWTSecret, 0), logger)
		err = svc.SetIncoming(cmd.Context(), u.ID, account.IncomingConfig{
			ServerType: inServerType,
			Host:       inHost,
			Port:       inPort,
			Security:   inSecurity,
			Username:   inUsername,
			Password:   password,
		})
		if err != nil {
			return fmt.Errorf("save incoming server: %w", err)
		}

		saved, err := svc.GetIncoming(cmd.Context(), u.ID)
		if err != nil {
			return fmt.Errorf("read back incoming server: %w", err)
		}
		fmt.Printf("Incoming server saved for %s\n", u.Email)
		fmt.Printf("  %s %s:%d (%s)\n", saved.ServerType, saved.Host, saved.Port, saved.Security)
		fmt.Println()
		fmt.Println("You can now run:")
		fmt.Printf("  goatmail fetch %s\n", u.Email)
		return nil
	},
}

func init() {
	setIncomingCmd.Flags().StringVar(&inServerType, "type", "IMAP", "server type: IMAP or POP3")
	setIncomingCmd.Flags().StringVar(&inHost, "host", "", "server hostname")
	setIncomingCmd.Flags().IntVar(&inPort, "port", 0, "server port (0 for the default)")
	setIncomingCmd.Flags().StringVar(&inSecurity, "security", "SSL/TLS", "SSL/TLS, STARTTLS or None")
	setIncomingCmd.Flags().StringVar(&inUsername, "username", "", "login username")
	rootCmd.AddCommand(setIncomingCmd)
}
