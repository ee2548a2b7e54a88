package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Frokesy/goatmail-be/internal/credential"
)

var initDBGenerateKey bool

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the goatmail database with the required schema.

This command creates the tables for users, server settings, message flags
and the outgoing mail queue. It is safe to run multiple times - tables are
only created if they don't already exist.

With --generate-key it also prints a fresh credential encryption key for
mail.encryption_key (or the ENCRYPTION_KEY environment variable).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("initializing database", "dsn", cfg.DatabaseDSN())

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		logger.Info("database initialized successfully", "driver", s.Driver())
		fmt.Printf("Database ready (%s)\n", s.Driver())

		if initDBGenerateKey {
			key, err := credential.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println()
			fmt.Println("Add this to config.toml under [mail]:")
			fmt.Printf("  encryption_key = %q\n", key)
		}
		return nil
	},
}

func init() {
	initDBCmd.Flags().BoolVar(&initDBGenerateKey, "generate-key", false, "print a new credential encryption key")
	rootCmd.AddCommand(initDBCmd)
}
