package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Frokesy/goatmail-be/internal/credential"
	"github.com/Frokesy/goatmail-be/internal/inbox"
	"github.com/Frokesy/goatmail-be/internal/mail"
	"github.com/Frokesy/goatmail-be/internal/store"
)

var (
	fetchFolder string
	fetchLimit  int
	fetchJSON   bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <user-email>",
	Short: "Fetch recent messages for a user",
	Long: `Fetch the most recent messages from a user's incoming server and
print them. Useful for checking server settings.

Folders: INBOX, SPAM, SENT, DRAFTS, TRASH, ARCHIVE, ALL.

Examples:
  goatmail fetch jane@example.com
  goatmail fetch jane@example.com --folder all --limit 50
  goatmail fetch jane@example.com --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := mail.ParseFolder(fetchFolder)
		if err != nil {
			return err
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
			return fmt.Errorf("no user %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("look up user: %w", err)
		}

		fl, closeFlags, err := openFlagStore(cmd.Context(), cfg, s)
		if err != nil {
			return err
		}
		defer closeFlags()

		svc := newInbox(cfg, credential.NewResolver(s, cipher), fl)
		listing, err := svc.List(cmd.Context(), u.ID, folder, fetchLimit)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", folder, err)
		}

		if fetchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(listing)
		}
		outputListing(listing)
		return nil
	},
}

func outputListing(l *inbox.Listing) {
	if len(l.Messages) == 0 {
		fmt.Printf("No messages (%s).\n", l.Provider)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tFROM\tSUBJECT\tFLAGS")
	fmt.Fprintln(w, "──\t────\t────\t───────\t─────")
	for _, m := range l.Messages {
		date := "-"
		if !m.Date.IsZero() {
			date = m.Date.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, date, truncate(m.From, 30), truncate(m.Subject, 50), flagLetters(m))
	}
	w.Flush()
	fmt.Printf("\n%d message(s) via %s\n", len(l.Messages), l.Provider)
}

func flagLetters(m mail.Message) string {
	var b strings.Builder
	if m.Starred {
		b.WriteByte('S')
	}
	if m.Archived {
		b.WriteByte('A')
	}
	if m.Deleted {
		b.WriteByte('D')
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFolder, "folder", "INBOX", "folder to read")
	fetchCmd.Flags().IntVar(&fetchLimit, "limit", 0, "maximum messages (0 for the configured default)")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(fetchCmd)
}
