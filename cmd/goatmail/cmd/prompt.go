package cmd

import (
	"fmt"
	"syscall"

	"golang.org/x/term"
)

// readPassword prompts on the terminal without echo. Passwords are never
// taken from flags so they stay out of shell history.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("password is required")
	}
	return string(raw), nil
}
