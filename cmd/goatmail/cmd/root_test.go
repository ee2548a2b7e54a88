package cmd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// newTestRootCmd creates a fresh root command so tests never mutate the
// shared rootCmd concurrently.
func newTestRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goatmail",
		Short: "Webmail backend",
	}
}

func TestExecuteContext_CancellationPropagates(t *testing.T) {
	var contextWasCancelled atomic.Bool
	handlerStarted := make(chan struct{})

	testRoot := newTestRootCmd()
	testRoot.AddCommand(&cobra.Command{
		Use: "test-cancel",
		RunE: func(cmd *cobra.Command, args []string) error {
			close(handlerStarted)
			select {
			case <-cmd.Context().Done():
				contextWasCancelled.Store(true)
				return cmd.Context().Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		testRoot.SetArgs([]string{"test-cancel"})
		done <- testRoot.ExecuteContext(ctx)
	}()

	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("command handler did not start in time")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled error, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteContext did not return after context cancellation")
	}

	if !contextWasCancelled.Load() {
		t.Error("command did not observe context cancellation")
	}
}

// NOTE: swaps the package-level rootCmd; do not add t.Parallel().
func TestExecuteContext_PropagatesContext(t *testing.T) {
	savedRootCmd := rootCmd
	defer func() { rootCmd = savedRootCmd }()

	testRoot := newTestRootCmd()
	type ctxKey string
	var receivedCtx context.Context
	testRoot.AddCommand(&cobra.Command{
		Use: "test-ctx",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivedCtx = cmd.Context()
			return nil
		},
	})
	rootCmd = testRoot

	key := ctxKey("test-key")
	ctx := context.WithValue(context.Background(), key, "test-value")

	testRoot.SetArgs([]string{"test-ctx"})
	if err := ExecuteContext(ctx); err != nil {
		t.Fatalf("ExecuteContext returned unexpected error: %v", err)
	}
	if receivedCtx == nil {
		t.Fatal("command did not receive context")
	}
	if got := receivedCtx.Value(key); got != "test-value" {
		t.Errorf("context value mismatch: got %v, want test-value", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "init-db", "add-user", "set-incoming", "fetch", "version"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c == nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
