package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Frokesy/goatmail-be/internal/account"
	"github.com/Frokesy/goatmail-be/internal/api"
	"github.com/Frokesy/goatmail-be/internal/auth"
	"github.com/Frokesy/goatmail-be/internal/credential"
	"github.com/Frokesy/goatmail-be/internal/outbound"
	"github.com/Frokesy/goatmail-be/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled-send dispatcher",
	Long: `Run goatmail as a long-running server.

The server runs in the foreground and provides:
  - HTTP API on the configured port (default: 8080)
  - Scheduled email dispatch on a cron schedule (default: every minute)

Configure in config.toml:
  [server]
  api_port = 8080
  jwt_secret = "..."

  [send]
  schedule = "* * * * *"
  enabled = true

Use Ctrl+C to stop the server gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Send.Enabled {
		if err := scheduler.ValidateCronExpr(cfg.Send.Schedule); err != nil {
			return fmt.Errorf("send.schedule: %w", err)
		}
	}
	if cfg.Server.JWTSecret == "" {
		logger.Warn("server.jwt_secret is empty; tokens are signed with an empty key (loopback only)")
	}

	ctx := cmd.Context()

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	cipher, err := loadCipher()
	if err != nil {
		return err
	}

	flagStore, closeFlags, err := openFlagStore(ctx, cfg, s)
	if err != nil {
		return err
	}
	defer closeFlags()

	tokens := auth.NewTokenManager(cfg.Server.JWTSecret, cfg.Server.TokenTTL.Duration)
	creds := credential.NewResolver(s, cipher)
	relay := outbound.NewRelay(creds, s,
		outbound.NewSender(outbound.WithSenderLogger(logger), outbound.WithTimeout(cfg.Mail.Timeout.Duration)),
		logger)

	deps := api.Deps{
		Inbox:    newInbox(cfg, creds, flagStore),
		Accounts: account.NewService(s, flagStore, cipher, tokens, logger),
		Mailer:   relay,
		Tokens:   tokens,
	}

	var dispatcher *scheduler.Dispatcher
	if cfg.Send.Enabled {
		dispatcher, err = scheduler.New(cfg.Send.Schedule, func(ctx context.Context) error {
			res, err := relay.DispatchDue(ctx)
			if res.Sent > 0 || res.Failed > 0 {
				logger.Info("scheduled emails dispatched", "sent", res.Sent, "failed", res.Failed)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("create dispatcher: %w", err)
		}
		dispatcher.WithLogger(logger)
		deps.Dispatcher = dispatcher
	}

	apiServer := api.NewServer(cfg, deps, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if dispatcher != nil {
		dispatcher.Start()
	}

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("goatmail server started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Database:   %s\n", s.Driver())
	fmt.Printf("  Flags:      %s\n", cfg.Flags.Backend)
	if dispatcher != nil {
		fmt.Printf("  Dispatch:   %s\n", cfg.Send.Schedule)
	} else {
		fmt.Printf("  Dispatch:   disabled\n")
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}

		if dispatcher != nil {
			select {
			case <-dispatcher.Stop().Done():
			case <-time.After(30 * time.Second):
				logger.Warn("dispatcher shutdown timed out after 30 seconds")
			}
		}
		return nil
	})

	err = g.Wait()
	fmt.Println("Shutdown complete.")
	return err
}
