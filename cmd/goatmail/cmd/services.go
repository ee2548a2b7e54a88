package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Frokesy/goatmail-be/internal/config"
	"github.com/Frokesy/goatmail-be/internal/credential"
	"github.com/Frokesy/goatmail-be/internal/flags"
	"github.com/Frokesy/goatmail-be/internal/inbox"
	"github.com/Frokesy/goatmail-be/internal/mail"
	"github.com/Frokesy/goatmail-be/internal/store"
)

// openStore opens the configured database and makes sure the schema exists.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func loadCipher() (*credential.Cipher, error) {
	if cfg.Mail.EncryptionKey == "" {
		return nil, fmt.Errorf("mail.encryption_key is not set (or export ENCRYPTION_KEY); run 'goatmail init-db --generate-key' to create one")
	}
	c, err := credential.NewCipher(cfg.Mail.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return c, nil
}

// openFlagStore returns the configured flag backend. The cleanup func
// closes the Redis client when one was opened.
func openFlagStore(ctx context.Context, c *config.Config, s *store.Store) (flags.Store, func(), error) {
	if c.Flags.Backend != config.FlagsBackendRedis {
		return s.Flags(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Flags.RedisAddr,
		Password: c.Flags.RedisPassword,
		DB:       c.Flags.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", c.Flags.RedisAddr, err)
	}
	return flags.NewRedisStore(rdb, c.Flags.KeyPrefix), func() { _ = rdb.Close() }, nil
}

func newInbox(c *config.Config, creds inbox.CredentialResolver, fl flags.Store) *inbox.Service {
	return inbox.New(creds, fl,
		[]inbox.Option{
			inbox.WithLogger(logger),
			inbox.WithFetchLimit(c.Mail.FetchLimit),
			inbox.WithScanLimit(c.Mail.FlagScanLimit),
			inbox.WithTimeout(c.Mail.Timeout.Duration),
		},
		mail.WithLogger(logger),
		mail.WithDialTimeout(c.Mail.ConnectTimeout.Duration),
	)
}
