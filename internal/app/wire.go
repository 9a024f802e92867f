package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/jason-bohan/ArbitrageBot/internal/blob/s3"
	"github.com/jason-bohan/ArbitrageBot/internal/cache/redis"
	"github.com/jason-bohan/ArbitrageBot/internal/config"
	"github.com/jason-bohan/ArbitrageBot/internal/crypto"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/notify"
	"github.com/jason-bohan/ArbitrageBot/internal/platform/kalshi"
	"github.com/jason-bohan/ArbitrageBot/internal/store/file"
	"github.com/jason-bohan/ArbitrageBot/internal/store/postgres"
)

// Dependencies bundles the concrete collaborators the operating modes need.
// Optional fields (Multi, WS, Cache, Locks, Bus, Archiver) are nil when the
// corresponding backend is not configured.
type Dependencies struct {
	Gateway domain.Gateway
	Kalshi  *kalshi.Client
	Multi   *kalshi.MultiAccount
	WS      *kalshi.WSClient

	Positions domain.PositionStore
	Ledger    domain.LedgerStore
	Audit     domain.AuditStore

	Cache   domain.SnapshotCache
	Locks   domain.LockManager
	Limiter domain.RateLimiter
	Bus     domain.EventBus

	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs every dependency from configuration and returns a cleanup
// function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// Exchange clients. In dry run the key may be absent; the client then
	// reads public market data unauthenticated.
	primary := kalshi.NewClient(kalshi.ClientConfig{
		BaseURL:         cfg.Kalshi.BaseURL,
		ApiKeyID:        cfg.Kalshi.ApiKey,
		ReadsPerSecond:  cfg.Kalshi.ReadsPerSecond,
		OrdersPerSecond: cfg.Kalshi.OrdersPerSecond,
	})
	if cfg.Kalshi.RsaPrivateKeyPath != "" {
		pemBytes, err := crypto.LoadKeyPEM(cfg.Kalshi.RsaPrivateKeyPath, cfg.Kalshi.KeyPassword)
		if err != nil {
			return fail(fmt.Errorf("wire: primary key: %w", err))
		}
		if err := primary.SetRSAPrivateKey(pemBytes); err != nil {
			return fail(fmt.Errorf("wire: primary key: %w", err))
		}
	}
	deps.Kalshi = primary
	deps.Gateway = primary

	if cfg.Kalshi.ApiKey2 != "" {
		secondary := kalshi.NewClient(kalshi.ClientConfig{
			BaseURL:         cfg.Kalshi.BaseURL,
			ApiKeyID:        cfg.Kalshi.ApiKey2,
			ReadsPerSecond:  cfg.Kalshi.ReadsPerSecond,
			OrdersPerSecond: cfg.Kalshi.OrdersPerSecond,
		})
		pemBytes, err := crypto.LoadKeyPEM(cfg.Kalshi.RsaPrivateKeyPath2, cfg.Kalshi.KeyPassword2)
		if err != nil {
			return fail(fmt.Errorf("wire: secondary key: %w", err))
		}
		if err := secondary.SetRSAPrivateKey(pemBytes); err != nil {
			return fail(fmt.Errorf("wire: secondary key: %w", err))
		}
		deps.Multi = kalshi.NewMultiAccount(primary, secondary)
	}

	if cfg.Kalshi.WsURL != "" {
		deps.WS = kalshi.NewWSClient(cfg.Kalshi.WsURL, primary)
	}

	if cfg.DryRun {
		deps.Gateway = newPaperGateway(primary, cfg.PaperBankrollCents)
	}

	// Persistence: PostgreSQL when enabled, otherwise the JSON file store.
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	} else {
		fs, err := file.Open(cfg.StateFile)
		if err != nil {
			return fail(fmt.Errorf("wire: state file: %w", err))
		}
		deps.Positions = fs
		deps.Ledger = fs
		deps.Audit = fs
	}

	// Redis is optional. Without it the engine runs with in-process state
	// only: no cross-process locks, no snapshot cache, no event stream.
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
	}

	// Object storage for ledger and book archival.
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Positions,
			deps.Ledger,
			deps.Audit,
			logger,
		)
	}

	// Alert channels.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	var limiter notify.Limiter
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, limiter, logger)

	return deps, cleanup, nil
}
