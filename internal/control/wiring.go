package control

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/config"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/worker"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/kafka"
	redisclient "github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/redis"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage/memory"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage/postgres"
)

// openStore connects to PostgreSQL when a database URL is configured and falls back to
// the in-memory store otherwise.
func (s *Service) openStore(ctx context.Context) error {
	if s.cfg.Database.URL == "" {
		store := memory.NewMemoryStorage()
		s.store = store
		s.cursors = cursor.NewManager(memory.NewCursorRepo(store))
		s.log.Info("Using Memory storage")
		return nil
	}

	db, err := postgres.NewDB(ctx, s.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	s.closers = append(s.closers, func() { _ = db.Close() })
	s.store = postgres.NewStore(db)
	s.cursors = cursor.NewManager(postgres.NewCursorRepo(db))
	s.log.Info("Using PostgreSQL storage")
	return nil
}

func (s *Service) openRedis() error {
	if s.cfg.Redis.URL == "" {
		return nil
	}
	client, err := redisclient.NewClient(s.cfg.Redis)
	if err != nil {
		return err
	}
	s.redis = client
	s.closers = append(s.closers, func() { _ = client.Close() })
	return nil
}

func (s *Service) newPublisher() (notify.Publisher, error) {
	switch s.cfg.Notify.Driver {
	case config.NotifyRedis:
		if s.redis == nil {
			return nil, fmt.Errorf("notify driver %q needs redis.url", config.NotifyRedis)
		}
		return redisclient.NewPublisher(s.redis, s.cfg.Notify.Channel), nil
	case config.NotifyKafka:
		return kafka.NewPublisher(kafka.Config{
			Brokers: s.cfg.Notify.Brokers,
			Topic:   s.cfg.Notify.Topic,
		})
	default:
		return notify.NewLogPublisher(s.log.With("component", "notify")), nil
	}
}

// claimStores returns the lease and idempotency stores: redis when configured, so
// several instances share them, in-process otherwise.
func (s *Service) claimStores() (storage.LeaseStore, storage.IdempotencyStore) {
	if s.redis != nil {
		return redisclient.NewLeaseStore(s.redis), redisclient.NewIdempotencyStore(s.redis)
	}
	s.log.Warn("No redis configured, claim locks only exclude callers within this process")
	leases, keys := memory.NewLeaseStore(), memory.NewIdempotencyStore()
	s.pruner = worker.NewPruner(pruneInterval, map[string]worker.Prunable{
		"leases":      leases,
		"idempotency": keys,
	}, s.log)
	return leases, keys
}

// OpenCursors opens the cursor table alone, for commands that never touch the chain.
// Cursors of the in-memory store don't outlive the process, so a database is required.
func OpenCursors(ctx context.Context, cfg *config.AppConfig) (cursor.Manager, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database.url is required to edit cursors")
	}
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return cursor.NewManager(postgres.NewCursorRepo(db)), func() { _ = db.Close() }, nil
}

// SourceNames returns the cursor keys configured for cfg's contract.
func SourceNames(cfg *config.AppConfig) []string {
	contract := common.HexToAddress(cfg.Chain.Contract).Hex()
	out := make([]string, 0, len(domain.EventKinds))
	for _, kind := range domain.EventKinds {
		out = append(out, domain.SourceName(contract, kind))
	}
	return out
}
