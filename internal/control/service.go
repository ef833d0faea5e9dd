// Package control assembles the indexer from configuration and owns its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Ruolynn/luckypocket-interface-sub000/internal/claim"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/config"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/cursor"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/domain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/core/worker"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/applier"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/health"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/listener"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/normalizer"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/notify"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/reorg"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/rescan"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/indexing/throttle"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/chain"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/chain/evm"
	redisclient "github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/redis"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage"
	"github.com/Ruolynn/luckypocket-interface-sub000/internal/infra/storage/postgres"
)

const (
	// headTTL bounds how stale a cached chain head may be.
	headTTL       = time.Second
	pruneInterval = time.Minute
)

// Service is the running indexer: poller, reorg detector, notifications, claim service
// and the health server.
type Service struct {
	cfg     *config.AppConfig
	log     *slog.Logger
	sources []string

	store   storage.Store
	cursors cursor.Manager
	db      *postgres.DB
	redis   *redisclient.Client
	closers []func()

	adapter    chain.Adapter
	poller     *listener.Poller
	detector   *reorg.Detector
	dispatcher *notify.Dispatcher
	claims     *claim.Service
	queue      *redisclient.RangeQueue
	rescan     *rescan.Worker
	pruner     *worker.Pruner
	monitor    *health.Monitor
	server     *health.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewService connects to the chain and the stores named in cfg. It fails when the RPC
// endpoint or the store is unreachable.
func NewService(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*Service, error) {
	client, err := evm.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %w", err)
	}
	s, err := New(ctx, cfg, evm.WithRetry(client, evm.DefaultRetryConfig, log), log)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closers = append(s.closers, client.Close)
	return s, nil
}

// New builds the service over an existing chain backend.
func New(ctx context.Context, cfg *config.AppConfig, backend evm.Backend, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, log: log.With("component", "control"), sources: SourceNames(cfg)}
	contract := common.HexToAddress(cfg.Chain.Contract)

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}
	if err := s.openRedis(); err != nil {
		s.Close()
		return nil, err
	}
	pub, err := s.newPublisher()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.dispatcher = notify.NewDispatcher(pub, cfg.Notify.Buffer, log.With("component", "notify"))

	adapter := evm.NewEVMAdapter(backend, evm.Config{
		Contract:      contract,
		Confirmations: cfg.Chain.Confirmations,
		Topics:        normalizer.Topics(),
	})
	head := chain.NewHeadCache(adapter, headTTL)
	s.adapter = head

	tokens := evm.NewTokenResolver(backend, domain.TokenMetadata{
		Symbol:   cfg.Chain.NativeSymbol,
		Name:     cfg.Chain.NativeName,
		Decimals: domain.DefaultDecimals,
	})
	decoder := normalizer.New(tokens, log.With("component", "normalizer"))
	app := applier.New(s.store, s.dispatcher, log.With("component", "applier"))

	s.poller = listener.NewPoller(listener.Config{
		Contract:      contract.Hex(),
		StartBlock:    cfg.Chain.StartBlock,
		MaxBlockRange: cfg.Chain.MaxBlockRange,
		Interval:      cfg.Poller.Interval,
		StallAfter:    cfg.Poller.StallAfter,
		Throttle:      throttle.DefaultConfig(),
	}, head, s.cursors, decoder, app, log)

	if cfg.Reorg.IsEnabled() {
		handler := reorg.NewHandler(s.store, s.cursors, s.sources, s.dispatcher)
		s.detector = reorg.NewDetector(reorg.Config{
			Interval:   cfg.Reorg.Interval,
			CheckDepth: cfg.Reorg.CheckDepth,
		}, head, s.store, handler)
	}

	leases, keys := s.claimStores()
	s.claims = claim.NewService(
		s.store,
		claim.NewGate(keys, cfg.Claim.IdempotencyTTL, cfg.Claim.LockTTL),
		claim.NewLocker(leases),
		s.dispatcher,
		claim.Config{LockTTL: cfg.Claim.LockTTL, IdempotencyTTL: cfg.Claim.IdempotencyTTL},
		log,
	)

	if s.redis != nil {
		s.queue = redisclient.NewRangeQueue(s.redis)
		s.rescan = rescan.NewWorker(rescan.WorkerConfig{
			ChunkSize: cfg.Chain.MaxBlockRange,
		}, s.queue, s.poller, log)
	}

	s.monitor = health.NewMonitor(s.sources, s.cursors, head, health.DefaultThresholds())
	s.monitor.AddComponent("store", s.store)
	if s.redis != nil {
		s.monitor.AddComponent("redis", s.redis)
	}
	s.monitor.SetWatchers(s.poller)
	if s.detector != nil {
		s.monitor.SetReorgClock(s.detector)
	}
	s.server = health.NewServer(s.monitor, cfg.Server.Port)

	return s, nil
}

// Start launches every background component. It returns once they are running; the
// startup backfill, when enabled, completes before the poller starts.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return listener.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.dispatcher.Start(runCtx)
	if s.db != nil {
		s.db.StartMetricsCollector(runCtx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	if s.cfg.Backfill.OnStart {
		if _, err := s.startupBackfill(runCtx); err != nil {
			// Live polling re-reads anything the backfill missed.
			s.log.Warn("Startup backfill failed", "error", err)
		}
	}

	if err := s.poller.Start(runCtx); err != nil {
		cancel()
		s.running = false
		return err
	}

	if s.detector != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.detector.Run(runCtx)
		}()
	}
	if s.rescan != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.rescan.Run(runCtx)
		}()
	}
	if s.pruner != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pruner.Start(runCtx)
		}()
	}

	s.log.Info("Indexer started",
		"contract", s.cfg.Chain.Contract,
		"sources", len(s.sources),
		"reorg", s.detector != nil,
		"backfill_queue", s.rescan != nil,
		"notify", s.cfg.Notify.Driver,
	)
	return nil
}

// Stop lets in-flight batches finish, flushes notifications and releases connections.
// Waiting is bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.Close()
		return nil
	}
	s.running = false
	s.log.Info("Stopping indexer...")

	var errs []error
	if err := s.poller.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("poller: %w", err))
	}
	s.cancel()
	if err := s.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := s.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notify: %w", err))
	}
	s.Close()
	return errors.Join(errs...)
}

// Close releases connections without stopping components. One-shot commands that never
// call Start use it.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Sources returns the cursor keys of the watchers, one per event kind.
func (s *Service) Sources() []string { return s.sources }

// Cursors returns the cursor manager.
func (s *Service) Cursors() cursor.Manager { return s.cursors }

// Claims returns the claim service used by the request path.
func (s *Service) Claims() *claim.Service { return s.claims }

// Store returns the mirror store.
func (s *Service) Store() storage.Store { return s.store }

// Health returns the detailed health report.
func (s *Service) Health(ctx context.Context) *health.HealthReport {
	return s.monitor.CheckHealth(ctx)
}
