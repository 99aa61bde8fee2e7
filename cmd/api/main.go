package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"golang.org/x/sync/errgroup"

	"github.com/fundverse/backend/internal/auth"
	"github.com/fundverse/backend/internal/config"
	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/jobs"
	"github.com/fundverse/backend/internal/logging"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/railclient"
	"github.com/fundverse/backend/internal/rails"
	"github.com/fundverse/backend/internal/rails/equity"
	"github.com/fundverse/backend/internal/rails/native"
	"github.com/fundverse/backend/internal/rails/traditional"
	"github.com/fundverse/backend/internal/repository"
	"github.com/fundverse/backend/internal/scheduler"
)

const metricsNamespace = "fundverse"

func main() {
	configPath := flag.String("config", "", "config file (overrides CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		slog.Error("Logger setup failed", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

// stores are the persistence backends for one run, Postgres or in-memory.
type stores struct {
	pool          *pgxpool.Pool
	lockPool      *pgxpool.Pool
	contributions escrow.Store
	campaigns     campaignStore
	transfers     native.TransferStore
	users         auth.UserStore
}

type campaignStore interface {
	escrow.CampaignService
	PutCampaign(ctx context.Context, c models.Campaign) error
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.MemoryMode() {
		logger.Warn("DATABASE_URL not set; running with in-memory stores")
		return &stores{
			contributions: escrow.NewMemoryStore(),
			campaigns:     escrow.NewStaticCampaigns(),
			transfers:     native.NewMemoryStore(),
			users:         auth.NewMemoryRepository(),
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL database successfully!")
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Schema and River migrations applied")
	lockPool, err := repository.OpenLockPool(ctx, cfg.DatabaseURL, int32(cfg.LockPoolSize))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		pool:          pool,
		lockPool:      lockPool,
		contributions: repository.NewContributionRepo(pool),
		campaigns:     repository.NewCampaignRepo(pool),
		transfers:     repository.NewTransferRepo(pool),
		users:         auth.NewRepository(pool),
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.pool != nil {
		defer st.pool.Close()
		defer st.lockPool.Close()
	}

	// Identity
	authSvc := auth.NewService(st.users, cfg.JWTSecret, cfg.JWTTTL)
	if cfg.OperatorEmail != "" {
		_, err := authSvc.Register(ctx, cfg.OperatorEmail, cfg.OperatorPassword, "Operator", models.RoleOperator)
		switch {
		case err == nil:
			logger.Info("Operator account created", "email", cfg.OperatorEmail)
		case errors.Is(err, auth.ErrDuplicateEmail):
		default:
			return err
		}
	}

	// Rails
	var (
		adapters      []rails.Adapter
		nativeAdapter *native.Adapter
		equityAdapter *equity.Adapter
	)
	if cfg.NativeLedgerURL != "" {
		client := railclient.NewNativeLedger(cfg.NativeLedgerURL, cfg.RailServiceToken, cfg.RailTimeout)
		nativeAdapter = native.NewAdapter(client, st.transfers, cfg.EscrowAccount, logger)
		adapters = append(adapters, nativeAdapter)
	}
	if cfg.PaymentVerifierURL != "" {
		client := railclient.NewPaymentVerifier(cfg.PaymentVerifierURL, cfg.RailServiceToken, cfg.RailTimeout)
		adapters = append(adapters, traditional.NewAdapter(client, logger))
	}
	if cfg.SPVServiceURL != "" {
		client := railclient.NewSPVService(cfg.SPVServiceURL, cfg.RailServiceToken, cfg.RailTimeout)
		equityAdapter = equity.NewAdapter(client, logger)
		adapters = append(adapters, equityAdapter)
	}
	registry := rails.NewRegistry(adapters...)

	// Escrow engine
	opts := []escrow.Option{
		escrow.WithBackerDirectory(authSvc),
		escrow.WithMetrics(escrow.PrometheusMetrics(metricsNamespace)),
		escrow.WithLogger(logger),
	}
	for rail, r := range registry.Reversers() {
		opts = append(opts, escrow.WithReverser(rail, r))
	}
	if st.pool != nil {
		opts = append(opts, escrow.WithCampaignLocker(repository.NewAdvisoryLocker(st.lockPool, logger)))
	}
	engine := escrow.NewEngine(st.contributions, st.campaigns, cfg.Engine(), opts...)

	var holdings *equity.Holdings
	if equityAdapter != nil {
		holdings = equity.NewHoldings(equityAdapter, logger)
		cs, err := engine.ContributionsByMethod(ctx, models.MethodEquitySPV)
		if err != nil {
			return err
		}
		holdings.Rebuild(ctx, cs)
		engine.AddNotifier(holdings)
	}

	validator, err := rails.NewParamsValidator()
	if err != nil {
		return err
	}
	reconciler := rails.NewReconciler(engine, registry, validator, rails.PrometheusMetrics(metricsNamespace), logger)

	// Background jobs
	var (
		riverClient *river.Client[pgx.Tx]
		queue       *jobs.Queue
	)
	if st.pool != nil {
		workers := river.NewWorkers()
		jobs.Register(workers,
			jobs.NewSettleCampaignWorker(engine, logger),
			jobs.NewPollConfirmationWorker(reconciler, cfg.PollInterval, logger))
		riverClient, err = river.NewClient(riverpgxv5.New(st.pool), &river.Config{
			Queues: map[string]river.QueueConfig{
				river.QueueDefault: {MaxWorkers: cfg.RiverWorkers},
			},
			Workers: workers,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		queue = jobs.NewQueue(riverClient)
	}

	settle := func(ctx context.Context, campaignID uint64) error {
		_, err := engine.SettleCampaign(ctx, campaignID)
		return err
	}
	if queue != nil {
		settle = func(ctx context.Context, campaignID uint64) error {
			_, err := queue.EnqueueSettlement(ctx, campaignID)
			return err
		}
	}

	sched, err := scheduler.NewManager(logger)
	if err != nil {
		return err
	}
	schedJobs := []scheduler.Job{
		scheduler.NewConfirmationSweepJob(reconciler, cfg.PollInterval, cfg.SweepLimit, logger),
		scheduler.NewSettlementSweepJob(engine, st.campaigns, settle, cfg.SettleSweepInterval, logger),
		scheduler.NewSummaryAuditJob(engine, cfg.AuditInterval, logger),
	}
	if nativeAdapter != nil {
		schedJobs = append(schedJobs, scheduler.NewReverseSweepJob(nativeAdapter, cfg.PollInterval, cfg.SweepLimit, logger))
	}
	if err := sched.Register(schedJobs...); err != nil {
		return err
	}

	handler := buildHandler(cfg, apiDeps{
		authSvc:    authSvc,
		engine:     engine,
		campaigns:  st.campaigns,
		reconciler: reconciler,
		queue:      queue,
		native:     nativeAdapter,
		holdings:   holdings,
	}, logger)
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", srv.Addr, "memory_mode", cfg.MemoryMode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if riverClient != nil {
		g.Go(func() error {
			if err := riverClient.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return riverClient.Stop(stopCtx)
		})
	}
	return g.Wait()
}
