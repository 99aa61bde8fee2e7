package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/fundverse/backend/internal/auth"
	"github.com/fundverse/backend/internal/config"
	"github.com/fundverse/backend/internal/dashboard"
	"github.com/fundverse/backend/internal/escrow"
	"github.com/fundverse/backend/internal/handlers"
	"github.com/fundverse/backend/internal/jobs"
	"github.com/fundverse/backend/internal/middleware"
	"github.com/fundverse/backend/internal/models"
	"github.com/fundverse/backend/internal/rails"
	"github.com/fundverse/backend/internal/rails/equity"
	"github.com/fundverse/backend/internal/rails/native"
	"github.com/fundverse/backend/internal/router"
)

type apiDeps struct {
	authSvc    auth.Service
	engine     *escrow.Engine
	campaigns  handlers.CampaignStore
	reconciler *rails.Reconciler
	queue      *jobs.Queue
	native     *native.Adapter
	holdings   *equity.Holdings
}

// buildHandler assembles /api/v1, /metrics and /healthz behind CORS and
// request logging.
func buildHandler(cfg *config.Config, d apiDeps, logger *slog.Logger) http.Handler {
	contributions := &handlers.ContributionHandler{
		Ledger:    d.engine,
		Rails:     d.reconciler,
		Campaigns: d.campaigns,
		Logger:    logger,
	}
	if d.queue != nil {
		contributions.Queue = d.queue
		contributions.Polls = d.queue
	}

	var (
		transfers dashboard.TransferLookup
		positions dashboard.PositionLookup
	)
	if d.native != nil {
		transfers = d.native
	}
	if d.holdings != nil {
		positions = d.holdings
	}

	api := router.New(router.Deps{
		Auth:          auth.NewHandler(d.authSvc, logger),
		Tokens:        d.authSvc,
		Contributions: contributions,
		Dashboard:     dashboard.NewHandler(d.engine, transfers, positions, logger),
		Limits:        cfg.Limits(),
		DailyTotal:    dailyTotal(d.engine, time.Now),
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)
	return middleware.RequestLogger(logger)(corsHandler)
}

type backerLedger interface {
	ContributionsByBacker(ctx context.Context, backer uuid.UUID) ([]models.Contribution, error)
}

// dailyTotal sums what a backer committed in the last 24 hours, leaving out
// refunded contributions.
func dailyTotal(ledger backerLedger, now func() time.Time) middleware.DailyTotalFunc {
	return func(ctx context.Context, backer uuid.UUID) (uint64, error) {
		cs, err := ledger.ContributionsByBacker(ctx, backer)
		if err != nil {
			return 0, err
		}
		since := now().Add(-24 * time.Hour)
		var total uint64
		for _, c := range cs {
			if c.Status == models.StatusRefunded || c.CreatedAt.Before(since) {
				continue
			}
			if total+c.Amount < total {
				return ^uint64(0), nil
			}
			total += c.Amount
		}
		return total, nil
	}
}
