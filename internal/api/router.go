package api

import (
	"github.com/ayo6706/trade-settlement/internal/api/handler"
	"github.com/ayo6706/trade-settlement/internal/api/middleware"
	"github.com/ayo6706/trade-settlement/internal/config"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services are the read-side dependencies the HTTP surface needs.
type Services struct {
	DB       handler.Pinger
	Redis    redis.Cmdable
	Ledger   handler.LedgerReader
	FeePools handler.FeePoolReader
	Jobs     handler.JobReader
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, svc Services) *Router {
	return &Router{cfg: cfg, logger: logger, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.Observe(api.logger))

	healthHandler := handler.NewHealthHandler(api.svc.DB, api.svc.Redis)
	ledgerHandler := handler.NewLedgerHandler(api.svc.Ledger)
	feePoolHandler := handler.NewFeePoolHandler(api.svc.FeePools)
	jobHandler := handler.NewJobHandler(api.svc.Jobs)

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if api.cfg != nil && api.cfg.PublicRateLimitRPS > 0 {
			r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		}

		r.Get("/ledger/{userId}/{stream}/{period}/{currency}", ledgerHandler.GetEntry)

		r.Get("/fee-pools", feePoolHandler.ListPools)
		r.Get("/fee-pools/{id}/transactions", feePoolHandler.ListTransactions)

		r.Get("/settlements/{correlationId}/jobs", jobHandler.GetSettlementJobs)
		r.Get("/settlement-jobs/stats", jobHandler.GetStats)
		r.Get("/settlement-jobs/stuck", jobHandler.GetStuck)
		r.Get("/settlement-jobs/{id}", jobHandler.GetJob)
	})

	return r
}
