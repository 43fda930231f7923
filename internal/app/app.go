// Package app wires configuration into the running services shared by the
// api and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"CreatorDeals/internal/config"
	"CreatorDeals/internal/db"
	"CreatorDeals/internal/events"
	"CreatorDeals/internal/payments"
	"CreatorDeals/internal/pricing"
	"CreatorDeals/internal/processor"
	"CreatorDeals/internal/services"
	"CreatorDeals/internal/store"
	"CreatorDeals/internal/worker"
)

type App struct {
	Store   store.Repository
	Gateway processor.Gateway
	Hub     *events.Hub
	Deals   services.DealService
	Budget  services.BudgetLedger
	Payouts *payments.Gatekeeper
	Settler *payments.Settler
	Log     *slog.Logger

	pool *db.Pool
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Hub: events.NewHub(64), Log: log}

	switch cfg.DB.Driver {
	case config.DriverMemory:
		a.Store = store.NewMemory()
		log.Warn("using in-memory store, data is lost on exit")
	default:
		pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.pool = pool
		a.Store = store.New(pool)
	}

	switch cfg.Processor.Provider {
	case config.ProviderStripe:
		a.Gateway = processor.NewStripe(cfg.Processor.StripeSecretKey, cfg.Processor.OnboardingRefreshURL, cfg.Processor.OnboardingReturnURL)
	default:
		sb := processor.NewSandbox()
		sb.AutoOnboard = cfg.Processor.SandboxAutoOnboard
		a.Gateway = sb
		log.Warn("using sandbox payment processor, no money moves")
	}

	a.Deals = services.DealService{
		Store:   a.Store,
		Pricing: pricing.Service{MarginRate: cfg.MarginRate()},
		Events:  a.Hub,
	}
	a.Budget = services.BudgetLedger{Store: a.Store}
	a.Payouts = &payments.Gatekeeper{
		Store:   a.Store,
		Gateway: a.Gateway,
		Events:  a.Hub,
		Log:     log.With("component", "payouts"),
	}
	a.Settler = &payments.Settler{
		Store:      a.Store,
		Deals:      a.Deals,
		Gatekeeper: a.Payouts,
		Gateway:    a.Gateway,
		Events:     a.Hub,
		Log:        log.With("component", "settlement"),

		TransferTimeout: cfg.TransferTimeout(),
	}
	return a, nil
}

func (a *App) Worker(cfg *config.Config) *worker.Worker {
	return &worker.Worker{
		Settler:    a.Settler,
		Payouts:    a.Payouts,
		Store:      a.Store,
		Schedule:   cfg.Worker.Schedule,
		StaleAfter: cfg.StaleAfter(),
		Log:        a.Log.With("component", "worker"),
	}
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
