package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mihaimyh/gorenew/pkg/api"
	"github.com/mihaimyh/gorenew/pkg/portone"
	"github.com/mihaimyh/gorenew/pkg/renew"
	"github.com/mihaimyh/gorenew/pkg/webhook"
)

// app holds the wired services behind the HTTP routes.
type app struct {
	webhook  *webhook.Handler
	api      *api.Handler
	gatherer prometheus.Gatherer
	ready    func(ctx context.Context) error
}

// buildApp wires the coordinator, status deriver and handlers over ledger.
func buildApp(cfg config, ledger store, reg *prometheus.Registry, metrics renew.Metrics, logger renew.Logger) (*app, error) {
	loc, err := time.LoadLocation(cfg.ScheduleTimezone)
	if err != nil {
		return nil, err
	}

	var journal renew.LedgerStore = ledger
	if cfg.LedgerBreakerThreshold > 0 {
		cb := renew.NewDefaultCircuitBreaker(cfg.LedgerBreakerThreshold, cfg.LedgerBreakerReset,
			func(state renew.CircuitBreakerState) {
				metrics.RecordCircuitBreakerStateChange(string(state))
				logger.Warn("ledger circuit breaker state changed", renew.Field{Key: "state", Value: string(state)})
			})
		journal = renew.NewCircuitBreakerLedger(ledger, cb)
	}

	client := portone.New(portone.Config{
		APISecret: cfg.PortOneAPISecret,
		BaseURL:   cfg.PortOneBaseURL,
		Metrics:   metrics,
	})
	if err := client.CheckConfig(); err != nil {
		logger.Warn("PortOne API secret is not set; webhook deliveries will fail",
			renew.Field{Key: "error", Value: err})
	}

	coordConfig := renew.Config{
		Ledger:   journal,
		Gateway:  client,
		Planner:  renew.NewPlanner(loc),
		Currency: cfg.Currency,
		Logger:   logger,
		Metrics:  metrics,
	}
	if cfg.WebhookDedupe {
		coordConfig.Deduper = ledger
	}
	coordinator, err := renew.NewCoordinator(coordConfig)
	if err != nil {
		return nil, err
	}

	wh, err := webhook.NewHandler(webhook.Config{
		Dispatcher:        coordinator,
		RateLimitRequests: cfg.WebhookRateLimit,
		RateLimitWindow:   time.Minute,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, err
	}

	apiHandler, err := api.NewHandler(api.Config{
		Status:     renew.NewStatusDeriver(journal, nil, metrics),
		Charger:    client,
		WebhookURL: cfg.WebhookURL,
		Currency:   cfg.Currency,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		webhook:  wh,
		api:      apiHandler,
		gatherer: reg,
		ready: func(ctx context.Context) error {
			_, err := journal.QueryEvents(ctx, renew.EventQuery{Limit: 1})
			return err
		},
	}, nil
}

// routes mounts every endpoint on a chi router.
func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The handlers answer 405 themselves for other methods
	r.Handle("/api/portone", a.webhook)
	r.HandleFunc("/api/payments", a.api.CreatePayment)
	r.Get("/api/payments/status", a.api.GetStatus)

	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}
