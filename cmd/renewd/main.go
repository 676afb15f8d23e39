// Command renewd serves the PortOne webhook, the subscription status
// endpoint and the billing-key charge endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // SCHEDULE_TIMEZONE defaults to Asia/Seoul

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/gorenew/pkg/renew"
	zerologadapter "github.com/mihaimyh/gorenew/pkg/renew/logger/zerolog"
	prommetrics "github.com/mihaimyh/gorenew/pkg/renew/metrics/prometheus"
)

func main() {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Str("service", "renewd").Logger()

	cfg, err := loadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zlog = zlog.Level(level)
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal().Err(err).Msg("renewd stopped")
	}
}

func run(cfg config, zlog zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerologadapter.NewLogger(zlog)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(reg, cfg.MetricsNamespace)

	ledger, closeLedger, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	a, err := buildApp(cfg, ledger, reg, metrics, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			renew.Field{Key: "addr", Value: cfg.HTTPAddr},
			renew.Field{Key: "ledger", Value: cfg.LedgerBackend})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
