// Command billing-sweep closes and marks overdue the bills of every card once,
// as of now or of the date given with -as-of. Meant to run daily from cron.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/card-billing/internal/app"
	"github.com/boddenberg/card-billing/internal/config"
	"github.com/boddenberg/card-billing/internal/infra/observability"

	"go.uber.org/zap"
)

func main() {
	asOfFlag := flag.String("as-of", "", "reference date (2006-01-02), defaults to today in UTC")
	flag.Parse()

	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	asOf := time.Now().UTC()
	if *asOfFlag != "" {
		d, err := time.Parse(time.DateOnly, *asOfFlag)
		if err != nil {
			logger.Fatal("invalid -as-of", zap.String("value", *asOfFlag), zap.Error(err))
		}
		asOf = d
	}

	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "card-billing-sweep")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	billingApp, err := app.New(ctx, cfg, observability.NewMetrics(), logger)
	if err != nil {
		logger.Fatal("failed to start billing service", zap.Error(err))
	}
	defer billingApp.Close()

	res, err := billingApp.Service.RefreshAllStatuses(ctx, asOf, cfg.SweepConcurrency)
	if err != nil {
		logger.Error("sweep interrupted", zap.Error(err))
		exit(billingApp, logger, 1)
	}
	if res.Failed > 0 {
		exit(billingApp, logger, 2)
	}
}

// exit runs the deferred cleanup that os.Exit would skip.
func exit(a *app.App, logger *zap.Logger, code int) {
	a.Close()
	_ = logger.Sync()
	os.Exit(code)
}
