package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vasaquant/securities-ingest/internal/ingest"
	"github.com/vasaquant/securities-ingest/internal/metrics"
	"github.com/vasaquant/securities-ingest/internal/page"
	"github.com/vasaquant/securities-ingest/internal/publisher"
	"github.com/vasaquant/securities-ingest/internal/rate"
	"github.com/vasaquant/securities-ingest/internal/scrape"
	"github.com/vasaquant/securities-ingest/pkg/config"
	"github.com/vasaquant/securities-ingest/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load("scraper")

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [scraper]...")

	// --- Rate limiter (per source host) ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.SourceRPS,
		Burst:             cfg.SourceBurst,
	})

	// --- Page browser over plain HTTP ---
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	browser := page.NewFetcher(logg.Desugar(), httpClient, rateMgr, 2*time.Second)
	defer browser.Close()

	// --- Ingest API client ---
	client := ingest.NewClient(logg.Desugar(), cfg.IngestBaseURL, cfg.RequestTimeout, cfg.RetryMax)

	// --- Run-report publisher (optional) ---
	var reports scrape.ReportPublisher
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.New(nc, cfg.RunSubject, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		reports = pub
	} else {
		logg.Warn("NATS_URL not configured; run reports disabled")
	}

	// --- Metrics listener ---
	metrics.StartServer(fmt.Sprintf(":%d", cfg.MetricsPort))

	// --- Run every registered pipeline once, in order ---
	runner := scrape.NewRunner(logg.Desugar(), browser, client, reports, cfg.RequestTimeout*4)
	pipelines := scrape.Registry(cfg)

	logg.Infow("[scraper] running",
		"env", cfg.Env,
		"pipelines", len(pipelines),
		"ingest", cfg.IngestBaseURL)

	start := time.Now()
	err := runner.Run(ctx, pipelines)

	if nc != nil {
		if drainErr := nc.Drain(); drainErr != nil {
			logg.Warnw("nats.drain_failed", "error", drainErr)
		}
	}

	if err != nil {
		logg.Fatalw("scrape run aborted", "error", err, "elapsed", time.Since(start))
	}
	logg.Infow("scrape run complete", "elapsed", time.Since(start))
}
