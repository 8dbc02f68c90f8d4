// Command worker-service runs the dispatch loop of §4.D: claims QUEUED
// jobs, runs the three-agent pipeline (§4.I), and applies confidence
// routing (§4.J). It also drives the outbox processor and the periodic
// reconciliation pass of §4.B/§5.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/internal/config"
	"github.com/justLukaBB/creditor-email-matcher/pkg/agents"
	"github.com/justLukaBB/creditor-email-matcher/pkg/confidence"
	"github.com/justLukaBB/creditor-email-matcher/pkg/extraction"
	"github.com/justLukaBB/creditor-email-matcher/pkg/jobs"
	"github.com/justLukaBB/creditor-email-matcher/pkg/llmvendor"
	"github.com/justLukaBB/creditor-email-matcher/pkg/matching"
	"github.com/justLukaBB/creditor-email-matcher/pkg/notify"
	"github.com/justLukaBB/creditor-email-matcher/pkg/outbox"
	"github.com/justLukaBB/creditor-email-matcher/pkg/prompts"
	"github.com/justLukaBB/creditor-email-matcher/pkg/queue"
	"github.com/justLukaBB/creditor-email-matcher/pkg/review"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/httpclient"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/doc"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/kv"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
	"github.com/justLukaBB/creditor-email-matcher/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	workerToken := flag.String("worker-token", os.Getenv("HOSTNAME"), "identifier this instance stamps on claimed jobs")
	flag.Parse()

	logger, err := buildLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	store, err := rdb.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	redisStore := kv.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisStore.Close()

	dispatchQueue := queue.NewRedisQueue(redisStore.Client())

	jobRepo := jobs.NewRepository(store, dispatchQueue, logger)
	reviewRepo := review.NewRepository(store, logger)
	promptRegistry := prompts.NewRegistry(store.DB, logger)
	metricsStore := prompts.NewMetricsStore(store.DB, logger)

	vendor := llmvendor.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Timeout.Duration(), logger)
	dailyBreaker := extraction.NewDailyCostBreaker(redisStore, cfg.Budget.DailyCostCapUSD, cfg.Budget.DailyCostTTL.Duration())

	docClient := doc.NewRESTClient(httpclient.DocStoreClientConfig(cfg.LLM.Timeout.Duration()), cfg.LLM.Endpoint, logger)
	outboxStore := outbox.NewStore(store, docClient, logger)

	intentAgent := agents.NewIntentAgent(vendor, promptRegistry, cfg.LLM.CheapModel)
	scannedPDF := extraction.NewScannedPDFExtractor(vendor, promptRegistry, cfg.LLM.Model, dailyBreaker,
		cfg.Budget.PricePerThousandIn, cfg.Budget.PricePerThousandOut)
	rasterizer := extraction.NewHTTPRasterizer(
		httpclient.NewClient(httpclient.RasterizerClientConfig(cfg.Rasterizer.Timeout.Duration())), cfg.Rasterizer.Endpoint)
	orchestrator := agents.NewExtractionOrchestrator(
		extraction.NewBodyExtractor(),
		extraction.NewNativePDFExtractor(cfg.Budget.MaxPages),
		scannedPDF,
		extraction.NewDOCXExtractor(),
		extraction.NewXLSXExtractor(),
		extraction.NewImageExtractor(scannedPDF),
		rasterizer,
		dailyBreaker,
		logger,
	)
	consolidator := agents.NewConsolidatorAgent(matching.NewStub(), docClient, confidence.Thresholds{
		High: cfg.Routing.HighThreshold, Low: cfg.Routing.LowThreshold,
	})
	pipeline := agents.NewPipeline(intentAgent, orchestrator, consolidator, jobRepo, logger)

	fetcher := worker.NewHTTPAttachmentFetcher(httpclient.NewClient(httpclient.DefaultClientConfig()), cfg.Budget.MaxAttachmentSize)
	notifier := notify.NewSMTPNotifier(cfg.Notification.SMTPHost, cfg.Notification.SMTPPort, cfg.Notification.AdminEmail, "noreply@creditor-email-matcher", logger)

	dispatcher := worker.NewDispatcher(worker.Config{
		Concurrency:      cfg.Worker.Concurrency,
		MaxRetries:       cfg.Worker.MaxRetries,
		BackoffMin:       cfg.Worker.BackoffMin.Duration(),
		BackoffMax:       cfg.Worker.BackoffMax.Duration(),
		MemoryEnvelopeMB: cfg.Worker.MemoryEnvelopeMB,
	}, jobRepo, dispatchQueue, outboxStore, reviewRepo, pipeline, fetcher, notifier,
		cfg.Budget.TokenCapPerJob, cfg.Budget.TokenWarnFraction, *workerToken, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatcher.Run(ctx)
	go runOutboxProcessor(ctx, outboxStore, logger)
	go runReconciliationLoop(ctx, outboxStore, cfg.Reconciliation.Interval.Duration(), cfg.Reconciliation.Window.Duration(), logger)
	go runDailyRollup(ctx, metricsStore, logger)

	logger.Info("worker-service started", zap.String("worker_token", *workerToken))
	<-ctx.Done()
	logger.Info("worker-service shutting down")
}

func runOutboxProcessor(ctx context.Context, store *outbox.Store, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.ProcessPending(ctx, 50); err != nil {
				logger.Error("outbox processing failed", zap.Error(err))
			}
		}
	}
}

func runReconciliationLoop(ctx context.Context, store *outbox.Store, interval, window time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := store.Reconcile(ctx, window)
			if err != nil {
				logger.Error("reconciliation run failed", zap.Error(err))
				continue
			}
			logger.Info("reconciliation run completed",
				zap.Int("mismatches_found", report.MismatchesFound),
				zap.Int("auto_repaired", report.AutoRepaired),
				zap.Int("failed_repairs", report.FailedRepairs))
		}
	}
}

func runDailyRollup(ctx context.Context, store *prompts.MetricsStore, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.RollupDaily(ctx, time.Now().Add(-24*time.Hour)); err != nil {
				logger.Error("prompt daily rollup failed", zap.Error(err))
			}
		}
	}
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
