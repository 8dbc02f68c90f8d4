// Command webhook-service runs the ingest HTTP surface of §4.E: it accepts
// webhook payloads, creates and enqueues IncomingJobs, and exposes the
// operational REST surface of §6. Extraction and consolidation run in the
// separate worker-service process.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/internal/config"
	"github.com/justLukaBB/creditor-email-matcher/pkg/api"
	"github.com/justLukaBB/creditor-email-matcher/pkg/ingest"
	"github.com/justLukaBB/creditor-email-matcher/pkg/jobs"
	"github.com/justLukaBB/creditor-email-matcher/pkg/outbox"
	"github.com/justLukaBB/creditor-email-matcher/pkg/queue"
	"github.com/justLukaBB/creditor-email-matcher/pkg/review"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/httpclient"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/doc"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/kv"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
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
	docClient := doc.NewRESTClient(httpclient.DocStoreClientConfig(cfg.LLM.Timeout.Duration()), cfg.LLM.Endpoint, logger)
	outboxStore := outbox.NewStore(store, docClient, logger)

	handler := ingest.NewHandler(jobRepo, logger)
	apiServer := api.NewServer(jobRepo, reviewRepo, outboxStore, logger)

	mux := http.NewServeMux()
	mux.Handle("/webhook", handler)
	mux.Handle("/", apiServer.Router())

	srv := &http.Server{
		Addr:         ":" + cfg.Server.WebhookPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("webhook-service listening", zap.String("port", cfg.Server.WebhookPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("webhook-service crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("webhook-service shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
