// Package worker implements the dispatch loop of §4.D: dequeues QUEUED jobs
// from the bounded-rate queue, runs the three-agent pipeline, dual-writes
// completed jobs through the transactional outbox or enqueues them for
// manual review depending on the confidence route, and applies exponential
// backoff with jitter via explicit Nack on transient failure, grounded on
// the teacher's worker-pool pattern (bounded concurrency semaphore over a
// dequeue loop).
package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/justLukaBB/creditor-email-matcher/pkg/agents"
	"github.com/justLukaBB/creditor-email-matcher/pkg/confidence"
	"github.com/justLukaBB/creditor-email-matcher/pkg/extraction"
	"github.com/justLukaBB/creditor-email-matcher/pkg/jobs"
	"github.com/justLukaBB/creditor-email-matcher/pkg/metrics"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/outbox"
	"github.com/justLukaBB/creditor-email-matcher/pkg/queue"
	"github.com/justLukaBB/creditor-email-matcher/pkg/review"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

// AttachmentFetcher resolves a job's attachment descriptors to bytes; the
// object-store fetch itself is an external collaborator (§6).
type AttachmentFetcher interface {
	Fetch(ctx context.Context, descriptors []models.AttachmentDescriptor) ([]agents.Attachment, error)
}

// FailureNotifier is invoked once a job's retries are exhausted (§4.D
// permanent-failure hook); the concrete implementation lives in pkg/notify.
type FailureNotifier interface {
	NotifyPermanentFailure(ctx context.Context, job models.IncomingJob, cause error) error
}

// Config tunes the dispatch loop, mirroring internal/config.WorkerConfig.
type Config struct {
	Concurrency      int
	MaxRetries       int
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	MemoryEnvelopeMB int
}

// Dispatcher dequeues and processes jobs with bounded concurrency.
type Dispatcher struct {
	cfg         Config
	repo        *jobs.Repository
	queue       queue.Queue
	outbox      *outbox.Store
	review      *review.Repository
	pipeline    *agents.Pipeline
	fetcher     AttachmentFetcher
	notifier    FailureNotifier
	tokenCap    int
	warnFrac    float64
	logger      *zap.Logger
	sem         *semaphore.Weighted
	workerToken string
}

func NewDispatcher(
	cfg Config,
	repo *jobs.Repository,
	q queue.Queue,
	outboxStore *outbox.Store,
	reviewRepo *review.Repository,
	pipeline *agents.Pipeline,
	fetcher AttachmentFetcher,
	notifier FailureNotifier,
	tokenCap int,
	warnFrac float64,
	workerToken string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg: cfg, repo: repo, queue: q, outbox: outboxStore, review: reviewRepo,
		pipeline: pipeline, fetcher: fetcher, notifier: notifier,
		tokenCap: tokenCap, warnFrac: warnFrac, workerToken: workerToken, logger: logger,
		sem: semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run dequeues messages until ctx is cancelled, dispatching each to its own
// goroutine bounded by the concurrency semaphore. A queue with nothing ready
// returns (nil, nil) from Dequeue; Run backs off briefly rather than
// busy-spinning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.overMemoryEnvelope() {
			d.logger.Warn("pausing dequeue, memory envelope exceeded", logging.NewFields().Component("worker").ToZap()...)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		msg, err := d.queue.Dequeue(ctx)
		if err != nil {
			d.logger.Error("dequeue failed", logging.NewFields().Component("worker").Error(err).ToZap()...)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		if msg == nil {
			if !sleepCtx(ctx, 250*time.Millisecond) {
				return
			}
			continue
		}

		msg := *msg
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func() {
			defer d.sem.Release(1)
			d.dispatch(ctx, msg)
		}()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// overMemoryEnvelope reports whether the process has exceeded its
// configured heap budget, the signal to pause claiming new jobs rather than
// let memory grow unbounded under a burst (§4.D memory discipline).
func (d *Dispatcher) overMemoryEnvelope() bool {
	if d.cfg.MemoryEnvelopeMB <= 0 {
		return false
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc/(1024*1024) >= uint64(d.cfg.MemoryEnvelopeMB)
}

// dispatch claims the dequeued job by id, guarding against a message that
// outran its row (already claimed by a prior attempt, or no longer QUEUED),
// then runs the pipeline and resolves the message with exactly one of Ack or
// Nack.
func (d *Dispatcher) dispatch(ctx context.Context, msg queue.Message) {
	job, err := d.repo.ClaimByID(ctx, msg.JobID, d.workerToken)
	if err != nil {
		d.logger.Error("claim failed", logging.JobFields("claim", msg.JobID).Error(err).ToZap()...)
		_ = d.queue.Nack(ctx, msg, d.cfg.BackoffMin)
		return
	}
	if job == nil {
		// Already claimed by another dispatcher, or no longer QUEUED
		// (manual retry superseded it); this message is stale.
		_ = d.queue.Ack(ctx, msg)
		return
	}

	if d.process(ctx, *job) {
		_ = d.queue.Ack(ctx, msg)
		return
	}
	_ = d.queue.Nack(ctx, msg, backoffWithJitter(msg.Attempt+1, d.cfg.BackoffMin, d.cfg.BackoffMax))
}

// process runs the three-agent pipeline for one claimed job and persists its
// outcome. It returns true when the message should be Acked (a terminal
// outcome was reached, however it classifies) and false when it should be
// Nacked for another attempt.
func (d *Dispatcher) process(ctx context.Context, job models.IncomingJob) bool {
	start := time.Now()
	fields := logging.JobFields("process", job.ID)

	attachments, err := d.fetcher.Fetch(ctx, job.Attachments)
	if err != nil {
		return d.handleFailure(ctx, job, apperrors.NetworkError("fetch attachments", job.ID, err))
	}

	budget := extraction.NewJobBudget(d.tokenCap, d.warnFrac)
	outcome, err := d.pipeline.Run(ctx, job, attachments, budget)
	if err != nil {
		return d.handleFailure(ctx, job, err)
	}

	if outcome.NotCreditorReply {
		if err := d.repo.Complete(ctx, job.ID, models.StatusNotCreditorReply, nil, nil, outcome.Intent.Confidence, outcome.Intent.Confidence, "", ""); err != nil {
			return d.handleFailure(ctx, job, err)
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(models.StatusNotCreditorReply), "").Inc()
		metrics.JobProcessingSeconds.WithLabelValues(string(models.StatusNotCreditorReply)).Observe(time.Since(start).Seconds())
		d.logger.Info("job classified as non-creditor-reply", fields.Duration(time.Since(start)).ToZap()...)
		return true
	}

	c := outcome.Consolidation
	switch c.Route {
	case confidence.ActionAutoUpdate, confidence.ActionUpdateAndNotify:
		if err := d.completeAndDualWrite(ctx, job, c); err != nil {
			return d.handleFailure(ctx, job, err)
		}
	case confidence.ActionManualReview:
		if err := d.enqueueForReview(ctx, job, c); err != nil {
			return d.handleFailure(ctx, job, err)
		}
	default:
		return d.handleFailure(ctx, job, fmt.Errorf("unrecognized confidence route %q", c.Route))
	}

	metrics.JobsProcessedTotal.WithLabelValues(string(models.StatusCompleted), string(c.Route)).Inc()
	metrics.JobProcessingSeconds.WithLabelValues(string(models.StatusCompleted)).Observe(time.Since(start).Seconds())
	d.logger.Info("job completed", fields.Duration(time.Since(start)).
		Custom("route", string(c.Route)).Custom("overall_confidence", c.Aggregate.Overall).ToZap()...)
	return true
}

// completeAndDualWrite commits the RDB completion and the DOC-store debt
// upsert as one outbox transaction (§4.B): AUTO_UPDATE and UPDATE_AND_NOTIFY
// both dual-write the same way, and the route is stored on the job. No
// review notification is sent for either route; the dispatcher holds no
// Slack notifier.
func (d *Dispatcher) completeAndDualWrite(ctx context.Context, job models.IncomingJob, c *agents.ConsolidationOutcome) error {
	extractedMap := map[string]interface{}{
		"final_amount":  c.Consolidated.FinalAmount.String(),
		"client_name":   c.Consolidated.ClientName,
		"creditor_name": c.Consolidated.CreditorName,
	}
	matchMap := map[string]interface{}{"route": string(c.Route)}

	payload := map[string]interface{}{
		"ticket_id":     job.TicketID,
		"client_name":   c.Consolidated.ClientName,
		"creditor_name": c.Consolidated.CreditorName,
		"amount":        c.Consolidated.FinalAmount.String(),
	}

	return d.outbox.DualWrite(ctx, "debt", job.TicketID, "upsert", payload, d.cfg.MaxRetries, func(tx *sqlx.Tx) error {
		return d.repo.CompleteTx(ctx, tx, job.ID, models.StatusCompleted, extractedMap, matchMap,
			c.Consolidated.OverallConfidence, c.Aggregate.Overall, models.ConfidenceRoute(c.Route), "")
	})
}

// enqueueForReview records the job as needing human review instead of
// writing to DOC (§4.J MANUAL_REVIEW never auto-applies) and marks the job
// completed in RDB with its route so it shows up correctly in listings.
func (d *Dispatcher) enqueueForReview(ctx context.Context, job models.IncomingJob, c *agents.ConsolidationOutcome) error {
	extractedMap := map[string]interface{}{
		"final_amount":  c.Consolidated.FinalAmount.String(),
		"client_name":   c.Consolidated.ClientName,
		"creditor_name": c.Consolidated.CreditorName,
	}
	matchMap := map[string]interface{}{"route": string(c.Route)}
	if err := d.repo.Complete(ctx, job.ID, models.StatusCompleted, extractedMap, matchMap,
		c.Consolidated.OverallConfidence, c.Aggregate.Overall, models.ConfidenceRoute(c.Route), ""); err != nil {
		return err
	}

	_, err := d.review.Enqueue(ctx, models.ManualReviewItem{
		JobID:  job.ID,
		Reason: confidence.ReviewReasonFor(c.HasConflicts),
	})
	return err
}

// handleFailure classifies a processing error as retryable or terminal
// (§4.D) and returns whether the caller should Ack (terminal) or Nack
// (retry) the in-flight queue message.
func (d *Dispatcher) handleFailure(ctx context.Context, job models.IncomingJob, cause error) bool {
	fields := logging.JobFields("process_failed", job.ID).Error(cause)

	if !apperrors.IsRetryable(cause) || job.RetryCount+1 >= d.cfg.MaxRetries {
		if err := d.repo.Complete(ctx, job.ID, models.StatusFailed, nil, nil, 0, 0, "", cause.Error()); err != nil {
			d.logger.Error("failed to mark job failed", fields.ToZap()...)
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(models.StatusFailed), "").Inc()
		if err := d.notifier.NotifyPermanentFailure(ctx, job, cause); err != nil {
			d.logger.Error("permanent failure notification failed", fields.Error(err).ToZap()...)
		}
		return true
	}

	if _, err := d.repo.IncrementRetry(ctx, job.ID); err != nil {
		d.logger.Error("failed to increment retry count", fields.ToZap()...)
		return false
	}
	if err := d.repo.Complete(ctx, job.ID, models.StatusFailed, nil, nil, 0, 0, "", cause.Error()); err != nil {
		d.logger.Error("failed to mark job failed before retry", fields.ToZap()...)
		return false
	}

	metrics.JobsRetriedTotal.WithLabelValues().Inc()
	d.logger.Warn("job failed transiently, will retry", fields.ToZap()...)
	return false
}

// backoffWithJitter computes min(backoffMax, backoffMin * 2^(attempt-1)) with
// full jitter, so many simultaneously-failing jobs don't retry in lockstep.
func backoffWithJitter(attempt int, backoffMin, backoffMax time.Duration) time.Duration {
	exp := float64(backoffMin) * math.Pow(2, float64(attempt-1))
	capped := math.Min(exp, float64(backoffMax))
	return time.Duration(rand.Float64() * capped)
}
