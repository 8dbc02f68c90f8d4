// Package jobs implements the IncomingJob state machine (§4.C): creation,
// enqueue, claim, completion, and manual retry, grounded on the teacher's
// repository pattern (pkg/datastorage) of a struct wrapping *sqlx.DB plus a
// *zap.Logger, one method per operation.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/queue"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
)

// ErrIllegalTransition is returned when Complete or ManualRetry is asked to
// move a job along an edge models.CanTransition rejects.
var ErrIllegalTransition = fmt.Errorf("illegal job status transition")

// ErrDuplicateWebhookDelivery is returned by Create when the webhook_id
// unique index rejects an insert because this delivery was already
// recorded (§4.E at-least-once webhook retry). The caller's existing row is
// returned alongside this error so the handler can still answer the
// idempotent "duplicate" envelope with the original job id.
var ErrDuplicateWebhookDelivery = fmt.Errorf("duplicate webhook delivery")

type Repository struct {
	store  *rdb.Store
	queue  queue.Queue
	logger *zap.Logger
}

func NewRepository(store *rdb.Store, q queue.Queue, logger *zap.Logger) *Repository {
	return &Repository{store: store, queue: q, logger: logger}
}

// Create inserts a new IncomingJob in RECEIVED status. A second delivery of
// the same WebhookID (the webhook's at-least-once retry, §4.E) collides with
// the unique index on webhook_id; Create classifies that collision and
// short-circuits to the already-stored row instead of surfacing a generic
// database error (§7).
func (r *Repository) Create(ctx context.Context, j models.IncomingJob) (*models.IncomingJob, error) {
	j.ID = uuid.NewString()
	j.ReceivedAt = time.Now().UTC()
	j.ProcessingStatus = models.StatusReceived
	if err := j.Validate(); err != nil {
		return nil, err
	}

	headers, err := json.Marshal(j.Headers)
	if err != nil {
		return nil, apperrors.ParseError("headers", "json", err)
	}
	attachments, err := json.Marshal(j.Attachments)
	if err != nil {
		return nil, apperrors.ParseError("attachments", "json", err)
	}

	_, err = r.store.DB.ExecContext(ctx, `
		INSERT INTO incoming_jobs
			(id, webhook_id, ticket_id, from_email, subject, body_text, body_html,
			 headers, attachments, received_at, retry_count, processing_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11)`,
		j.ID, j.WebhookID, j.TicketID, j.FromEmail, j.Subject, j.BodyText, j.BodyHTML,
		headers, attachments, j.ReceivedAt, j.ProcessingStatus)
	if err != nil {
		if apperrors.IsUniqueViolation(err) {
			existing, getErr := r.GetByWebhookID(ctx, j.WebhookID)
			if getErr != nil {
				return nil, apperrors.ConstraintViolationError("create incoming job", "idx_incoming_jobs_webhook_id", err)
			}
			return existing, ErrDuplicateWebhookDelivery
		}
		return nil, apperrors.DatabaseError("create incoming job", err)
	}

	r.logger.Info("job created", logging.JobFields("create", j.ID).ToZap()...)
	return &j, nil
}

// GetByWebhookID fetches the IncomingJob created for a given webhook
// delivery id, the lookup Create falls back to on a duplicate delivery.
func (r *Repository) GetByWebhookID(ctx context.Context, webhookID string) (*models.IncomingJob, error) {
	var j models.IncomingJob
	err := r.store.DB.GetContext(ctx, &j, `SELECT * FROM incoming_jobs WHERE webhook_id = $1`, webhookID)
	if err != nil {
		return nil, apperrors.DatabaseError("get job by webhook id", err)
	}
	return &j, nil
}

// Enqueue transitions RECEIVED -> QUEUED and schedules the job onto the
// dispatch queue, the handoff point from the webhook ingestor to the worker
// pool. The queue write happens inside the same transaction, before the
// status UPDATE, so that a queue failure rolls back the transition (nothing
// was ever written) and a queue success always happens-before the commit any
// observer of the QUEUED status can see (§4.C).
func (r *Repository) Enqueue(ctx context.Context, jobID string) error {
	return r.transition(ctx, jobID, models.StatusReceived, models.StatusQueued, true)
}

// ManualRetry transitions FAILED -> QUEUED, the single permitted backward
// edge of the state machine (§8 I5): clears the processing error, increments
// retry_count, and re-enqueues.
func (r *Repository) ManualRetry(ctx context.Context, jobID string) error {
	return r.store.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var current models.ProcessingStatus
		if err := tx.GetContext(ctx, &current, `SELECT processing_status FROM incoming_jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
			if err == sql.ErrNoRows {
				return apperrors.FailedToWithDetails("manual retry", "jobs", jobID, fmt.Errorf("job not found"))
			}
			return apperrors.DatabaseError("lock job for manual retry", err)
		}
		if !models.CanTransition(current, models.StatusQueued) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, models.StatusQueued)
		}
		if err := r.queue.Enqueue(ctx, jobID); err != nil {
			return apperrors.Wrapf(err, "enqueue job for manual retry")
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE incoming_jobs SET processing_status = $1, processing_error = '', started_at = NULL, completed_at = NULL, retry_count = retry_count + 1
			WHERE id = $2`, models.StatusQueued, jobID)
		if err != nil {
			return apperrors.DatabaseError("manual retry update", err)
		}
		return nil
	})
}

func (r *Repository) transition(ctx context.Context, jobID string, from, to models.ProcessingStatus, viaQueue bool) error {
	return r.store.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var current models.ProcessingStatus
		if err := tx.GetContext(ctx, &current, `SELECT processing_status FROM incoming_jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
			return apperrors.DatabaseError("lock job for transition", err)
		}
		if current != from || !models.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, to)
		}
		if viaQueue {
			if err := r.queue.Enqueue(ctx, jobID); err != nil {
				return apperrors.Wrapf(err, "enqueue job")
			}
		}
		_, err := tx.ExecContext(ctx, `UPDATE incoming_jobs SET processing_status = $1 WHERE id = $2`, to, jobID)
		if err != nil {
			return apperrors.DatabaseError("transition update", err)
		}
		return nil
	})
}

// ClaimByID locks a single QUEUED job FOR UPDATE SKIP LOCKED and marks it
// PROCESSING with a fresh WorkerToken. The dispatcher calls this after
// popping a message from the queue, so two dispatcher instances that somehow
// dequeued the same job id never both run its pipeline. Returns (nil, nil)
// if the row is already claimed (SKIP LOCKED found nothing) or no longer
// QUEUED.
func (r *Repository) ClaimByID(ctx context.Context, jobID, workerToken string) (*models.IncomingJob, error) {
	var claimed *models.IncomingJob
	err := r.store.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var row models.IncomingJob
		err := tx.GetContext(ctx, &row, `
			SELECT * FROM incoming_jobs WHERE id = $1 AND processing_status = $2
			FOR UPDATE SKIP LOCKED`, jobID, models.StatusQueued)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return apperrors.DatabaseError("claim job by id", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE incoming_jobs SET processing_status = $1, started_at = $2, worker_token = $3 WHERE id = $4`,
			models.StatusProcessing, time.Now().UTC(), workerToken, row.ID)
		if err != nil {
			return apperrors.DatabaseError("mark job processing", err)
		}
		row.ProcessingStatus = models.StatusProcessing
		row.WorkerToken = workerToken
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete transitions PROCESSING -> a terminal status, persisting the
// consolidated extraction, match result, confidence, and route in one write.
func (r *Repository) Complete(ctx context.Context, jobID string, to models.ProcessingStatus, extracted, match map[string]interface{}, extractionConfidence, overallConfidence float64, route models.ConfidenceRoute, processingErr string) error {
	return r.store.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		return r.CompleteTx(ctx, tx, jobID, to, extracted, match, extractionConfidence, overallConfidence, route, processingErr)
	})
}

// CompleteTx is Complete's logic run against a caller-owned transaction, so
// the outbox's DualWrite can commit the RDB completion and the DOC-store
// effect atomically (§4.B).
func (r *Repository) CompleteTx(ctx context.Context, tx *sqlx.Tx, jobID string, to models.ProcessingStatus, extracted, match map[string]interface{}, extractionConfidence, overallConfidence float64, route models.ConfidenceRoute, processingErr string) error {
	var current models.ProcessingStatus
	if err := tx.GetContext(ctx, &current, `SELECT processing_status FROM incoming_jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
		return apperrors.DatabaseError("lock job for completion", err)
	}
	if current != models.StatusProcessing || !models.CanTransition(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, to)
	}

	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return apperrors.ParseError("extracted_data", "json", err)
	}
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return apperrors.ParseError("match_result", "json", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE incoming_jobs SET
			processing_status = $1, completed_at = $2, extracted_data = $3, match_result = $4,
			extraction_confidence = $5, overall_confidence = $6, confidence_route = $7, processing_error = $8
		WHERE id = $9`,
		to, time.Now().UTC(), extractedJSON, matchJSON, extractionConfidence, overallConfidence, route, processingErr, jobID)
	if err != nil {
		return apperrors.DatabaseError("complete job", err)
	}
	return nil
}

// RecordCheckpoint persists a per-agent checkpoint under the agent's name in
// the job's checkpoints column (§4.I); the pipeline reads these back when a
// job is retried.
func (r *Repository) RecordCheckpoint(ctx context.Context, jobID string, cp models.AgentCheckpoint) error {
	cp.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(cp)
	if err != nil {
		return apperrors.ParseError("checkpoint", "json", err)
	}
	_, err = r.store.DB.ExecContext(ctx, `
		UPDATE incoming_jobs SET checkpoints = jsonb_set(COALESCE(checkpoints, '{}'::jsonb), $1, $2::jsonb, true)
		WHERE id = $3`, fmt.Sprintf("{%s}", cp.Agent), string(payload), jobID)
	if err != nil {
		return apperrors.DatabaseError("record checkpoint", err)
	}
	return nil
}

// IncrementRetry bumps retry_count; the dispatcher calls this before
// returning a job to QUEUED after a transient failure.
func (r *Repository) IncrementRetry(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.store.DB.GetContext(ctx, &count, `
		UPDATE incoming_jobs SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`, jobID)
	if err != nil {
		return 0, apperrors.DatabaseError("increment retry count", err)
	}
	return count, nil
}

// Get fetches a single job by id.
func (r *Repository) Get(ctx context.Context, jobID string) (*models.IncomingJob, error) {
	var j models.IncomingJob
	err := r.store.DB.GetContext(ctx, &j, `SELECT * FROM incoming_jobs WHERE id = $1`, jobID)
	if err == sql.ErrNoRows {
		return nil, apperrors.FailedToWithDetails("get job", "jobs", jobID, fmt.Errorf("not found"))
	}
	if err != nil {
		return nil, apperrors.DatabaseError("get job", err)
	}
	return &j, nil
}

// List returns jobs matching an optional status filter, newest first.
func (r *Repository) List(ctx context.Context, status models.ProcessingStatus, limit, offset int) ([]models.IncomingJob, error) {
	var jobs []models.IncomingJob
	var err error
	if status == "" {
		err = r.store.DB.SelectContext(ctx, &jobs, `
			SELECT * FROM incoming_jobs ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		err = r.store.DB.SelectContext(ctx, &jobs, `
			SELECT * FROM incoming_jobs WHERE processing_status = $1 ORDER BY received_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
	}
	if err != nil {
		return nil, apperrors.DatabaseError("list jobs", err)
	}
	return jobs, nil
}
