// Package outbox implements the transactional outbox / dual-write saga of
// §4.B: a write to the RDB and the corresponding DOC-store effect are
// committed as one local transaction (RDB row + outbox row), and a
// background processor delivers the DOC effect at-least-once, keyed by an
// idempotency key so retries converge to a single applied effect (§8 I1).
package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/metrics"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/doc"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
)

// Store owns the outbox table and drives delivery against a doc.Client.
type Store struct {
	rdb    *rdb.Store
	doc    doc.Client
	logger *zap.Logger
}

func NewStore(r *rdb.Store, d doc.Client, logger *zap.Logger) *Store {
	return &Store{rdb: r, doc: d, logger: logger}
}

// IdempotencyKeyFor derives a stable key from the aggregate and operation so
// the same logical write always produces the same key even if retried with a
// freshly generated outbox row id (§3.1).
func IdempotencyKeyFor(aggregateType, aggregateID, operation string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(aggregateType))
	h.Write([]byte(aggregateID))
	h.Write([]byte(operation))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// DualWrite runs writeRDB and enqueues the corresponding DOC effect in one
// local transaction. writeRDB must use the given *sqlx.Tx, never s.rdb.DB.
func (s *Store) DualWrite(ctx context.Context, aggregateType, aggregateID, operation string, payload interface{}, maxRetries int, writeRDB func(tx *sqlx.Tx) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.ParseError("outbox payload", "json", err)
	}
	key := IdempotencyKeyFor(aggregateType, aggregateID, operation, body)

	return s.rdb.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := writeRDB(tx); err != nil {
			return err
		}

		var existing int
		if err := tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM idempotency_records WHERE key = $1`, key); err != nil {
			return apperrors.DatabaseError("check idempotency record", err)
		}
		if existing > 0 {
			s.logger.Info("dual-write skipped, idempotency key already seen", logging.NewFields().Custom("idempotency_key", key).ToZap()...)
			return nil
		}

		msg := models.OutboxMessage{
			ID:             uuid.NewString(),
			AggregateType:  aggregateType,
			AggregateID:    aggregateID,
			Operation:      operation,
			Payload:        body,
			IdempotencyKey: key,
			CreatedAt:      time.Now().UTC(),
			MaxRetries:     maxRetries,
			Status:         models.OutboxPending,
		}
		if err := msg.Validate(); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_messages
				(id, aggregate_type, aggregate_id, operation, payload, idempotency_key, created_at, retry_count, max_retries, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9)`,
			msg.ID, msg.AggregateType, msg.AggregateID, msg.Operation, msg.Payload, msg.IdempotencyKey,
			msg.CreatedAt, msg.MaxRetries, msg.Status)
		if err != nil {
			return apperrors.DatabaseError("insert outbox message", err)
		}
		return nil
	})
}

// ProcessPending claims up to limit pending outbox messages and delivers
// each to the DOC store, advancing pending -> processing -> processed/failed
// (§4.B). It returns the count successfully processed.
func (s *Store) ProcessPending(ctx context.Context, limit int) (int, error) {
	var claimed []models.OutboxMessage
	err := s.rdb.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := rdb.ClaimRows(ctx, tx, &claimed, "outbox_messages",
			"status = $1", "created_at", limit, models.OutboxPending); err != nil {
			return err
		}
		for _, m := range claimed {
			if _, err := tx.ExecContext(ctx, `UPDATE outbox_messages SET status = $1 WHERE id = $2`,
				models.OutboxProcessing, m.ID); err != nil {
				return apperrors.DatabaseError("mark outbox message processing", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, m := range claimed {
		if err := s.deliver(ctx, m); err != nil {
			s.logger.Warn("outbox delivery failed", logging.OutboxFields("deliver", m.ID).Error(err).ToZap()...)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Store) deliver(ctx context.Context, m models.OutboxMessage) error {
	result, deliverErr := s.doc.Apply(ctx, doc.Effect{
		AggregateType:  m.AggregateType,
		AggregateID:    m.AggregateID,
		Operation:      m.Operation,
		Payload:        m.Payload,
		IdempotencyKey: m.IdempotencyKey,
	})

	now := time.Now().UTC()
	if deliverErr == nil {
		_, err := s.rdb.DB.ExecContext(ctx, `
			UPDATE outbox_messages SET status = $1, processed_at = $2 WHERE id = $3`,
			models.OutboxProcessed, now, m.ID)
		if err != nil {
			return apperrors.DatabaseError("mark outbox message processed", err)
		}
		_, err = s.rdb.DB.ExecContext(ctx, `
			INSERT INTO idempotency_records (key, result, created_at, expires_at)
			VALUES ($1,$2,$3,$4) ON CONFLICT (key) DO NOTHING`,
			m.IdempotencyKey, result, now, now.Add(30*24*time.Hour))
		if err != nil {
			return apperrors.DatabaseError("record idempotency result", err)
		}
		metrics.OutboxDeliveredTotal.WithLabelValues().Inc()
		return nil
	}

	newStatus := models.OutboxPending
	if m.RetryCount+1 >= m.MaxRetries {
		newStatus = models.OutboxFailed
	}
	_, err := s.rdb.DB.ExecContext(ctx, `
		UPDATE outbox_messages SET status = $1, retry_count = retry_count + 1, last_error = $2 WHERE id = $3`,
		newStatus, deliverErr.Error(), m.ID)
	if err != nil {
		return apperrors.DatabaseError("record outbox delivery failure", err)
	}
	if newStatus == models.OutboxFailed {
		metrics.OutboxFailedTotal.WithLabelValues().Inc()
	}
	return fmt.Errorf("deliver outbox message %s: %w", m.ID, deliverErr)
}

// idempotencyRetention is how long a processed outbox message and its
// idempotency record are kept once settled, before Reconcile's cleanup pass
// removes them (§4.B.3, §5).
const idempotencyRetention = 30 * 24 * time.Hour

// completedDebtRow is the subset of incoming_jobs Reconcile needs to compare
// an AUTO_UPDATE/UPDATE_AND_NOTIFY job's consolidated amount against its DOC
// record.
type completedDebtRow struct {
	TicketID     string `db:"ticket_id"`
	ClientName   string `db:"client_name"`
	CreditorName string `db:"creditor_name"`
	FinalAmount  string `db:"final_amount"`
}

// Reconcile runs the three §4.B.3/§5 sub-operations in one pass: retrying
// failed outbox messages, detecting and repairing RDB-vs-DOC drift for
// jobs dual-written within window, and cleaning up settled records past
// their retention window. It records one ReconciliationReport covering all
// three.
func (s *Store) Reconcile(ctx context.Context, window time.Duration) (*models.ReconciliationReport, error) {
	report := &models.ReconciliationReport{
		ID:    uuid.NewString(),
		RunAt: time.Now().UTC(),
	}

	if err := s.retryFailed(ctx, window, report); err != nil {
		report.Status = "error"
		report.ErrorMessage = err.Error()
		return report, err
	}
	if err := s.reconcileDrift(ctx, window, report); err != nil {
		s.logger.Warn("drift reconciliation pass failed", logging.NewFields().Error(err).ToZap()...)
	}
	if err := s.cleanupExpired(ctx); err != nil {
		s.logger.Warn("reconciliation cleanup pass failed", logging.NewFields().Error(err).ToZap()...)
	}

	completedAt := time.Now().UTC()
	report.CompletedAt = &completedAt
	report.Status = "completed"
	if report.FailedRepairs > 0 {
		report.Status = "completed_with_failures"
	}
	if report.MismatchesFound > 0 {
		metrics.ReconciliationMismatchesTotal.WithLabelValues().Add(float64(report.MismatchesFound))
	}

	_, err := s.rdb.DB.ExecContext(ctx, `
		INSERT INTO reconciliation_reports
			(id, run_at, completed_at, records_checked, mismatches_found, auto_repaired, failed_repairs, status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		report.ID, report.RunAt, report.CompletedAt, report.RecordsChecked, report.MismatchesFound,
		report.AutoRepaired, report.FailedRepairs, report.Status, report.ErrorMessage)
	if err != nil {
		return report, apperrors.DatabaseError("persist reconciliation report", err)
	}
	return report, nil
}

// retryFailed re-delivers outbox messages that exhausted their retries
// within window, the original Reconcile behavior.
func (s *Store) retryFailed(ctx context.Context, window time.Duration, report *models.ReconciliationReport) error {
	var failed []models.OutboxMessage
	cutoff := time.Now().UTC().Add(-window)
	if err := s.rdb.DB.SelectContext(ctx, &failed, `
		SELECT * FROM outbox_messages WHERE status = $1 AND created_at >= $2`, models.OutboxFailed, cutoff); err != nil {
		return apperrors.DatabaseError("select failed outbox messages for reconciliation", err)
	}
	report.RecordsChecked += len(failed)

	for _, m := range failed {
		report.MismatchesFound++
		if err := s.deliver(ctx, models.OutboxMessage{
			ID: m.ID, AggregateType: m.AggregateType, AggregateID: m.AggregateID,
			Operation: m.Operation, Payload: m.Payload, IdempotencyKey: m.IdempotencyKey,
			RetryCount: 0, MaxRetries: m.MaxRetries,
		}); err != nil {
			report.FailedRepairs++
			continue
		}
		report.AutoRepaired++
	}
	return nil
}

// reconcileDrift compares every AUTO_UPDATE/UPDATE_AND_NOTIFY job completed
// within window against its DOC-store debt record and re-applies the RDB
// value whenever they disagree, the case where the outbox delivered
// successfully but a later out-of-band DOC write clobbered it (§4.B.3).
func (s *Store) reconcileDrift(ctx context.Context, window time.Duration, report *models.ReconciliationReport) error {
	cutoff := time.Now().UTC().Add(-window)
	var rows []completedDebtRow
	err := s.rdb.DB.SelectContext(ctx, &rows, `
		SELECT ticket_id,
		       extracted_data->>'client_name'   AS client_name,
		       extracted_data->>'creditor_name' AS creditor_name,
		       extracted_data->>'final_amount'  AS final_amount
		FROM incoming_jobs
		WHERE confidence_route IN ($1, $2) AND completed_at >= $3 AND ticket_id <> ''`,
		models.RouteAutoUpdate, models.RouteUpdateAndNotify, cutoff)
	if err != nil {
		return apperrors.DatabaseError("select completed jobs for drift reconciliation", err)
	}
	report.RecordsChecked += len(rows)

	for _, row := range rows {
		body, ok, err := s.doc.Get(ctx, "debt", row.TicketID)
		if err != nil {
			report.MismatchesFound++
			report.FailedRepairs++
			continue
		}
		if ok && !driftDetected(row, body) {
			continue
		}

		report.MismatchesFound++
		payload, err := json.Marshal(doc.DebtRecord{
			TicketID: row.TicketID, ClientName: row.ClientName, CreditorName: row.CreditorName, Amount: row.FinalAmount,
		})
		if err != nil {
			report.FailedRepairs++
			continue
		}
		key := IdempotencyKeyFor("debt", row.TicketID, "reconcile", payload)
		if _, err := s.doc.Apply(ctx, doc.Effect{
			AggregateType: "debt", AggregateID: row.TicketID, Operation: "upsert",
			Payload: payload, IdempotencyKey: key,
		}); err != nil {
			report.FailedRepairs++
			continue
		}
		report.AutoRepaired++
	}
	return nil
}

// driftDetected reports whether the DOC store's current debt record
// disagrees with RDB's view of the same ticket.
func driftDetected(row completedDebtRow, docBody []byte) bool {
	var record doc.DebtRecord
	if err := json.Unmarshal(docBody, &record); err != nil {
		return true
	}
	return record.Amount != row.FinalAmount ||
		!strings.EqualFold(record.ClientName, row.ClientName) ||
		!strings.EqualFold(record.CreditorName, row.CreditorName)
}

// cleanupExpired deletes idempotency records past expires_at and settled
// outbox messages older than idempotencyRetention (§4.B.3, §5): processed
// messages whose idempotency record has already expired, and failed
// messages this pass has given up repairing.
func (s *Store) cleanupExpired(ctx context.Context) error {
	if _, err := s.rdb.DB.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, time.Now().UTC()); err != nil {
		return apperrors.DatabaseError("cleanup expired idempotency records", err)
	}

	cutoff := time.Now().UTC().Add(-idempotencyRetention)
	if _, err := s.rdb.DB.ExecContext(ctx, `
		DELETE FROM outbox_messages WHERE status IN ($1, $2) AND created_at < $3`,
		models.OutboxProcessed, models.OutboxFailed, cutoff); err != nil {
		return apperrors.DatabaseError("cleanup expired outbox messages", err)
	}
	return nil
}
