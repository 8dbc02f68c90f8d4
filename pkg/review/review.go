// Package review implements the manual review queue and calibration sample
// capture of §4.J / §3.1: enqueue on MANUAL_REVIEW, claim/resolve by a
// human reviewer, and deriving a CalibrationSample from each useful
// resolution, grounded on the teacher's repository pattern.
package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/rdb"
)

// ErrAlreadyClaimed signals a claim attempt on an item another reviewer
// already holds.
var ErrAlreadyClaimed = fmt.Errorf("review item already claimed")

type Repository struct {
	store  *rdb.Store
	logger *zap.Logger
}

func NewRepository(store *rdb.Store, logger *zap.Logger) *Repository {
	return &Repository{store: store, logger: logger}
}

// Enqueue records a ManualReviewItem for a job that confidence routing sent
// to MANUAL_REVIEW. At most one unresolved item may exist per job id (§3.1):
// a duplicate enqueue for a job already awaiting review returns the existing
// item instead of inserting a second one.
func (r *Repository) Enqueue(ctx context.Context, item models.ManualReviewItem) (*models.ManualReviewItem, error) {
	var existing models.ManualReviewItem
	err := r.store.DB.GetContext(ctx, &existing, `
		SELECT * FROM manual_review_items WHERE job_id = $1 AND resolved_at IS NULL
		ORDER BY created_at ASC LIMIT 1`, item.JobID)
	if err == nil {
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, apperrors.DatabaseError("check for existing manual review item", err)
	}

	item.ID = uuid.NewString()
	item.CreatedAt = time.Now().UTC()
	if item.Priority == 0 {
		item.Priority = 5
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}

	_, err = r.store.DB.ExecContext(ctx, `
		INSERT INTO manual_review_items (id, job_id, reason, priority, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		item.ID, item.JobID, item.Reason, item.Priority, item.Details, item.CreatedAt)
	if err != nil {
		return nil, apperrors.DatabaseError("enqueue manual review item", err)
	}
	return &item, nil
}

// Claim assigns the oldest unclaimed, highest-priority item to reviewer.
func (r *Repository) Claim(ctx context.Context, reviewer string) (*models.ManualReviewItem, error) {
	var item models.ManualReviewItem
	err := r.store.DB.GetContext(ctx, &item, `
		SELECT * FROM manual_review_items
		WHERE claimed_at IS NULL AND resolved_at IS NULL
		ORDER BY priority DESC, created_at ASC
		LIMIT 1 FOR UPDATE SKIP LOCKED`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseError("claim manual review item", err)
	}

	now := time.Now().UTC()
	_, err = r.store.DB.ExecContext(ctx, `
		UPDATE manual_review_items SET claimed_at = $1, claimed_by = $2 WHERE id = $3`,
		now, reviewer, item.ID)
	if err != nil {
		return nil, apperrors.DatabaseError("mark manual review item claimed", err)
	}
	item.ClaimedAt = &now
	item.ClaimedBy = reviewer
	return &item, nil
}

// Resolve records a reviewer's resolution and, when the resolution carries a
// usable label, captures a CalibrationSample (§3.1 DeriveWasCorrect).
func (r *Repository) Resolve(ctx context.Context, itemID string, resolution models.ReviewResolution, correctedData []byte, predicted map[string]float64, bucket models.ConfidenceBucket, docType models.DocumentType) error {
	now := time.Now().UTC()
	if resolution == models.ResolutionCorrected && correctedData == nil {
		return fmt.Errorf("corrected_data is required for resolution=corrected")
	}

	_, err := r.store.DB.ExecContext(ctx, `
		UPDATE manual_review_items SET resolved_at = $1, resolution = $2, corrected_data = $3 WHERE id = $4`,
		now, resolution, correctedData, itemID)
	if err != nil {
		return apperrors.DatabaseError("resolve manual review item", err)
	}

	wasCorrect, capturable := models.DeriveWasCorrect(resolution)
	if !capturable {
		return nil
	}

	var jobID string
	if err := r.store.DB.GetContext(ctx, &jobID, `SELECT job_id FROM manual_review_items WHERE id = $1`, itemID); err != nil {
		return apperrors.DatabaseError("look up job for calibration sample", err)
	}

	var correctionType models.CorrectionType
	var details json.RawMessage
	if resolution == models.ResolutionCorrected {
		correctionType = models.CorrectionMultiple
		details = correctedData
	}

	sample := models.CalibrationSample{
		ID:                  uuid.NewString(),
		JobID:               jobID,
		PredictedDimensions: predicted,
		OverallBucket:       bucket,
		DocumentType:        docType,
		WasCorrect:          wasCorrect,
		CorrectionType:      correctionType,
		CapturedAt:          now,
	}
	predictedJSON, err := json.Marshal(sample.PredictedDimensions)
	if err != nil {
		return apperrors.ParseError("predicted_dimensions", "json", err)
	}

	_, err = r.store.DB.ExecContext(ctx, `
		INSERT INTO calibration_samples
			(id, job_id, predicted_dimensions, overall_bucket, document_type, was_correct, correction_type, correction_details, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sample.ID, sample.JobID, predictedJSON, sample.OverallBucket, sample.DocumentType,
		sample.WasCorrect, sample.CorrectionType, []byte(details), sample.CapturedAt)
	if err != nil {
		return apperrors.DatabaseError("capture calibration sample", err)
	}
	return nil
}
