package models

import (
	"fmt"
	"time"
)

type ReviewReason string

const (
	ReasonLowConfidence    ReviewReason = "low_confidence"
	ReasonConflictDetected ReviewReason = "conflict_detected"
	ReasonValidationFailed ReviewReason = "validation_failed"
	ReasonManualEscalation ReviewReason = "manual_escalation"
	ReasonDuplicateSuspected ReviewReason = "duplicate_suspected"
)

type ReviewResolution string

const (
	ResolutionApproved  ReviewResolution = "approved"
	ResolutionCorrected ReviewResolution = "corrected"
	ResolutionRejected  ReviewResolution = "rejected"
	ResolutionEscalated ReviewResolution = "escalated"
	ResolutionSpam      ReviewResolution = "spam"
)

// ManualReviewItem is enqueued when confidence routing (§4.J) decides a job
// cannot be auto-applied.
type ManualReviewItem struct {
	ID            string           `db:"id" json:"id"`
	JobID         string           `db:"job_id" json:"job_id"`
	Reason        ReviewReason     `db:"reason" json:"reason"`
	Priority      int              `db:"priority" json:"priority"`
	Details       []byte           `db:"details" json:"details,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	ClaimedAt     *time.Time       `db:"claimed_at" json:"claimed_at,omitempty"`
	ClaimedBy     string           `db:"claimed_by" json:"claimed_by,omitempty"`
	ResolvedAt    *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	Resolution    ReviewResolution `db:"resolution" json:"resolution,omitempty"`
	CorrectedData []byte           `db:"corrected_data" json:"corrected_data,omitempty"`
	ExpiresAt     *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
}

func (ManualReviewItem) TableName() string { return "manual_review_items" }

func (i *ManualReviewItem) Validate() error {
	if i.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if i.Priority < 1 || i.Priority > 10 {
		return fmt.Errorf("priority must be between 1 and 10")
	}
	if i.ClaimedAt != nil && i.ClaimedBy == "" {
		return fmt.Errorf("claimed_by is required once claimed_at is set")
	}
	if i.ResolvedAt != nil && i.Resolution == "" {
		return fmt.Errorf("resolution is required once resolved_at is set")
	}
	if i.Resolution == ResolutionCorrected && i.CorrectedData == nil {
		return fmt.Errorf("corrected_data is required for resolution=corrected")
	}
	return nil
}

func (i *ManualReviewItem) Resolved() bool {
	return i.ResolvedAt != nil
}

type ConfidenceBucket string

const (
	BucketHigh   ConfidenceBucket = "high"
	BucketMedium ConfidenceBucket = "medium"
	BucketLow    ConfidenceBucket = "low"
)

type DocumentType string

const (
	DocTypeNativePDF  DocumentType = "native_pdf"
	DocTypeScannedPDF DocumentType = "scanned_pdf"
	DocTypeDOCX       DocumentType = "docx"
	DocTypeXLSX       DocumentType = "xlsx"
	DocTypeImage      DocumentType = "image"
	DocTypeEmailBody  DocumentType = "email_body"
	DocTypeUnknown    DocumentType = "unknown"
)

type CorrectionType string

const (
	CorrectionAmount       CorrectionType = "amount"
	CorrectionClientName   CorrectionType = "client_name"
	CorrectionCreditorName CorrectionType = "creditor_name"
	CorrectionMatch        CorrectionType = "match"
	CorrectionMultiple     CorrectionType = "multiple"
)

// CalibrationSample is written when a review item resolves usefully (§3.1).
type CalibrationSample struct {
	ID                 string                 `db:"id" json:"id"`
	JobID              string                 `db:"job_id" json:"job_id"`
	PredictedDimensions map[string]float64    `db:"predicted_dimensions" json:"predicted_dimensions"`
	OverallBucket      ConfidenceBucket       `db:"overall_bucket" json:"overall_bucket"`
	DocumentType       DocumentType           `db:"document_type" json:"document_type"`
	WasCorrect         bool                   `db:"was_correct" json:"was_correct"`
	CorrectionType     CorrectionType         `db:"correction_type" json:"correction_type,omitempty"`
	CorrectionDetails  map[string]interface{} `db:"correction_details" json:"correction_details,omitempty"`
	CapturedAt         time.Time              `db:"captured_at" json:"captured_at"`
}

func (CalibrationSample) TableName() string { return "calibration_samples" }

// DeriveWasCorrect implements the §3.1 derivation rule. The second return
// value is false when the resolution carries no usable label (spam,
// rejected, escalated) and the sample should not be captured at all.
func DeriveWasCorrect(resolution ReviewResolution) (wasCorrect bool, capturable bool) {
	switch resolution {
	case ResolutionApproved:
		return true, true
	case ResolutionCorrected:
		return false, true
	default:
		return false, false
	}
}

// DocumentTypePriority orders document types for calibration's "priority"
// derivation (§4.J calibration sample capture).
var DocumentTypePriority = []DocumentType{
	DocTypeNativePDF, DocTypeScannedPDF, DocTypeDOCX, DocTypeXLSX, DocTypeImage, DocTypeEmailBody,
}

// DominantDocumentType picks the highest-priority type among those
// processed, per the §4.J ordering.
func DominantDocumentType(processed []DocumentType) DocumentType {
	present := make(map[DocumentType]bool, len(processed))
	for _, p := range processed {
		present[p] = true
	}
	for _, candidate := range DocumentTypePriority {
		if present[candidate] {
			return candidate
		}
	}
	return DocTypeUnknown
}
