// Package models defines the persisted and transient shapes shared across
// the core's components (§3 of the spec): the row-backed entities own a
// TableName() and a Validate(), in the style of the teacher's
// pkg/datastorage/models package.
package models

import (
	"fmt"
	"time"
)

// ProcessingStatus is the IncomingJob lifecycle state (§3.1, §4.C).
type ProcessingStatus string

const (
	StatusReceived        ProcessingStatus = "RECEIVED"
	StatusQueued          ProcessingStatus = "QUEUED"
	StatusProcessing      ProcessingStatus = "PROCESSING"
	StatusCompleted       ProcessingStatus = "COMPLETED"
	StatusFailed          ProcessingStatus = "FAILED"
	StatusNotCreditorReply ProcessingStatus = "NOT_CREDITOR_REPLY"
)

// IsTerminal reports whether no further processing may occur from this
// status without an explicit manual retry.
func (s ProcessingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNotCreditorReply:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the forward edges of the IncomingJob state
// machine, plus the single permitted backward edge (manual retry).
var legalTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusReceived:   {StatusQueued},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusNotCreditorReply},
	StatusFailed:     {StatusQueued}, // manual_retry(FAILED -> QUEUED)
}

// CanTransition reports whether from -> to is a legal edge (§8 I5).
func CanTransition(from, to ProcessingStatus) bool {
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AttachmentDescriptor is the webhook-delivered pointer to an attachment's
// bytes; the object-store fetch itself is an external collaborator (§6).
type AttachmentDescriptor struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// AgentCheckpoint is the typed variant persisted per agent name inside an
// IncomingJob row (§9 design note: typed variants over JSONB).
type AgentCheckpoint struct {
	Agent     string          `json:"agent"`
	Status    CheckpointStatus `json:"status"`
	Payload   interface{}     `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type CheckpointStatus string

const (
	CheckpointPassed      CheckpointStatus = "passed"
	CheckpointNeedsReview CheckpointStatus = "needs_review"
)

// ConfidenceRoute is the three-tier dispatch outcome of §4.J.
type ConfidenceRoute string

const (
	RouteAutoUpdate     ConfidenceRoute = "AUTO_UPDATE"
	RouteUpdateAndNotify ConfidenceRoute = "UPDATE_AND_NOTIFY"
	RouteManualReview   ConfidenceRoute = "MANUAL_REVIEW"
)

// IncomingJob is the unit of work: one per inbound creditor-response email.
type IncomingJob struct {
	ID         string `db:"id" json:"id"`
	WebhookID  string `db:"webhook_id" json:"webhook_id"`
	TicketID   string `db:"ticket_id" json:"ticket_id"`

	FromEmail  string `db:"from_email" json:"from_email"`
	Subject    string `db:"subject" json:"subject"`
	BodyText   string `db:"body_text" json:"body_text"`
	BodyHTML   string `db:"body_html" json:"body_html"`
	Headers    map[string]string      `db:"headers" json:"headers"`
	Attachments []AttachmentDescriptor `db:"attachments" json:"attachments"`

	ReceivedAt  time.Time  `db:"received_at" json:"received_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	RetryCount       int              `db:"retry_count" json:"retry_count"`
	ProcessingStatus ProcessingStatus `db:"processing_status" json:"processing_status"`
	ProcessingError  string           `db:"processing_error" json:"processing_error,omitempty"`

	ExtractedData map[string]interface{} `db:"extracted_data" json:"extracted_data,omitempty"`
	MatchResult   map[string]interface{} `db:"match_result" json:"match_result,omitempty"`

	Checkpoints map[string]AgentCheckpoint `db:"checkpoints" json:"checkpoints,omitempty"`

	ExtractionConfidence float64         `db:"extraction_confidence" json:"extraction_confidence"`
	OverallConfidence    float64         `db:"overall_confidence" json:"overall_confidence"`
	ConfidenceRoute      ConfidenceRoute `db:"confidence_route" json:"confidence_route,omitempty"`

	WorkerToken string `db:"worker_token" json:"-"`
}

func (IncomingJob) TableName() string { return "incoming_jobs" }

func (j *IncomingJob) Validate() error {
	if j.WebhookID == "" {
		return fmt.Errorf("webhook_id is required")
	}
	if j.FromEmail == "" {
		return fmt.Errorf("from_email is required")
	}
	if j.ProcessingStatus == "" {
		return fmt.Errorf("processing_status is required")
	}
	if j.StartedAt != nil && j.CompletedAt != nil && j.CompletedAt.Before(*j.StartedAt) {
		return fmt.Errorf("completed_at must not precede started_at")
	}
	return nil
}
