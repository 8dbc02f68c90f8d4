package models

import (
	"fmt"
	"time"
)

// OutboxMessageStatus is the internal lifecycle of an outbox row (§4.B).
type OutboxMessageStatus string

const (
	OutboxPending    OutboxMessageStatus = "pending"
	OutboxProcessing OutboxMessageStatus = "processing"
	OutboxProcessed  OutboxMessageStatus = "processed"
	OutboxFailed     OutboxMessageStatus = "failed"
)

// OutboxMessage is the durable record of a pending DOC-store effect.
type OutboxMessage struct {
	ID             string              `db:"id" json:"id"`
	AggregateType  string              `db:"aggregate_type" json:"aggregate_type"`
	AggregateID    string              `db:"aggregate_id" json:"aggregate_id"`
	Operation      string              `db:"operation" json:"operation"`
	Payload        []byte              `db:"payload" json:"payload"`
	IdempotencyKey string              `db:"idempotency_key" json:"idempotency_key"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	ProcessedAt    *time.Time          `db:"processed_at" json:"processed_at,omitempty"`
	RetryCount     int                 `db:"retry_count" json:"retry_count"`
	MaxRetries     int                 `db:"max_retries" json:"max_retries"`
	LastError      string              `db:"last_error" json:"last_error,omitempty"`
	Status         OutboxMessageStatus `db:"status" json:"status"`
}

func (OutboxMessage) TableName() string { return "outbox_messages" }

func (m *OutboxMessage) Validate() error {
	if m.AggregateType == "" || m.AggregateID == "" {
		return fmt.Errorf("aggregate_type and aggregate_id are required")
	}
	if m.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if m.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	return nil
}

// Delivered reports whether the DOC effect has been durably applied.
func (m *OutboxMessage) Delivered() bool {
	return m.ProcessedAt != nil
}

// Exhausted reports whether retries are spent and the message needs a human
// (or a future reconciliation pass) to intervene.
func (m *OutboxMessage) Exhausted() bool {
	return m.RetryCount >= m.MaxRetries
}

// IdempotencyRecord caches the outcome of a dual-write so repeated attempts
// with the same key converge to a single effect (§3.1, I1).
type IdempotencyRecord struct {
	Key       string    `db:"key" json:"key"`
	Result    []byte    `db:"result" json:"result"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ReconciliationReport is the immutable-once-completed record of a
// reconciliation run (§4.B.3, §5).
type ReconciliationReport struct {
	ID             string     `db:"id" json:"id"`
	RunAt          time.Time  `db:"run_at" json:"run_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	RecordsChecked int        `db:"records_checked" json:"records_checked"`
	MismatchesFound int       `db:"mismatches_found" json:"mismatches_found"`
	AutoRepaired   int        `db:"auto_repaired" json:"auto_repaired"`
	FailedRepairs  int        `db:"failed_repairs" json:"failed_repairs"`
	Status         string     `db:"status" json:"status"`
	Details        []byte     `db:"details" json:"details,omitempty"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
}

func (ReconciliationReport) TableName() string { return "reconciliation_reports" }
