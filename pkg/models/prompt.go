package models

import (
	"fmt"
	"time"
)

type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskExtraction      TaskType = "extraction"
	TaskValidation      TaskType = "validation"
)

// PromptTemplate is immutable after creation; editors copy-on-edit (§4.L).
type PromptTemplate struct {
	ID          string   `db:"id" json:"id"`
	TaskType    TaskType `db:"task_type" json:"task_type"`
	Name        string   `db:"name" json:"name"`
	Version     int      `db:"version" json:"version"`
	SystemText  string   `db:"system_text" json:"system_text,omitempty"`
	UserTemplate string  `db:"user_template" json:"user_template"`
	Active      bool     `db:"active" json:"active"`
	ModelName   string   `db:"model_name" json:"model_name"`
	Temperature float32  `db:"temperature" json:"temperature"`
	MaxTokens   int      `db:"max_tokens" json:"max_tokens"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	CreatedBy   string   `db:"created_by" json:"created_by"`
	Description string   `db:"description" json:"description,omitempty"`
}

func (PromptTemplate) TableName() string { return "prompt_templates" }

func (t *PromptTemplate) Validate() error {
	if t.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if t.UserTemplate == "" {
		return fmt.Errorf("user_template is required")
	}
	return nil
}

// PromptCallMetric is a raw, 30-day-retention record of one extraction call.
type PromptCallMetric struct {
	ID                string    `db:"id" json:"id"`
	TemplateID        string    `db:"template_id" json:"template_id"`
	JobID             string    `db:"job_id" json:"job_id"`
	TokensIn          int       `db:"tokens_in" json:"tokens_in"`
	TokensOut         int       `db:"tokens_out" json:"tokens_out"`
	CostUSD           float64   `db:"cost_usd" json:"cost_usd"`
	ExecutionTimeMS   int64     `db:"execution_time_ms" json:"execution_time_ms"`
	ExtractionSuccess bool      `db:"extraction_success" json:"extraction_success"`
	OverallConfidence float64   `db:"overall_confidence" json:"overall_confidence"`
	ManualReview      bool      `db:"manual_review" json:"manual_review"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

func (PromptCallMetric) TableName() string { return "prompt_call_metrics" }

// PromptDailyMetric is the permanent per-template-per-day rollup.
type PromptDailyMetric struct {
	ID                  string    `db:"id" json:"id"`
	TemplateID          string    `db:"template_id" json:"template_id"`
	Date                time.Time `db:"date" json:"date"`
	CallCount           int       `db:"call_count" json:"call_count"`
	TotalTokensIn       int       `db:"total_tokens_in" json:"total_tokens_in"`
	TotalTokensOut      int       `db:"total_tokens_out" json:"total_tokens_out"`
	TotalCostUSD        float64   `db:"total_cost_usd" json:"total_cost_usd"`
	MeanConfidence      float64   `db:"mean_confidence" json:"mean_confidence"`
	ManualReviewCount   int       `db:"manual_review_count" json:"manual_review_count"`
	MeanExecutionTimeMS float64   `db:"mean_execution_time_ms" json:"mean_execution_time_ms"`
	P95ExecutionTimeMS  float64   `db:"p95_execution_time_ms" json:"p95_execution_time_ms"`
}

func (PromptDailyMetric) TableName() string { return "prompt_daily_metrics" }
