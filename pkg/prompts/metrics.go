package prompts

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// MetricsStore records per-call metrics and rolls them up daily, per §4.L.
type MetricsStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMetricsStore(db *sqlx.DB, logger *zap.Logger) *MetricsStore {
	return &MetricsStore{db: db, logger: logger}
}

// RecordCall inserts a raw PromptCallMetric row (30-day retention).
func (s *MetricsStore) RecordCall(ctx context.Context, m models.PromptCallMetric) error {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_call_metrics
			(id, template_id, job_id, tokens_in, tokens_out, cost_usd, execution_time_ms,
			 extraction_success, overall_confidence, manual_review, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.TemplateID, m.JobID, m.TokensIn, m.TokensOut, m.CostUSD, m.ExecutionTimeMS,
		m.ExtractionSuccess, m.OverallConfidence, m.ManualReview, m.CreatedAt)
	if err != nil {
		return apperrors.DatabaseError("record prompt call metric", err)
	}
	return nil
}

// RollupDaily aggregates per-template per-day into PromptDailyMetric for
// the given date, and deletes raw rows older than 30 days. worker-service
// runs it for the previous day on its own 24-hour ticker.
func (s *MetricsStore) RollupDaily(ctx context.Context, date time.Time) error {
	day := date.Truncate(24 * time.Hour)
	var rows []models.PromptCallMetric
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, template_id, job_id, tokens_in, tokens_out, cost_usd, execution_time_ms,
		       extraction_success, overall_confidence, manual_review, created_at
		FROM prompt_call_metrics
		WHERE created_at >= $1 AND created_at < $2`, day, day.Add(24*time.Hour))
	if err != nil {
		return apperrors.DatabaseError("select raw prompt metrics for rollup", err)
	}

	byTemplate := map[string][]models.PromptCallMetric{}
	for _, m := range rows {
		byTemplate[m.TemplateID] = append(byTemplate[m.TemplateID], m)
	}

	for templateID, metrics := range byTemplate {
		rollup := aggregateDaily(templateID, day, metrics)
		if err := s.upsertDaily(ctx, rollup); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM prompt_call_metrics WHERE created_at < $1`, time.Now().UTC().Add(-30*24*time.Hour)); err != nil {
		return apperrors.DatabaseError("delete expired prompt call metrics", err)
	}
	return nil
}

func aggregateDaily(templateID string, day time.Time, metrics []models.PromptCallMetric) models.PromptDailyMetric {
	roll := models.PromptDailyMetric{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Date:       day,
		CallCount:  len(metrics),
	}
	var confidenceSum float64
	var durations []float64
	for _, m := range metrics {
		roll.TotalTokensIn += m.TokensIn
		roll.TotalTokensOut += m.TokensOut
		roll.TotalCostUSD += m.CostUSD
		confidenceSum += m.OverallConfidence
		durations = append(durations, float64(m.ExecutionTimeMS))
		if m.ManualReview {
			roll.ManualReviewCount++
		}
	}
	if len(metrics) > 0 {
		roll.MeanConfidence = confidenceSum / float64(len(metrics))
		roll.MeanExecutionTimeMS = mean(durations)
		roll.P95ExecutionTimeMS = percentile(durations, 0.95)
	}
	return roll
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (s *MetricsStore) upsertDaily(ctx context.Context, roll models.PromptDailyMetric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_daily_metrics
			(id, template_id, date, call_count, total_tokens_in, total_tokens_out, total_cost_usd,
			 mean_confidence, manual_review_count, mean_execution_time_ms, p95_execution_time_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (template_id, date) DO UPDATE SET
			call_count = EXCLUDED.call_count,
			total_tokens_in = EXCLUDED.total_tokens_in,
			total_tokens_out = EXCLUDED.total_tokens_out,
			total_cost_usd = EXCLUDED.total_cost_usd,
			mean_confidence = EXCLUDED.mean_confidence,
			manual_review_count = EXCLUDED.manual_review_count,
			mean_execution_time_ms = EXCLUDED.mean_execution_time_ms,
			p95_execution_time_ms = EXCLUDED.p95_execution_time_ms`,
		roll.ID, roll.TemplateID, roll.Date, roll.CallCount, roll.TotalTokensIn, roll.TotalTokensOut,
		roll.TotalCostUSD, roll.MeanConfidence, roll.ManualReviewCount, roll.MeanExecutionTimeMS, roll.P95ExecutionTimeMS)
	if err != nil {
		return apperrors.DatabaseError("upsert prompt daily metric", err)
	}
	return nil
}
