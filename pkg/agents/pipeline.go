package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/extraction"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

const (
	agentIntent       = "intent"
	agentExtraction   = "extraction"
	agentConsolidator = "consolidator"
)

// CheckpointStore is the narrow persistence surface the pipeline needs; the
// jobs.Repository satisfies it.
type CheckpointStore interface {
	RecordCheckpoint(ctx context.Context, jobID string, cp models.AgentCheckpoint) error
}

// Pipeline runs the three agents in sequence, persisting a checkpoint after
// each one (§4.I). On a retried job, Agent 1 is not re-run when its
// checkpoint passed, and Agent 2 is not re-run when its checkpoint records
// the low-confidence skip. Otherwise Agent 2 runs again, and Agent 3 always
// runs again: their checkpoints do not store their results.
type Pipeline struct {
	intent       *IntentAgent
	orchestrator *ExtractionOrchestrator
	consolidator *ConsolidatorAgent
	checkpoints  CheckpointStore
	logger       *zap.Logger
}

func NewPipeline(intent *IntentAgent, orchestrator *ExtractionOrchestrator, consolidator *ConsolidatorAgent, checkpoints CheckpointStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{intent: intent, orchestrator: orchestrator, consolidator: consolidator, checkpoints: checkpoints, logger: logger}
}

// Outcome is the pipeline's terminal result for one job run.
type Outcome struct {
	Intent        IntentResult
	NotCreditorReply bool
	Consolidation *ConsolidationOutcome
}

// Run executes the agents for one job, consulting job.Checkpoints (as
// persisted on the IncomingJob row) to skip the stages listed on Pipeline;
// an empty map runs the full pipeline from Agent 1.
func (p *Pipeline) Run(ctx context.Context, job models.IncomingJob, attachments []Attachment, budget *extraction.JobBudget) (*Outcome, error) {
	intentResult, err := p.stepIntent(ctx, job)
	if err != nil {
		return nil, err
	}
	// Only auto_reply/spam short-circuit (§4.I "skip_extraction = intent ∈
	// {auto_reply, spam}"); the other four intents all proceed to Agent 2,
	// which separately refuses to run below the confidence gate.
	if intentResult.SkipExtraction() {
		return &Outcome{Intent: intentResult, NotCreditorReply: true}, nil
	}

	results, err := p.stepExtraction(ctx, job, attachments, budget, intentResult)
	if err != nil {
		return nil, err
	}

	consolidation, err := p.stepConsolidation(ctx, job, results)
	if err != nil {
		return nil, err
	}

	return &Outcome{Intent: intentResult, Consolidation: consolidation}, nil
}

func (p *Pipeline) stepIntent(ctx context.Context, job models.IncomingJob) (IntentResult, error) {
	if cp, ok := job.Checkpoints[agentIntent]; ok && cp.Status == models.CheckpointPassed {
		if payload, ok := cp.Payload.(map[string]interface{}); ok {
			return IntentResult{
				Label:      IntentLabel(toString(payload["label"])),
				Confidence: toFloat(payload["confidence"]),
			}, nil
		}
	}

	result, err := p.intent.Classify(ctx, job.Subject, job.BodyText, job.Headers, job.FromEmail)
	if err != nil {
		return IntentResult{}, err
	}
	status := models.CheckpointPassed
	if result.NeedsReview() {
		status = models.CheckpointNeedsReview
	}
	p.checkpoint(ctx, job.ID, agentIntent, status, map[string]interface{}{
		"label": string(result.Label), "confidence": result.Confidence,
	})
	return result, nil
}

// stepExtraction refuses to run Agent 2 when Agent 1's own confidence gate
// tripped (§4.I: "Refuses to run when Agent 1 confidence < 0.7"), recording
// a needs_review extraction checkpoint with a minimal result instead, and
// inherits Agent 1's needs_review flag into the checkpoint it does record.
func (p *Pipeline) stepExtraction(ctx context.Context, job models.IncomingJob, attachments []Attachment, budget *extraction.JobBudget, intentResult IntentResult) ([]*models.ExtractionResult, error) {
	if cp, ok := job.Checkpoints[agentExtraction]; ok && cp.Status != "" {
		if payload, ok := cp.Payload.(map[string]interface{}); ok {
			if _, skipped := payload["skipped"]; skipped {
				return nil, nil
			}
		}
	}

	if intentResult.NeedsReview() {
		p.checkpoint(ctx, job.ID, agentExtraction, models.CheckpointNeedsReview, map[string]interface{}{
			"skipped": true,
			"reason":  "agent_1_confidence_below_threshold",
		})
		return nil, nil
	}

	results := p.orchestrator.Run(ctx, job.ID, job.BodyText, attachments, budget)
	p.checkpoint(ctx, job.ID, agentExtraction, models.CheckpointPassed, map[string]interface{}{
		"source_count": len(results),
	})
	return results, nil
}

func (p *Pipeline) stepConsolidation(ctx context.Context, job models.IncomingJob, results []*models.ExtractionResult) (*ConsolidationOutcome, error) {
	outcome, err := p.consolidator.Resolve(ctx, job.TicketID, results)
	if err != nil {
		return nil, err
	}
	status := models.CheckpointPassed
	if outcome.HasConflicts {
		status = models.CheckpointNeedsReview
	}
	p.checkpoint(ctx, job.ID, agentConsolidator, status, map[string]interface{}{
		"overall_confidence": outcome.Aggregate.Overall,
		"route":              string(outcome.Route),
	})
	return outcome, nil
}

func (p *Pipeline) checkpoint(ctx context.Context, jobID, agent string, status models.CheckpointStatus, payload interface{}) {
	err := p.checkpoints.RecordCheckpoint(ctx, jobID, models.AgentCheckpoint{
		Agent: agent, Status: status, Payload: payload, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("failed to persist agent checkpoint",
			logging.JobFields("checkpoint", jobID).Custom("agent", agent).Error(err).ToZap()...)
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
