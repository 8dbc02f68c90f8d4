package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/justLukaBB/creditor-email-matcher/pkg/confidence"
	"github.com/justLukaBB/creditor-email-matcher/pkg/consolidation"
	"github.com/justLukaBB/creditor-email-matcher/pkg/matching"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/store/doc"
)

// debtAggregateType names the DOC-store aggregate Agent 3 compares against;
// the document store has no other aggregate kind in this system.
const debtAggregateType = "debt"

// amountConflictFraction is the §4.I threshold: a final amount differing
// from the DOC's stored amount by more than this fraction of the DOC value
// is a conflict.
const amountConflictFraction = 0.10

// ConflictDetail captures one field-level before/after mismatch for the
// Agent 3 checkpoint (§4.I: "written into the Agent 3 checkpoint with
// field-level detail, original vs new values").
type ConflictDetail struct {
	Field    string `json:"field"`
	Original string `json:"original"`
	New      string `json:"new"`
}

// ConsolidationOutcome is Agent 3's full output: the fused extraction, the
// aggregate confidence, and the routing decision the worker acts on.
type ConsolidationOutcome struct {
	Consolidated *models.ConsolidatedResult
	Aggregate    confidence.Aggregate
	Route        confidence.Action
	HasConflicts bool
	Conflicts    []ConflictDetail
}

// ConsolidatorAgent fuses Agent 2's per-source results, queries the DOC store
// for an existing debt record, resolves the match against the outstanding
// inquiry, and applies the three-tier confidence routing of §4.J (§4.I
// Agent 3).
type ConsolidatorAgent struct {
	matcher    matching.Engine
	doc        doc.Client
	thresholds confidence.Thresholds
}

func NewConsolidatorAgent(matcher matching.Engine, docClient doc.Client, thresholds confidence.Thresholds) *ConsolidatorAgent {
	return &ConsolidatorAgent{matcher: matcher, doc: docClient, thresholds: thresholds}
}

// Resolve implements the Open Question decision recorded in DESIGN.md: when
// the job carries a ticket id (the webhook payload's ticket_id), it takes
// precedence over a consolidated client name for matching, since the ticket
// id is an exact key, whereas the client name is OCR/LLM-derived and may be
// misspelled.
func (a *ConsolidatorAgent) Resolve(ctx context.Context, ticketID string, results []*models.ExtractionResult) (*ConsolidationOutcome, error) {
	consolidated := consolidation.Consolidate(results)

	extracted := matching.Extracted{
		TicketID:     ticketID,
		ClientName:   consolidated.ClientName,
		CreditorName: consolidated.CreditorName,
		Amount:       consolidated,
	}
	matchResult, err := a.matcher.Match(ctx, extracted)
	if err != nil {
		return nil, err
	}

	matchConfidence := matching.AdjustConfidence(matchResult)
	aggregate := confidence.ComputeAggregate(confidence.Dimensions{
		ExtractionConfidence: consolidated.OverallConfidence,
		MatchConfidence:      matchConfidence,
	})

	record, found, err := a.lookupDebtRecord(ctx, ticketID, consolidated.ClientName)
	if err != nil {
		return nil, err
	}

	var conflicts []ConflictDetail
	if found {
		conflicts = detectConflicts(consolidated, record)
	}
	hasConflicts := consolidated.DisagreeingSources > 0 || matchResult.Status == matching.StatusAmbiguous || len(conflicts) > 0
	route := confidence.Route(aggregate.Overall, a.thresholds)

	return &ConsolidationOutcome{
		Consolidated: consolidated,
		Aggregate:    aggregate,
		Route:        route,
		HasConflicts: hasConflicts,
		Conflicts:    conflicts,
	}, nil
}

// lookupDebtRecord queries the DOC store keyed by ticket id and, when that
// misses (or no ticket id was extracted), falls back to the consolidated
// client name per §4.I.
func (a *ConsolidatorAgent) lookupDebtRecord(ctx context.Context, ticketID, clientName string) (*doc.DebtRecord, bool, error) {
	if ticketID != "" {
		if record, found, err := a.getDebtRecord(ctx, ticketID); err != nil {
			return nil, false, err
		} else if found {
			return record, true, nil
		}
	}
	if clientName == "" {
		return nil, false, nil
	}
	return a.getDebtRecord(ctx, clientName)
}

func (a *ConsolidatorAgent) getDebtRecord(ctx context.Context, key string) (*doc.DebtRecord, bool, error) {
	body, ok, err := a.doc.Get(ctx, debtAggregateType, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var record doc.DebtRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

// detectConflicts implements §4.I's two conflict checks: an amount conflict
// when the final amount differs from the DOC's stored amount by more than
// 10% of the DOC value, and a name conflict on case-insensitive mismatch of
// either party name.
func detectConflicts(consolidated *models.ConsolidatedResult, record *doc.DebtRecord) []ConflictDetail {
	var conflicts []ConflictDetail

	if docAmount, err := decimal.NewFromString(record.Amount); err == nil && !docAmount.IsZero() {
		diff := consolidated.FinalAmount.Sub(docAmount).Abs()
		threshold := docAmount.Abs().Mul(decimal.NewFromFloat(amountConflictFraction))
		if diff.GreaterThan(threshold) {
			conflicts = append(conflicts, ConflictDetail{
				Field:    "amount",
				Original: record.Amount,
				New:      consolidated.FinalAmount.String(),
			})
		}
	}

	if record.ClientName != "" && !strings.EqualFold(record.ClientName, consolidated.ClientName) {
		conflicts = append(conflicts, ConflictDetail{
			Field:    "client_name",
			Original: record.ClientName,
			New:      consolidated.ClientName,
		})
	}

	if record.CreditorName != "" && !strings.EqualFold(record.CreditorName, consolidated.CreditorName) {
		conflicts = append(conflicts, ConflictDetail{
			Field:    "creditor_name",
			Original: record.CreditorName,
			New:      consolidated.CreditorName,
		})
	}

	return conflicts
}
