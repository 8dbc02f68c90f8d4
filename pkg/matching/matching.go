// Package matching defines the Matching Engine adapter interface (§4.K).
// The matching algorithm itself is out of this core's scope; this package
// only fixes the deterministic contract (score + status) the rest of the
// pipeline depends on, plus a stub implementation for tests and for wiring
// before a real matcher is plugged in.
package matching

import (
	"context"

	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

type Status string

const (
	StatusAutoMatched    Status = "auto_matched"
	StatusAmbiguous      Status = "ambiguous"
	StatusBelowThreshold Status = "below_threshold"
	StatusNoMatch        Status = "no_match"
	StatusNoRecentInquiry Status = "no_recent_inquiry"
)

// Result is the deterministic outcome of a match attempt.
type Result struct {
	Score       float64
	Status      Status
	CandidateID string
}

// Extracted is the minimal shape the matcher needs from a consolidated
// extraction to resolve the outstanding inquiry.
type Extracted struct {
	TicketID     string
	ClientName   string
	CreditorName string
	Amount       *models.ConsolidatedResult
}

// Engine resolves the extracted debtor/creditor pair against an outstanding
// inquiry record. Concrete implementations live outside this core.
type Engine interface {
	Match(ctx context.Context, extracted Extracted) (Result, error)
}

// Stub is a deterministic, in-memory Engine used by tests and by process
// wiring before a real matcher is plugged in. It resolves by exact
// ticket-id lookup against a fixed table, the way the teacher's tests stub
// out-of-core collaborators.
type Stub struct {
	byTicket map[string]Result
}

func NewStub() *Stub {
	return &Stub{byTicket: map[string]Result{}}
}

func (s *Stub) Seed(ticketID string, result Result) {
	s.byTicket[ticketID] = result
}

func (s *Stub) Match(_ context.Context, extracted Extracted) (Result, error) {
	if r, ok := s.byTicket[extracted.TicketID]; ok {
		return r, nil
	}
	return Result{Status: StatusNoRecentInquiry}, nil
}

// AdjustConfidence applies the §4.J match_confidence adjustment rules to a
// raw engine score, given the engine's reported status.
func AdjustConfidence(r Result) float64 {
	switch r.Status {
	case StatusAmbiguous:
		return r.Score * 0.7
	case StatusAutoMatched:
		return r.Score
	case StatusNoMatch, StatusNoRecentInquiry:
		return 0.0
	case StatusBelowThreshold:
		return r.Score
	default:
		return r.Score
	}
}
