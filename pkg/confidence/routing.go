// Package confidence implements the weakest-link aggregation and
// three-tier dispatch of spec §4.J.
package confidence

import "github.com/justLukaBB/creditor-email-matcher/pkg/models"

// Thresholds holds the two configurable routing boundaries. HIGH must never
// be configured below 0.75 (enforced in internal/config.validate).
type Thresholds struct {
	High float64
	Low  float64
}

// Dimensions are the named confidence inputs the aggregate is computed
// from. IntentConfidence is tracked but excluded by default per spec.
type Dimensions struct {
	ExtractionConfidence float64
	MatchConfidence      float64
	IntentConfidence     float64
	HasConflicts         bool
}

// Aggregate is the outcome of weakest-link aggregation: the overall score
// and which named dimension was weakest.
type Aggregate struct {
	Overall float64
	Weakest string
}

// ComputeAggregate computes overall = min(dimensions used) (§4.J). Intent
// confidence is excluded from the aggregate by default.
func ComputeAggregate(d Dimensions) Aggregate {
	candidates := map[string]float64{
		"extraction_confidence": d.ExtractionConfidence,
		"match_confidence":      d.MatchConfidence,
	}
	weakestName, weakestValue := "", 1.0
	first := true
	for name, value := range candidates {
		if first || value < weakestValue {
			weakestName, weakestValue = name, value
			first = false
		}
	}
	return Aggregate{Overall: weakestValue, Weakest: weakestName}
}

type Action string

const (
	ActionAutoUpdate      Action = "AUTO_UPDATE"
	ActionUpdateAndNotify Action = "UPDATE_AND_NOTIFY"
	ActionManualReview    Action = "MANUAL_REVIEW"
)

// Route is a pure function of its inputs (§8 I7): three-tier dispatch per
// the configured thresholds.
func Route(overall float64, t Thresholds) Action {
	switch {
	case overall > t.High:
		return ActionAutoUpdate
	case overall >= t.Low:
		return ActionUpdateAndNotify
	default:
		return ActionManualReview
	}
}

// ReviewReasonFor picks the ManualReviewItem reason for a MANUAL_REVIEW
// route: conflict_detected takes precedence over low_confidence when both
// apply, since a conflict is actionable information a low-confidence label
// alone is not.
func ReviewReasonFor(hasConflicts bool) models.ReviewReason {
	if hasConflicts {
		return models.ReasonConflictDetected
	}
	return models.ReasonLowConfidence
}

// DefaultThresholds returns the spec's default HIGH=0.85, LOW=0.60.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Low: 0.60}
}
