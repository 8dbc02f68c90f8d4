package agents

import (
	"testing"

	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

func TestConfidenceRankOrdersHighAboveMediumAboveLow(t *testing.T) {
	if confidenceRank(models.ConfidenceHigh) <= confidenceRank(models.ConfidenceMedium) {
		t.Fatalf("expected HIGH to outrank MEDIUM")
	}
	if confidenceRank(models.ConfidenceMedium) <= confidenceRank(models.ConfidenceLow) {
		t.Fatalf("expected MEDIUM to outrank LOW")
	}
	if confidenceRank(models.ConfidenceLow) <= confidenceRank(models.Confidence("")) {
		t.Fatalf("expected LOW to outrank an unrecognized value")
	}
}

func TestConfidenceRankUnrecognizedValueRanksLowest(t *testing.T) {
	if got := confidenceRank(models.Confidence("BOGUS")); got != 0 {
		t.Fatalf("expected unrecognized confidence to rank 0, got %d", got)
	}
}
