// Package consolidation fuses per-source ExtractionResults into one
// authoritative ConsolidatedResult under the mandatory rules of spec §4.H.
// It never calls an LLM; it is pure arithmetic and comparison, grounded on
// the teacher's scoring/weights style (pkg/datastorage/scoring) adapted to
// this domain's fusion rules.
package consolidation

import (
	"sort"

	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/shopspring/decimal"
)

// dedupeEpsilon is the spec's "within 1.00 EUR" same-value threshold.
var dedupeEpsilon = decimal.NewFromInt(1)

// fallbackAmount is the spec's fixed fallback when no source has an amount.
var fallbackAmount = decimal.NewFromFloat(100.00)

var confidenceRank = map[models.Confidence]int{
	models.ConfidenceLow:    0,
	models.ConfidenceMedium: 1,
	models.ConfidenceHigh:   2,
}

// Consolidate implements the nine mandatory rules of §4.H, in order.
func Consolidate(results []*models.ExtractionResult) *models.ConsolidatedResult {
	out := &models.ConsolidatedResult{
		ExtractionMethodMix: map[models.ExtractionMethod]int{},
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		out.SourcesProcessed = append(out.SourcesProcessed, r.SourceKind)
		out.TotalTokens += r.TokensUsed
		out.ExtractionMethodMix[r.ExtractionMethod]++
	}

	amounts := dedupeAmounts(collectAmounts(results))
	out.SourcesWithAmount = countWithAmount(results)

	switch len(amounts) {
	case 0:
		out.FinalAmount = fallbackAmount
		out.PerFieldConfidence.Amount = models.ConfidenceLow
	case 1:
		out.FinalAmount = amounts[0]
		out.PerFieldConfidence.Amount = amountConfidenceForSingle(results, amounts[0])
	default:
		sort.Slice(amounts, func(i, j int) bool { return amounts[i].GreaterThan(amounts[j]) })
		out.FinalAmount = amounts[0]
		out.DisagreeingSources = len(amounts) - 1
		out.PerFieldConfidence.Amount = models.ConfidenceMedium
	}

	client, clientConf := pickName(results, func(r *models.ExtractionResult) string { return r.ClientName })
	creditor, creditorConf := pickName(results, func(r *models.ExtractionResult) string { return r.CreditorName })
	out.ClientName = client
	out.CreditorName = creditor
	out.PerFieldConfidence.ClientName = clientConf
	out.PerFieldConfidence.CreditorName = creditorConf

	out.OverallConfidence = overallConfidence(results, out)
	out.WeakestLinkDimension = weakestLinkDimension(out)

	return out
}

func collectAmounts(results []*models.ExtractionResult) []decimal.Decimal {
	var amounts []decimal.Decimal
	for _, r := range results {
		if r.HasAmount() {
			amounts = append(amounts, *r.GesamtAmount)
		}
	}
	return amounts
}

func countWithAmount(results []*models.ExtractionResult) int {
	n := 0
	for _, r := range results {
		if r.HasAmount() {
			n++
		}
	}
	return n
}

// dedupeAmounts collapses amounts within dedupeEpsilon of one another,
// keeping one representative per cluster.
func dedupeAmounts(amounts []decimal.Decimal) []decimal.Decimal {
	if len(amounts) == 0 {
		return nil
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i].LessThan(amounts[j]) })
	deduped := []decimal.Decimal{amounts[0]}
	for _, a := range amounts[1:] {
		last := deduped[len(deduped)-1]
		if a.Sub(last).Abs().GreaterThan(dedupeEpsilon) {
			deduped = append(deduped, a)
		}
	}
	return deduped
}

// amountConfidenceForSingle implements rule 5: HIGH if the contributing
// source was a native format with a labeled match, MEDIUM otherwise.
func amountConfidenceForSingle(results []*models.ExtractionResult, amount decimal.Decimal) models.Confidence {
	for _, r := range results {
		if !r.HasAmount() || !r.GesamtAmount.Equal(amount) {
			continue
		}
		isNative := r.SourceKind == models.SourceNativePDF || r.SourceKind == models.SourceDOCX || r.SourceKind == models.SourceXLSX
		labeled := r.ExtractionMethod == models.MethodNativeText || r.ExtractionMethod == models.MethodTableScan || r.ExtractionMethod == models.MethodRegex
		if isNative && labeled {
			return models.ConfidenceHigh
		}
		return models.ConfidenceMedium
	}
	return models.ConfidenceMedium
}

// pickName implements rule 7: prefer the highest-priority source, break
// ties by confidence, then by longest name.
func pickName(results []*models.ExtractionResult, getter func(*models.ExtractionResult) string) (string, models.Confidence) {
	type candidate struct {
		name       string
		priority   int
		confidence models.Confidence
	}
	var candidates []candidate
	for _, r := range results {
		name := getter(r)
		if name == "" {
			continue
		}
		candidates = append(candidates, candidate{
			name:       name,
			priority:   models.SourcePriority[r.SourceKind],
			confidence: r.Confidence,
		})
	}
	if len(candidates) == 0 {
		return "", models.ConfidenceLow
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		ri, rj := confidenceRank[candidates[i].confidence], confidenceRank[candidates[j].confidence]
		if ri != rj {
			return ri > rj
		}
		return len(candidates[i].name) > len(candidates[j].name)
	})
	return candidates[0].name, candidates[0].confidence
}

// overallConfidence implements rule 8: weakest-link across contributing
// sources, minus 0.1 per missing key field, floored at 0.3 and ceilinged at
// 1.0.
func overallConfidence(results []*models.ExtractionResult, out *models.ConsolidatedResult) float64 {
	weakest := 1.0
	any := false
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		any = true
		baseline := models.ConfidenceBaseline[r.SourceKind]
		if baseline < weakest {
			weakest = baseline
		}
	}
	if !any {
		weakest = 0.3
	}

	missing := 0
	if out.FinalAmount.IsZero() || out.SourcesWithAmount == 0 {
		missing++
	}
	if out.ClientName == "" {
		missing++
	}
	if out.CreditorName == "" {
		missing++
	}

	confidence := weakest - 0.1*float64(missing)
	if confidence < 0.3 {
		confidence = 0.3
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func weakestLinkDimension(out *models.ConsolidatedResult) string {
	dims := map[string]models.Confidence{
		"amount":        out.PerFieldConfidence.Amount,
		"client_name":   out.PerFieldConfidence.ClientName,
		"creditor_name": out.PerFieldConfidence.CreditorName,
	}
	weakest := "amount"
	weakestRank := 3
	for name, c := range dims {
		if rank := confidenceRank[c]; rank < weakestRank {
			weakestRank = rank
			weakest = name
		}
	}
	return weakest
}
