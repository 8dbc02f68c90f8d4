package extraction

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/justLukaBB/creditor-email-matcher/pkg/localization"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// BodyExtractor extracts the Gesamtbetrag directly from the plain-text email
// body, the cheapest source: no LLM call, zero token cost (§4.G). Party names
// are not extracted; ClientName and CreditorName stay empty.
type BodyExtractor struct{}

func NewBodyExtractor() *BodyExtractor { return &BodyExtractor{} }

func (e *BodyExtractor) Extract(_ context.Context, bodyText string) *models.ExtractionResult {
	pre := localization.Preprocess(bodyText)
	result := &models.ExtractionResult{
		SourceKind:       models.SourceBody,
		ExtractionMethod: models.MethodRegex,
		Confidence:       models.ConfidenceMedium,
	}

	amount, err := localization.ExtractPlausibleAmount(pre.Text)
	if err != nil {
		result.Error = "no labeled amount found in body"
		result.Confidence = models.ConfidenceLow
		return result
	}
	result.GesamtAmount = decimalPtr(amount)
	if pre.Corrections == 0 {
		result.Confidence = models.ConfidenceHigh
	}
	return result
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
