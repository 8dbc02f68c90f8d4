package extraction

import (
	"context"
	"fmt"

	"github.com/justLukaBB/creditor-email-matcher/pkg/llmvendor"
	"github.com/justLukaBB/creditor-email-matcher/pkg/localization"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/prompts"
)

// ScannedPDFExtractor handles image-only PDFs: each rendered page is sent to
// the LLM vendor as a vision call against the prompt registry's active
// "extraction/scanned_pdf" template (§4.G, §4.L). Every call charges the
// daily cost circuit breaker at the configured per-1K-token price, since
// vision calls are the only LLM cost this package incurs.
type ScannedPDFExtractor struct {
	vendor   llmvendor.Client
	registry *prompts.Registry
	model    string
	daily    *DailyCostBreaker
	priceIn  float64
	priceOut float64
}

func NewScannedPDFExtractor(vendor llmvendor.Client, registry *prompts.Registry, model string, daily *DailyCostBreaker, priceIn, priceOut float64) *ScannedPDFExtractor {
	return &ScannedPDFExtractor{vendor: vendor, registry: registry, model: model, daily: daily, priceIn: priceIn, priceOut: priceOut}
}

// Extract takes a single page already rendered to a base64 PNG/JPEG (page
// rasterization is an external collaborator's concern), sends it to the
// vendor, and reads a labeled amount back from the transcription. Party
// names are not parsed from the response.
func (e *ScannedPDFExtractor) Extract(ctx context.Context, pageImageBase64, mediaType string, budget *JobBudget) (*models.ExtractionResult, error) {
	result := &models.ExtractionResult{
		SourceKind:       models.SourceScannedPDF,
		ExtractionMethod: models.MethodVision,
		Confidence:       models.ConfidenceMedium,
	}

	rendered, tmpl, err := e.registry.RenderActive(ctx, models.TaskExtraction, "scanned_pdf", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	maxTokens := tmpl.MaxTokens
	if _, err := budget.Reserve(maxTokens); err != nil {
		result.Error = err.Error()
		return result, err
	}

	resp, err := e.vendor.Complete(ctx, llmvendor.CompletionRequest{
		Model:          e.model,
		System:         tmpl.SystemText,
		User:           rendered,
		Temperature:    tmpl.Temperature,
		MaxTokens:      maxTokens,
		ImageBase64:    pageImageBase64,
		ImageMediaType: mediaType,
	})
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.TokensUsed = resp.TokensIn + resp.TokensOut

	cost := llmvendor.EstimateCostUSD(resp.TokensIn, resp.TokensOut, e.priceIn, e.priceOut)
	if err := e.daily.Charge(ctx, cost); err != nil {
		result.Error = err.Error()
		return result, err
	}

	amount, err := localization.ExtractPlausibleAmount(localization.Preprocess(resp.Text).Text)
	if err != nil {
		result.Error = fmt.Sprintf("vision transcription carried no labeled amount: %q", resp.Text)
		result.Confidence = models.ConfidenceLow
		return result, nil
	}
	result.GesamtAmount = decimalPtr(amount)
	return result, nil
}
