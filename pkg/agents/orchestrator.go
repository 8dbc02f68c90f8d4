package agents

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/extraction"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

// Attachment is the minimal shape the orchestrator needs: bytes already
// fetched from object storage plus the classified document type.
type Attachment struct {
	DocType models.DocumentType
	Data    []byte
}

// ExtractionOrchestrator runs every applicable extractor over the body and
// attachments of a job, respecting the per-job token budget and the daily
// cost circuit breaker (§4.I Agent 2, §4.G).
type ExtractionOrchestrator struct {
	body       *extraction.BodyExtractor
	native     *extraction.NativePDFExtractor
	scanned    *extraction.ScannedPDFExtractor
	docx       *extraction.DOCXExtractor
	xlsx       *extraction.XLSXExtractor
	image      *extraction.ImageExtractor
	rasterizer extraction.PageRasterizer
	daily      *extraction.DailyCostBreaker
	logger     *zap.Logger
}

func NewExtractionOrchestrator(
	body *extraction.BodyExtractor,
	native *extraction.NativePDFExtractor,
	scanned *extraction.ScannedPDFExtractor,
	docx *extraction.DOCXExtractor,
	xlsx *extraction.XLSXExtractor,
	image *extraction.ImageExtractor,
	rasterizer extraction.PageRasterizer,
	daily *extraction.DailyCostBreaker,
	logger *zap.Logger,
) *ExtractionOrchestrator {
	return &ExtractionOrchestrator{
		body: body, native: native, scanned: scanned, docx: docx, xlsx: xlsx, image: image,
		rasterizer: rasterizer, daily: daily, logger: logger,
	}
}

// Run extracts from the body and every attachment, skipping sources once the
// per-job token budget is exhausted, and returns every non-nil result for
// the consolidator. It never fails the job outright on a single source's
// error; per-source errors are recorded on the ExtractionResult instead.
func (o *ExtractionOrchestrator) Run(ctx context.Context, jobID, bodyText string, attachments []Attachment, budget *extraction.JobBudget) []*models.ExtractionResult {
	var results []*models.ExtractionResult

	if bodyText != "" {
		results = append(results, o.body.Extract(ctx, bodyText))
	}

	for _, att := range attachments {
		if budget.Used() >= budget.Cap {
			o.logger.Warn("token budget exhausted, skipping remaining attachments",
				logging.JobFields("extract", jobID).ToZap()...)
			break
		}

		switch att.DocType {
		case models.DocTypeNativePDF:
			results = append(results, o.extractPDF(ctx, jobID, att.Data, budget)...)
		case models.DocTypeDOCX:
			results = append(results, o.docx.Extract(att.Data))
		case models.DocTypeXLSX:
			results = append(results, o.xlsx.Extract(att.Data))
		case models.DocTypeImage:
			result, err := o.image.Extract(ctx, att.Data, budget)
			if err != nil {
				results = append(results, &models.ExtractionResult{SourceKind: models.SourceImage, Error: err.Error()})
				continue
			}
			results = append(results, result)
		default:
			results = append(results, &models.ExtractionResult{SourceKind: models.SourceUnknown, Error: "unrecognized attachment type"})
		}
	}

	return results
}

// extractPDF tries the native text layer first; when that extractor reports
// an unusable text-to-filesize ratio (§4.G), it rasterizes the PDF's pages
// and runs each through the scanned-PDF vision path, merging per-page
// results into the single highest-confidence ExtractionResult for that
// attachment rather than returning one result per page.
func (o *ExtractionOrchestrator) extractPDF(ctx context.Context, jobID string, data []byte, budget *extraction.JobBudget) []*models.ExtractionResult {
	result, rawText, err := o.native.Extract(ctx, data)
	if err != nil {
		return []*models.ExtractionResult{{SourceKind: models.SourceNativePDF, Error: err.Error()}}
	}
	if result != nil {
		return []*models.ExtractionResult{result}
	}

	o.logger.Info("native pdf text layer unusable, falling back to vision rasterization",
		logging.JobFields("extract", jobID).Custom("extracted_chars", len(rawText)).ToZap()...)

	pages, err := o.rasterizer.Rasterize(ctx, data)
	if err != nil {
		return []*models.ExtractionResult{{SourceKind: models.SourceScannedPDF, Error: "rasterization failed: " + err.Error()}}
	}
	if len(pages) == 0 {
		return []*models.ExtractionResult{{SourceKind: models.SourceScannedPDF, Error: "rasterizer returned no pages"}}
	}

	var best *models.ExtractionResult
	for _, page := range pages {
		if _, err := base64.StdEncoding.DecodeString(page.ImageBase64); err != nil {
			continue
		}
		pageResult, err := o.scanned.Extract(ctx, page.ImageBase64, page.MediaType, budget)
		if err != nil {
			if err == extraction.ErrTokenBudgetExceeded || err == extraction.ErrDailyCostCapTripped {
				break
			}
			continue
		}
		if pageResult.GesamtAmount == nil {
			continue
		}
		if best == nil || confidenceRank(pageResult.Confidence) > confidenceRank(best.Confidence) {
			best = pageResult
		}
	}
	if best == nil {
		return []*models.ExtractionResult{{SourceKind: models.SourceScannedPDF, Error: "vision fallback found no labeled amount on any rasterized page"}}
	}
	return []*models.ExtractionResult{best}
}

func confidenceRank(c models.Confidence) int {
	switch c {
	case models.ConfidenceHigh:
		return 3
	case models.ConfidenceMedium:
		return 2
	case models.ConfidenceLow:
		return 1
	default:
		return 0
	}
}
