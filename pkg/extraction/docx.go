package extraction

import (
	"bytes"

	"github.com/nguyenthenguyen/docx"

	"github.com/justLukaBB/creditor-email-matcher/pkg/localization"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// DOCXExtractor pulls the document body text out of a .docx attachment via
// nguyenthenguyen/docx, the second-highest-priority native format (§4.G).
type DOCXExtractor struct{}

func NewDOCXExtractor() *DOCXExtractor { return &DOCXExtractor{} }

func (e *DOCXExtractor) Extract(data []byte) *models.ExtractionResult {
	result := &models.ExtractionResult{
		SourceKind:       models.SourceDOCX,
		ExtractionMethod: models.MethodNativeText,
		Confidence:       models.ConfidenceHigh,
	}

	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		result.Error = err.Error()
		result.Confidence = models.ConfidenceLow
		return result
	}
	defer reader.Close()

	content := reader.Editable().GetContent()
	pre := localization.Preprocess(content)

	amount, err := localization.ExtractPlausibleAmount(pre.Text)
	if err != nil {
		result.Error = "no labeled amount found in docx text"
		result.Confidence = models.ConfidenceMedium
		return result
	}
	result.GesamtAmount = decimalPtr(amount)
	return result
}
