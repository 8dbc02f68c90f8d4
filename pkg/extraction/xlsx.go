package extraction

import (
	"bytes"
	"strings"

	"github.com/qax-os/excelize/v2"

	"github.com/justLukaBB/creditor-email-matcher/pkg/localization"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// gesamtRowLabels are the row-label cell values recognized as carrying the
// Gesamtbetrag in a creditor's ledger-style spreadsheet attachment.
var gesamtRowLabels = []string{"gesamtforderung", "gesamtbetrag", "forderungshöhe", "restschuld", "betrag"}

// XLSXExtractor scans every sheet's first two columns for a labeled total
// row, via qax-os/excelize/v2 (§4.G, table-scan method).
type XLSXExtractor struct{}

func NewXLSXExtractor() *XLSXExtractor { return &XLSXExtractor{} }

func (e *XLSXExtractor) Extract(data []byte) *models.ExtractionResult {
	result := &models.ExtractionResult{
		SourceKind:       models.SourceXLSX,
		ExtractionMethod: models.MethodTableScan,
		Confidence:       models.ConfidenceMedium,
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		result.Error = err.Error()
		result.Confidence = models.ConfidenceLow
		return result
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			label := strings.ToLower(strings.TrimSpace(row[0]))
			if !matchesGesamtLabel(label) {
				continue
			}
			pre := localization.Preprocess(row[1])
			amount, err := localization.ParseAmount(pre.Text)
			if err != nil {
				continue
			}
			result.GesamtAmount = decimalPtr(amount)
			result.Confidence = models.ConfidenceHigh
			return result
		}
	}

	result.Error = "no labeled total row found in any sheet"
	return result
}

func matchesGesamtLabel(label string) bool {
	for _, candidate := range gesamtRowLabels {
		if strings.Contains(label, candidate) {
			return true
		}
	}
	return false
}
