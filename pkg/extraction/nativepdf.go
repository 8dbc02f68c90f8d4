package extraction

import (
	"bytes"
	"context"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/justLukaBB/creditor-email-matcher/pkg/localization"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// NativePDFExtractor pulls the embedded text layer from a PDF via
// ledongthuc/pdf. It is the highest-confidence document source (§4.G) when
// the PDF carries a usable text layer; callers fall back to the scanned-PDF
// (vision) path when the extracted-text-to-filesize ratio is too low.
type NativePDFExtractor struct {
	maxPages int
}

func NewNativePDFExtractor(maxPages int) *NativePDFExtractor {
	return &NativePDFExtractor{maxPages: maxPages}
}

// minUsableTextRatio is the §4.G threshold: a PDF whose extracted text is
// less than 1% of its file size is treated as a scanned (image-only)
// document, triggering the vision fallback, rather than a fixed character
// count (a large image-heavy native PDF can legitimately carry under 40
// characters of genuine label text per page).
const minUsableTextRatio = 0.01

func (e *NativePDFExtractor) Extract(_ context.Context, data []byte) (*models.ExtractionResult, string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	for _, i := range pagesToProcess(reader.NumPage(), e.maxPages) {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil && err != io.EOF {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	rawText := buf.String()
	if len(data) > 0 && float64(len(rawText))/float64(len(data)) < minUsableTextRatio {
		return nil, rawText, nil
	}

	pre := localization.Preprocess(rawText)
	result := &models.ExtractionResult{
		SourceKind:       models.SourceNativePDF,
		ExtractionMethod: models.MethodNativeText,
		Confidence:       models.ConfidenceHigh,
	}
	amount, err := localization.ExtractPlausibleAmount(pre.Text)
	if err != nil {
		result.Error = "no labeled amount found in native pdf text"
		result.Confidence = models.ConfidenceMedium
		return result, pre.Text, nil
	}
	result.GesamtAmount = decimalPtr(amount)
	return result, pre.Text, nil
}

// pagesToProcess implements the §4.G truncation rule for documents
// exceeding the page budget: the first 5 and last 5 pages, rather than a
// simple prefix, since the Gesamtbetrag as often sits on a closing summary
// page as on the opening one.
func pagesToProcess(totalPages, maxPages int) []int {
	pages := make([]int, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		pages = append(pages, i)
	}
	if maxPages <= 0 || totalPages <= maxPages {
		return pages
	}

	half := maxPages / 2
	if half == 0 {
		half = 1
	}
	selected := make([]int, 0, maxPages)
	selected = append(selected, pages[:half]...)
	tailStart := totalPages - half
	if tailStart < half {
		tailStart = half
	}
	selected = append(selected, pages[tailStart:]...)
	return selected
}
