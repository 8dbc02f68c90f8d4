package models

import "github.com/shopspring/decimal"

// SourceKind identifies which extractor produced an ExtractionResult.
type SourceKind string

const (
	SourceBody       SourceKind = "email_body"
	SourceNativePDF  SourceKind = "native_pdf"
	SourceScannedPDF SourceKind = "scanned_pdf"
	SourceDOCX       SourceKind = "docx"
	SourceXLSX       SourceKind = "xlsx"
	SourceImage      SourceKind = "image"
	SourceUnknown    SourceKind = "unknown"
)

// SourcePriority is the §4.G consolidation ordering: highest first.
// This is deliberately distinct from DocumentTypePriority (§4.J), which
// orders calibration's dominant-type derivation differently.
var SourcePriority = map[SourceKind]int{
	SourceNativePDF:  6,
	SourceDOCX:       5,
	SourceXLSX:       4,
	SourceScannedPDF: 3,
	SourceBody:       2,
	SourceImage:      1,
	SourceUnknown:    0,
}

// ConfidenceBaseline is the §4.G per-source starting confidence.
var ConfidenceBaseline = map[SourceKind]float64{
	SourceNativePDF:  0.95,
	SourceDOCX:       0.90,
	SourceXLSX:       0.85,
	SourceBody:       0.80,
	SourceScannedPDF: 0.75,
	SourceImage:      0.70,
	SourceUnknown:    0.60,
}

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

type ExtractionMethod string

const (
	MethodNativeText ExtractionMethod = "native-text"
	MethodVision     ExtractionMethod = "vision"
	MethodRegex      ExtractionMethod = "regex"
	MethodTableScan  ExtractionMethod = "table-scan"
	MethodSkipped    ExtractionMethod = "skipped"
)

// ExtractionResult is the uniform, transient shape every extractor produces
// (§3.1, §4.G).
type ExtractionResult struct {
	SourceKind       SourceKind
	GesamtAmount     *decimal.Decimal
	ClientName       string
	CreditorName     string
	Confidence       Confidence
	ExtractionMethod ExtractionMethod
	TokensUsed       int
	Error            string
}

// HasAmount reports whether this source contributed a usable amount.
func (r *ExtractionResult) HasAmount() bool {
	return r != nil && r.GesamtAmount != nil
}

// PerFieldConfidence tracks HIGH/MEDIUM/LOW per consolidated field.
type PerFieldConfidence struct {
	Amount       Confidence
	ClientName   Confidence
	CreditorName Confidence
}

// ConsolidatedResult is the transient, authoritative fused record (§3.1, §4.H).
type ConsolidatedResult struct {
	FinalAmount         decimal.Decimal
	ClientName          string
	CreditorName        string
	PerFieldConfidence  PerFieldConfidence
	SourcesProcessed    []SourceKind
	SourcesWithAmount   int
	DisagreeingSources  int
	WeakestLinkDimension string
	TotalTokens         int
	ExtractionMethodMix map[ExtractionMethod]int
	OverallConfidence   float64
}
