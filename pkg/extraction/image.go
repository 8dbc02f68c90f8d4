package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	"github.com/justLukaBB/creditor-email-matcher/pkg/llmvendor"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// maxImageDimension bounds the longest edge sent to the vendor, keeping
// vision calls within a predictable token cost regardless of the original
// attachment resolution.
const maxImageDimension = 1600

// ImageExtractor handles standalone image attachments (photographed letters,
// screenshots) by downscaling and delegating to the same vision path as the
// scanned-PDF extractor.
type ImageExtractor struct {
	scanned *ScannedPDFExtractor
}

func NewImageExtractor(scanned *ScannedPDFExtractor) *ImageExtractor {
	return &ImageExtractor{scanned: scanned}
}

func (e *ImageExtractor) Extract(ctx context.Context, data []byte, budget *JobBudget) (*models.ExtractionResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return &models.ExtractionResult{SourceKind: models.SourceImage, Error: err.Error()}, err
	}

	resized := imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return &models.ExtractionResult{SourceKind: models.SourceImage, Error: err.Error()}, err
	}

	result, err := e.scanned.Extract(ctx, base64.StdEncoding.EncodeToString(buf.Bytes()), "image/jpeg", budget)
	if result != nil {
		result.SourceKind = models.SourceImage
		baseline := models.ConfidenceBaseline[models.SourceImage]
		if result.Confidence == models.ConfidenceMedium && baseline < 0.75 {
			result.Confidence = models.ConfidenceLow
		}
	}
	return result, err
}
