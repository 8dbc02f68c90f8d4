package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
)

// RasterizedPage is one PDF page rendered to an image, ready for the vision
// extractor.
type RasterizedPage struct {
	ImageBase64 string
	MediaType   string
}

// PageRasterizer renders a PDF's pages to images for the scanned-PDF vision
// fallback (§4.G). Rasterization itself is an external collaborator's
// concern (no rasterization library lives in this module); the concrete
// implementation below calls out to a dedicated rasterization service over
// HTTP, the same external-collaborator pattern pkg/worker uses for
// attachment fetching.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdfData []byte) ([]RasterizedPage, error)
}

// HTTPRasterizer posts raw PDF bytes to an external rasterization service
// and decodes its page images.
type HTTPRasterizer struct {
	http     *http.Client
	endpoint string
}

func NewHTTPRasterizer(client *http.Client, endpoint string) *HTTPRasterizer {
	return &HTTPRasterizer{http: client, endpoint: endpoint}
}

type rasterizeResponse struct {
	Pages []struct {
		ImageBase64 string `json:"image_base64"`
		MediaType   string `json:"media_type"`
	} `json:"pages"`
}

func (r *HTTPRasterizer) Rasterize(ctx context.Context, pdfData []byte) ([]RasterizedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(pdfData))
	if err != nil {
		return nil, apperrors.NetworkError("build rasterizer request", r.endpoint, err)
	}
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError("call rasterizer", r.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rasterizer returned status %d", resp.StatusCode)
	}

	var decoded rasterizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.ParseError("rasterizer response", "json", err)
	}

	pages := make([]RasterizedPage, 0, len(decoded.Pages))
	for _, p := range decoded.Pages {
		if _, err := base64.StdEncoding.DecodeString(p.ImageBase64); err != nil {
			continue
		}
		pages = append(pages, RasterizedPage{ImageBase64: p.ImageBase64, MediaType: p.MediaType})
	}
	return pages, nil
}
