package worker

import (
	"context"
	"io"
	"net/http"

	"github.com/justLukaBB/creditor-email-matcher/pkg/agents"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
)

// HTTPAttachmentFetcher fetches attachment bytes from the URLs the webhook
// payload carries (§6 external object-store collaborator) and classifies
// each by its declared content type.
type HTTPAttachmentFetcher struct {
	client     *http.Client
	maxSize    int64
}

func NewHTTPAttachmentFetcher(client *http.Client, maxSize int64) *HTTPAttachmentFetcher {
	return &HTTPAttachmentFetcher{client: client, maxSize: maxSize}
}

func (f *HTTPAttachmentFetcher) Fetch(ctx context.Context, descriptors []models.AttachmentDescriptor) ([]agents.Attachment, error) {
	var out []agents.Attachment
	for _, d := range descriptors {
		if d.Size > f.maxSize {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
		if err != nil {
			return nil, apperrors.NetworkError("build attachment request", d.URL, err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, apperrors.NetworkError("fetch attachment", d.URL, err)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize))
		resp.Body.Close()
		if err != nil {
			return nil, apperrors.NetworkError("read attachment body", d.URL, err)
		}
		out = append(out, agents.Attachment{DocType: classify(d.ContentType), Data: data})
	}
	return out, nil
}

func classify(contentType string) models.DocumentType {
	switch contentType {
	case "application/pdf":
		return models.DocTypeNativePDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return models.DocTypeDOCX
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return models.DocTypeXLSX
	case "image/jpeg", "image/png":
		return models.DocTypeImage
	default:
		return models.DocTypeUnknown
	}
}
