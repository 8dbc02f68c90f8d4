// Package doc is the document-store adapter (component A): the second
// write target of the dual-write saga. The concrete store is an external
// REST collaborator (spec §6); this package fixes the Client contract the
// outbox depends on and a concrete HTTP implementation grounded on the
// teacher's shared httpclient package.
package doc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/httpclient"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

// Effect is one dual-write's DOC-store side: an idempotent upsert keyed by
// IdempotencyKey.
type Effect struct {
	AggregateType  string
	AggregateID    string
	Operation      string
	Payload        []byte
	IdempotencyKey string
}

// Client applies a durable Effect to the document store and returns the
// store's response body, to be cached against the idempotency key.
type Client interface {
	Apply(ctx context.Context, effect Effect) ([]byte, error)
	// Get fetches the current document at aggregateType/aggregateID. ok is
	// false when the document store has nothing under that key (a 404),
	// distinct from a transport error.
	Get(ctx context.Context, aggregateType, aggregateID string) (body []byte, ok bool, err error)
}

// DebtRecord is the DOC store's shape for the "debt" aggregate, the record
// Agent 3 (§4.I) compares its consolidated extraction against for conflict
// detection.
type DebtRecord struct {
	TicketID     string `json:"ticket_id"`
	ClientName   string `json:"client_name"`
	CreditorName string `json:"creditor_name"`
	Amount       string `json:"amount"`
}

// RESTClient calls a document-store HTTP API, the concrete collaborator
// named in §6, using the shared httpclient the teacher's other REST
// adapters build on.
type RESTClient struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

func NewRESTClient(cfg httpclient.ClientConfig, baseURL string, logger *zap.Logger) *RESTClient {
	return &RESTClient{http: httpclient.NewClient(cfg), baseURL: baseURL, logger: logger}
}

type applyRequest struct {
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
	Operation     string `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
}

// Apply sends the effect to the document store as an idempotent PUT, keyed
// by IdempotencyKey in a header so retries are safely deduplicated
// server-side too.
func (c *RESTClient) Apply(ctx context.Context, effect Effect) ([]byte, error) {
	body, err := json.Marshal(applyRequest{
		AggregateType: effect.AggregateType,
		AggregateID:   effect.AggregateID,
		Operation:     effect.Operation,
		Payload:       effect.Payload,
	})
	if err != nil {
		return nil, apperrors.ParseError("doc effect", "json", err)
	}

	url := fmt.Sprintf("%s/documents/%s/%s", c.baseURL, effect.AggregateType, effect.AggregateID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NetworkError("build doc store request", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", effect.IdempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError("call doc store", url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, apperrors.NetworkError("read doc store response", url, err)
	}

	if resp.StatusCode >= 300 {
		c.logger.Error("doc store apply failed", logging.HTTPFields(http.MethodPut, url, resp.StatusCode).ToZap()...)
		return nil, fmt.Errorf("doc store returned status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

// Get fetches the current document at aggregateType/aggregateID, the read
// side of Agent 3's DOC-store conflict check (§4.I).
func (c *RESTClient) Get(ctx context.Context, aggregateType, aggregateID string) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/documents/%s/%s", c.baseURL, aggregateType, aggregateID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, apperrors.NetworkError("build doc store request", url, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, apperrors.NetworkError("call doc store", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, false, apperrors.NetworkError("read doc store response", url, err)
	}
	if resp.StatusCode >= 300 {
		c.logger.Error("doc store get failed", logging.HTTPFields(http.MethodGet, url, resp.StatusCode).ToZap()...)
		return nil, false, fmt.Errorf("doc store returned status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), true, nil
}
