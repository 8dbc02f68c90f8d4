// Package llmvendor binds the three-agent pipeline and the vision/text
// extractors to a concrete LLM provider via anthropic-sdk-go, in the style
// of the teacher's pkg/slm vendor-client wrapper: one narrow interface, one
// concrete implementation, trivially fakeable in tests.
package llmvendor

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

// CompletionRequest is the provider-agnostic shape every caller builds.
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// ImageBase64/ImageMediaType are set for vision calls (scanned PDF pages,
	// standalone images); empty for text-only calls.
	ImageBase64    string
	ImageMediaType string
}

// CompletionResult carries the generated text plus token accounting the
// budget and cost-breaker components need.
type CompletionResult struct {
	Text         string
	TokensIn     int
	TokensOut    int
	StopReason   string
}

// Client is the narrow surface the agents and extractors depend on.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// AnthropicClient wraps anthropic-sdk-go.
type AnthropicClient struct {
	client anthropic.Client
	logger *zap.Logger
}

func NewAnthropicClient(apiKey string, timeout time.Duration, logger *zap.Logger) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(timeout),
		),
		logger: logger,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	start := time.Now()

	content := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(req.User),
	}
	if req.ImageBase64 != "" {
		content = append(content, anthropic.NewImageBlockBase64(req.ImageMediaType, req.ImageBase64))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(content...),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.logger.Error("llm completion failed",
			logging.AIFields("complete", req.Model).Duration(time.Since(start)).Error(err).ToZap()...)
		return CompletionResult{}, apperrors.NetworkError("anthropic messages.new", req.Model, err)
	}

	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	result := CompletionResult{
		Text:       text,
		TokensIn:   int(msg.Usage.InputTokens),
		TokensOut:  int(msg.Usage.OutputTokens),
		StopReason: string(msg.StopReason),
	}
	c.logger.Debug("llm completion succeeded",
		logging.AIFields("complete", req.Model).Duration(time.Since(start)).
			Custom("tokens_in", result.TokensIn).Custom("tokens_out", result.TokensOut).ToZap()...)
	return result, nil
}

// EstimateCostUSD applies a flat per-1K-token price to a completion, the
// conservative estimate the daily cost circuit breaker charges against.
// Real per-model pricing is an operational config the caller supplies.
func EstimateCostUSD(tokensIn, tokensOut int, pricePerThousandIn, pricePerThousandOut float64) float64 {
	return float64(tokensIn)/1000*pricePerThousandIn + float64(tokensOut)/1000*pricePerThousandOut
}
