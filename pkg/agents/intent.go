// Package agents implements the three-agent pipeline of §4.I: intent
// classification, extraction orchestration, and consolidation/conflict
// detection, each recording a checkpoint on the job (Pipeline documents
// which checkpoints a retried job reuses).
package agents

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/justLukaBB/creditor-email-matcher/pkg/llmvendor"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	"github.com/justLukaBB/creditor-email-matcher/pkg/prompts"
)

// IntentLabel is Agent 1's classification output: one of the six intents
// §4.I names.
type IntentLabel string

const (
	IntentDebtStatement IntentLabel = "debt_statement"
	IntentPaymentPlan   IntentLabel = "payment_plan"
	IntentRejection     IntentLabel = "rejection"
	IntentInquiry       IntentLabel = "inquiry"
	IntentAutoReply     IntentLabel = "auto_reply"
	IntentSpam          IntentLabel = "spam"
)

// intentNeedsReviewThreshold is the §4.I Agent 1 gate: below this
// confidence, needs_review is set and the ambiguous-response default applies.
const intentNeedsReviewThreshold = 0.7

// IntentResult is Agent 1's output, including the confidence dimension the
// consolidator folds into routing.
type IntentResult struct {
	Label      IntentLabel
	Confidence float64
}

// SkipExtraction reports whether this intent short-circuits the pipeline to
// NOT_CREDITOR_REPLY without ever running Agent 2 (§4.I: "skip_extraction =
// intent ∈ {auto_reply, spam}").
func (r IntentResult) SkipExtraction() bool {
	return r.Label == IntentAutoReply || r.Label == IntentSpam
}

// NeedsReview reports whether Agent 1's own confidence gate is tripped.
func (r IntentResult) NeedsReview() bool {
	return r.Confidence < intentNeedsReviewThreshold
}

// fastPathSubjectMarkers are out-of-office patterns in German and English
// the rule-based fast path matches on the subject line (§4.I).
var fastPathSubjectMarkers = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"abwesenheitsnotiz",
	"automatische antwort",
	"automatische antwort auf ihre nachricht",
}

// noReplyLocalPart matches a sender local-part like "no-reply", "noreply",
// "no_reply" case-insensitively, the §4.I sender-address fast path for spam.
var noReplyLocalPart = regexp.MustCompile(`(?i)^no[-._]?reply`)

// IntentAgent classifies an inbound email as a genuine creditor reply or
// something the pipeline should short-circuit (§4.I Agent 1).
type IntentAgent struct {
	vendor   llmvendor.Client
	registry *prompts.Registry
	model    string
}

func NewIntentAgent(vendor llmvendor.Client, registry *prompts.Registry, model string) *IntentAgent {
	return &IntentAgent{vendor: vendor, registry: registry, model: model}
}

// Classify first tries the rule-based fast path over headers, subject, and
// sender address; only on a miss does it call the LLM against the active
// "classification/intent" prompt template.
func (a *IntentAgent) Classify(ctx context.Context, subject, bodyText string, headers map[string]string, fromEmail string) (IntentResult, error) {
	if label, ok := fastPathMatch(subject, headers, fromEmail); ok {
		return IntentResult{Label: label, Confidence: 1.0}, nil
	}

	rendered, tmpl, err := a.registry.RenderActive(ctx, models.TaskClassification, "intent", map[string]interface{}{
		"subject": subject,
		"body":    bodyText,
	})
	if err != nil {
		return IntentResult{}, err
	}

	resp, err := a.vendor.Complete(ctx, llmvendor.CompletionRequest{
		Model:       a.model,
		System:      tmpl.SystemText,
		User:        rendered,
		Temperature: tmpl.Temperature,
		MaxTokens:   tmpl.MaxTokens,
	})
	if err != nil {
		return IntentResult{}, err
	}

	return parseIntentResponse(resp.Text), nil
}

// fastPathMatch implements §4.I's zero-cost rule-based path: an
// Auto-Submitted or X-Auto-Response-Suppress header wins first, then a
// subject-line out-of-office pattern, then a no-reply sender local-part.
// Ambiguous messages fall through to the LLM.
func fastPathMatch(subject string, headers map[string]string, fromEmail string) (IntentLabel, bool) {
	if headerIndicatesAutoResponse(headers) {
		return IntentAutoReply, true
	}

	lowerSubject := strings.ToLower(subject)
	for _, marker := range fastPathSubjectMarkers {
		if strings.Contains(lowerSubject, marker) {
			return IntentAutoReply, true
		}
	}

	if localPart, ok := splitLocalPart(fromEmail); ok && noReplyLocalPart.MatchString(localPart) {
		return IntentSpam, true
	}

	return "", false
}

// headerIndicatesAutoResponse reads the two standard auto-responder
// signaling headers §4.I names: Auto-Submitted != "no", or
// X-Auto-Response-Suppress containing DR/AutoReply/All.
func headerIndicatesAutoResponse(headers map[string]string) bool {
	if v, ok := lookupHeader(headers, "Auto-Submitted"); ok && !strings.EqualFold(strings.TrimSpace(v), "no") {
		return true
	}
	if v, ok := lookupHeader(headers, "X-Auto-Response-Suppress"); ok {
		upper := strings.ToUpper(v)
		for _, token := range []string{"DR", "AUTOREPLY", "ALL"} {
			if strings.Contains(upper, token) {
				return true
			}
		}
	}
	return false
}

// lookupHeader is case-insensitive since email headers are canonically
// case-insensitive but the ingest payload's Headers map (§4.E) carries
// whatever casing the sending MTA used.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func splitLocalPart(email string) (string, bool) {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "", false
	}
	return email[:at], true
}

// parseIntentResponse reads the model's first line as the label and, if
// present, a trailing "confidence: 0.NN" token. When the model's label
// doesn't match any of the six known intents, §4.I mandates defaulting to
// debt_statement at confidence < 0.7 and letting downstream confidence
// routing flag it, rather than dropping the message as unrelated.
func parseIntentResponse(text string) IntentResult {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	lower := strings.ToLower(line)

	result := IntentResult{Confidence: 0.75}
	switch {
	case strings.Contains(lower, "payment_plan"):
		result.Label = IntentPaymentPlan
	case strings.Contains(lower, "rejection"):
		result.Label = IntentRejection
	case strings.Contains(lower, "inquiry"):
		result.Label = IntentInquiry
	case strings.Contains(lower, "auto_reply"):
		result.Label = IntentAutoReply
	case strings.Contains(lower, "spam"):
		result.Label = IntentSpam
	case strings.Contains(lower, "debt_statement"):
		result.Label = IntentDebtStatement
	default:
		result.Label = IntentDebtStatement
		result.Confidence = 0.5
	}

	if conf, ok := parseConfidenceToken(lower); ok {
		result.Confidence = conf
	}
	return result
}

// parseConfidenceToken extracts a "confidence: 0.NN" token if the model
// included one, overriding the fixed defaults above.
func parseConfidenceToken(lower string) (float64, bool) {
	idx := strings.Index(lower, "confidence")
	if idx < 0 {
		return 0, false
	}
	rest := lower[idx:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return 0, false
	}
	numPart := strings.TrimSpace(rest[colon+1:])
	end := 0
	for end < len(numPart) && (numPart[end] == '.' || (numPart[end] >= '0' && numPart[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	conf, err := strconv.ParseFloat(numPart[:end], 64)
	if err != nil {
		return 0, false
	}
	return conf, true
}
