// Package notify implements the two concrete notification transports named
// in spec §7: a Slack message to the review audience for UPDATE_AND_NOTIFY
// and manual-review escalations, and an SMTP email to the on-call admin for
// permanent job failures, grounded on the teacher's pkg/notifications
// pattern (one struct per channel, a single Notify-style method).
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/shared/logging"
)

// SlackNotifier posts review-audience messages via an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	logger     *zap.Logger
}

func NewSlackNotifier(webhookURL, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, channel: channel, logger: logger}
}

// NotifyReview posts a message for a job routed to UPDATE_AND_NOTIFY or
// enqueued for MANUAL_REVIEW (§4.J).
func (n *SlackNotifier) NotifyReview(ctx context.Context, job models.IncomingJob, route models.ConfidenceRoute, reason models.ReviewReason) error {
	if n.webhookURL == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text: fmt.Sprintf("Job %s (ticket %s) routed %s: %s",
			job.ID, job.TicketID, route, reason),
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		n.logger.Error("slack notification failed", logging.JobFields("notify_review", job.ID).Error(err).ToZap()...)
		return apperrors.NetworkError("post slack webhook", n.webhookURL, err)
	}
	return nil
}

// SMTPNotifier emails the on-call admin when a job's retries are exhausted
// (§4.D permanent-failure hook).
type SMTPNotifier struct {
	host       string
	port       int
	adminEmail string
	from       string
	logger     *zap.Logger
}

func NewSMTPNotifier(host string, port int, adminEmail, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, adminEmail: adminEmail, from: from, logger: logger}
}

// NotifyPermanentFailure satisfies worker.FailureNotifier.
func (n *SMTPNotifier) NotifyPermanentFailure(_ context.Context, job models.IncomingJob, cause error) error {
	if n.host == "" {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	subject := fmt.Sprintf("Subject: Job %s failed permanently\r\n", job.ID)
	body := fmt.Sprintf("Job %s (ticket %s, from %s) exhausted retries.\r\n\r\nCause: %s\r\n",
		job.ID, job.TicketID, job.FromEmail, cause)
	msg := []byte(subject + "\r\n" + body)

	err := smtp.SendMail(addr, nil, n.from, []string{n.adminEmail}, msg)
	if err != nil {
		n.logger.Error("permanent failure email failed",
			logging.JobFields("notify_failure", job.ID).Error(err).ToZap()...)
		return apperrors.NetworkError("send smtp mail", addr, err)
	}
	return nil
}
