package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/netmon/internal/models"
)

// SlackSink posts notifications either through the Web API (token + channel)
// or an incoming webhook.
type SlackSink struct {
	client     *slack.Client
	channel    string
	webhookURL string
}

func NewSlackSink(token, channel, webhookURL string, opts ...slack.Option) *SlackSink {
	s := &SlackSink{channel: channel, webhookURL: webhookURL}
	if token != "" {
		s.client = slack.New(token, opts...)
	}
	return s
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, n Notification) error {
	attachment := buildAttachment(n)

	if s.webhookURL != "" {
		msg := &slack.WebhookMessage{
			Channel:     s.channel,
			IconEmoji:   getAlertEmoji(n),
			Attachments: []slack.Attachment{attachment},
		}
		if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
			return fmt.Errorf("failed to post slack webhook: %w", err)
		}
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("slack sink has neither token nor webhook")
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}

func buildAttachment(n Notification) slack.Attachment {
	title := n.Title
	if n.Status == models.AlertStatusResolved {
		title = "[RESOLVED] " + title
	}
	fields := []slack.AttachmentField{
		{Title: "Host", Value: fmt.Sprintf("%d", n.HostID), Short: true},
		{Title: "Level", Value: string(n.Level), Short: true},
		{Title: "Status", Value: string(n.Status), Short: true},
		{Title: "Value", Value: fmt.Sprintf("%.2f", n.Value), Short: true},
	}
	if n.Key != "" {
		fields = append(fields, slack.AttachmentField{Title: "Metric", Value: n.Key, Short: true})
	}
	return slack.Attachment{
		Color:  getAlertColor(n),
		Title:  title,
		Text:   n.Message,
		Fields: fields,
		Footer: "netmon " + n.Ref,
		Ts:     json.Number(strconv.FormatInt(n.At.Unix(), 10)),
	}
}

func getAlertColor(n Notification) string {
	if n.Status == models.AlertStatusResolved {
		return "#36a64f"
	}
	switch n.Level {
	case models.AlertLevelCritical:
		return "#ff0000"
	case models.AlertLevelWarning:
		return "#ffcc00"
	case models.AlertLevelInfo:
		return "#0000ff"
	default:
		return "#808080"
	}
}

func getAlertEmoji(n Notification) string {
	if n.Status == models.AlertStatusResolved {
		return ":white_check_mark:"
	}
	switch n.Level {
	case models.AlertLevelCritical:
		return ":red_circle:"
	case models.AlertLevelWarning:
		return ":warning:"
	case models.AlertLevelInfo:
		return ":information_source:"
	default:
		return ":bell:"
	}
}

// formatTime is shared with the e-mail body.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
