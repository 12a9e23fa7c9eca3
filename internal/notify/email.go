package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailSink sends a plain-text mail per notification over SMTP.
type EmailSink struct {
	dialer    *gomail.Dialer
	from      string
	receivers []string
}

func NewEmailSink(host string, port int, from, password string, receivers []string) *EmailSink {
	return &EmailSink{
		dialer:    gomail.NewDialer(host, port, from, password),
		from:      from,
		receivers: receivers,
	}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.message(n)); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	return nil
}

func (s *EmailSink) message(n Notification) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.receivers...)
	m.SetHeader("Subject", subject(n))
	m.SetBody("text/plain", body(n))
	return m
}

func subject(n Notification) string {
	return fmt.Sprintf("[%s] %s: %s", n.Level, n.Status, n.Title)
}

func body(n Notification) string {
	return fmt.Sprintf(`Host: %d
Metric: %s
Alert Level: %s
Status: %s
Value: %.2f
Threshold: %.2f
Message: %s
Time: %s
Reference: %s
`, n.HostID, n.Key, n.Level, n.Status, n.Value, n.Threshold, n.Message, formatTime(n.At), n.Ref)
}
