package transport

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/message"
)

// SendGridTransport sends messages through the SendGrid v3 mail API
type SendGridTransport struct {
	client *sendgrid.Client
}

// NewSendGridTransport creates a SendGrid transport
func NewSendGridTransport(cfg config.SendGridConfig) (*SendGridTransport, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("SendGrid API key is required")
	}
	return &SendGridTransport{client: sendgrid.NewSendClient(cfg.APIKey)}, nil
}

// Name returns the transport name
func (t *SendGridTransport) Name() string {
	return "sendgrid"
}

// Close is a no-op
func (t *SendGridTransport) Close() error {
	return nil
}

func buildSendGridMail(msg *message.Message, recipient string) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(msg.FromName, msg.From))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", recipient))
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent(msg.ContentType(), msg.Body))

	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m
}

// Attempt sends the message once
func (t *SendGridTransport) Attempt(ctx context.Context, msg *message.Message, recipient string) error {
	resp, err := t.client.SendWithContext(ctx, buildSendGridMail(msg, recipient))
	if err != nil {
		return fmt.Errorf("failed to send via SendGrid: %w", err)
	}
	if resp.StatusCode >= 400 {
		body := resp.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return nil
}
