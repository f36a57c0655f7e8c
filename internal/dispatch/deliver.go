package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"campaign-mailer-go/internal/mailtemplate"
	"campaign-mailer-go/internal/message"
	"campaign-mailer-go/internal/recipient"
)

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (d *Dispatcher) vars(rcpt recipient.Recipient) map[string]string {
	vars := rcpt.Vars()
	vars["URL"] = d.opts.LandingURL
	vars["TrackingURL"] = ""
	if d.instrumenter != nil {
		vars["TrackingURL"] = "https://" + d.instrumenter.Domain()
	}
	return vars
}

// deliver personalizes, tracks and sends one template to one recipient
func (d *Dispatcher) deliver(ctx context.Context, campaignID string, tmpl *mailtemplate.Template, attachments []message.Attachment, rcpt recipient.Recipient) outcome {
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign_id", campaignID),
		attribute.String("template", tmpl.ID),
		attribute.String("recipient", rcpt.Email),
	)

	log := logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"template":    tmpl.ID,
		"recipient":   rcpt.Email,
	})

	subject, body := tmpl.ReplacePlaceholders(d.vars(rcpt))

	msg := &message.Message{
		FromName:    d.opts.Sender.Name,
		From:        d.opts.Sender.Email,
		To:          rcpt.Email,
		ReplyTo:     d.opts.Sender.ReplyTo,
		Subject:     subject,
		Body:        body,
		IsHTML:      tmpl.IsHTML,
		Headers:     map[string]string{message.HeaderCampaignID: campaignID},
		Attachments: attachments,
	}

	if d.instrumenter != nil {
		messageID, err := d.instrumenter.RegisterSend(ctx, rcpt.Email, tmpl.ID, campaignID, nil)
		if err != nil {
			log.Errorf("Failed to register send, skipping recipient: %v", err)
			d.skipped()
			span.RecordError(err)
			span.SetStatus(codes.Error, "register failed")
			return outcomeSkipped
		}
		log = log.WithField("message_id", messageID)

		instrumented, err := d.instrumenter.Instrument(ctx, body, tmpl.IsHTML, messageID)
		if err != nil {
			log.Errorf("Failed to instrument message, skipping recipient: %v", err)
			d.skipped()
			span.RecordError(err)
			span.SetStatus(codes.Error, "instrument failed")
			return outcomeSkipped
		}
		msg.Body = instrumented
		msg.Headers[message.HeaderEmailID] = messageID
	}

	start := time.Now()
	err := d.transport.Send(ctx, msg, rcpt.Email)
	if d.metrics != nil {
		d.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		log.Errorf("Failed to send email: %v", err)
		if d.metrics != nil {
			d.metrics.MessagesFailed.WithLabelValues(tmpl.ID).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return outcomeFailed
	}

	log.Info("Successfully sent email")
	if d.metrics != nil {
		d.metrics.MessagesSent.WithLabelValues(tmpl.ID).Inc()
	}
	span.SetStatus(codes.Ok, "sent")
	return outcomeSent
}

func (d *Dispatcher) skipped() {
	if d.metrics != nil {
		d.metrics.MessagesSkipped.Inc()
	}
}
