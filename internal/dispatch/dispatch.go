// Package dispatch runs one campaign: every template to every recipient, in
// paced batches, isolating per-recipient failures.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/mailtemplate"
	"campaign-mailer-go/internal/message"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/recipient"
	"campaign-mailer-go/internal/transport"
)

// Instrumenter registers sends and rewrites bodies for tracking
type Instrumenter interface {
	RegisterSend(ctx context.Context, recipient, templateID, campaignID string, metadata map[string]string) (string, error)
	Instrument(ctx context.Context, body string, isHTML bool, messageID string) (string, error)
	Domain() string
}

// AttachmentTooLargeError aborts a run before anything is sent
type AttachmentTooLargeError struct {
	Template   string
	Attachment string
	Size       int64
	Limit      int64
}

// Error implements the error interface.
func (e *AttachmentTooLargeError) Error() string {
	return fmt.Sprintf("template %s: attachment %s is %d bytes, limit is %d",
		e.Template, e.Attachment, e.Size, e.Limit)
}

// Options controls pacing and message identity
type Options struct {
	BatchSize         int
	MessageDelay      time.Duration
	BatchDelay        time.Duration
	MaxAttachmentSize int64
	Sender            config.SenderConfig
	LandingURL        string
}

// OptionsFromConfig builds dispatch options from application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchSize:         cfg.Dispatch.BatchSize,
		MessageDelay:      cfg.Dispatch.MessageDelay,
		BatchDelay:        cfg.Dispatch.BatchDelay,
		MaxAttachmentSize: cfg.Dispatch.MaxAttachmentSize,
		Sender:            cfg.Sender,
		LandingURL:        cfg.Campaign.LandingURL,
	}
}

// Campaign is one run's input
type Campaign struct {
	ID         string
	Templates  []*mailtemplate.Template
	Recipients []recipient.Recipient
}

// Summary reports the outcome of a run
type Summary struct {
	CampaignID string        `json:"campaign_id"`
	Templates  int           `json:"templates"`
	Attempted  int           `json:"attempted"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Dispatcher sends a campaign through one transport. It is not safe for
// concurrent runs.
type Dispatcher struct {
	transport    transport.Transport
	instrumenter Instrumenter
	metrics      *metrics.Metrics
	opts         Options
	sleep        func(ctx context.Context, d time.Duration) error
	tracer       trace.Tracer
}

// New creates a dispatcher. instrumenter may be nil to send untracked.
func New(t transport.Transport, instrumenter Instrumenter, m *metrics.Metrics, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Dispatcher{
		transport:    t,
		instrumenter: instrumenter,
		metrics:      m,
		opts:         opts,
		sleep:        sleepContext,
		tracer:       otel.Tracer("campaign-mailer-go/dispatch"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkAttachments rejects any attachment above the size limit
func (d *Dispatcher) checkAttachments(templates []*mailtemplate.Template) error {
	if d.opts.MaxAttachmentSize <= 0 {
		return nil
	}
	for _, tmpl := range templates {
		for _, path := range tmpl.AttachmentPaths() {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to stat attachment %s: %w", path, err)
			}
			if info.Size() > d.opts.MaxAttachmentSize {
				return &AttachmentTooLargeError{
					Template:   tmpl.ID,
					Attachment: info.Name(),
					Size:       info.Size(),
					Limit:      d.opts.MaxAttachmentSize,
				}
			}
		}
	}
	return nil
}

// Run sends every template to every recipient. Per-recipient failures are
// counted in the summary; only setup problems and cancellation return an error.
func (d *Dispatcher) Run(ctx context.Context, campaign Campaign) (Summary, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign_id", campaign.ID),
		attribute.Int("templates", len(campaign.Templates)),
		attribute.Int("recipients", len(campaign.Recipients)),
	)

	start := time.Now()
	summary := Summary{CampaignID: campaign.ID, Templates: len(campaign.Templates)}

	if err := d.checkAttachments(campaign.Templates); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attachment check failed")
		return summary, err
	}

	attachments := make(map[string][]message.Attachment, len(campaign.Templates))
	for _, tmpl := range campaign.Templates {
		loaded, err := message.LoadAttachments(tmpl.AttachmentPaths())
		if err != nil {
			return summary, fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
		attachments[tmpl.ID] = loaded
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"templates":   len(campaign.Templates),
		"recipients":  len(campaign.Recipients),
		"transport":   d.transport.Name(),
		"tracking":    d.instrumenter != nil,
	}).Info("Starting email campaign")

	batches := lo.Chunk(campaign.Recipients, d.opts.BatchSize)

	for _, tmpl := range campaign.Templates {
		log := logrus.WithFields(logrus.Fields{"campaign_id": campaign.ID, "template": tmpl.ID})
		log.Info("Processing template")

		for i, batch := range batches {
			log.WithField("batch", i+1).Infof("Processing batch of %d recipients", len(batch))

			for _, rcpt := range batch {
				if err := ctx.Err(); err != nil {
					return d.finish(summary, start, span), err
				}

				outcome := d.deliver(ctx, campaign.ID, tmpl, attachments[tmpl.ID], rcpt)
				switch outcome {
				case outcomeSkipped:
					summary.Skipped++
					continue
				case outcomeSent:
					summary.Attempted++
					summary.Sent++
				case outcomeFailed:
					summary.Attempted++
					summary.Failed++
				}

				if err := d.sleep(ctx, d.opts.MessageDelay); err != nil {
					return d.finish(summary, start, span), err
				}
			}

			if i < len(batches)-1 {
				log.Infof("Waiting %v before next batch", d.opts.BatchDelay)
				if err := d.sleep(ctx, d.opts.BatchDelay); err != nil {
					return d.finish(summary, start, span), err
				}
			}
		}
	}

	return d.finish(summary, start, span), nil
}

func (d *Dispatcher) finish(summary Summary, start time.Time, span trace.Span) Summary {
	summary.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("sent", summary.Sent),
		attribute.Int("failed", summary.Failed),
		attribute.Int("skipped", summary.Skipped),
	)
	if d.metrics != nil {
		d.metrics.LastCampaignRunAt.SetToCurrentTime()
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": summary.CampaignID,
		"attempted":   summary.Attempted,
		"sent":        summary.Sent,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"duration":    summary.Duration.String(),
	}).Info("Email campaign finished")
	return summary
}
