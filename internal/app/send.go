package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/dispatch"
	"campaign-mailer-go/internal/mailtemplate"
	"campaign-mailer-go/internal/recipient"
	"campaign-mailer-go/internal/repository"
	"campaign-mailer-go/internal/tracking"
	"campaign-mailer-go/internal/transport"
)

// SendOptions are the command line overrides of a campaign run
type SendOptions struct {
	CampaignID string
	Recipients string
	Templates  []string
	// TestMode sends to the first recipient only.
	TestMode bool
	// ValidateOnly loads and checks everything without sending.
	ValidateOnly bool
}

// SendResult is what a campaign run reports
type SendResult struct {
	Summary dispatch.Summary          `json:"summary"`
	Stats   *repository.CampaignStats `json:"stats,omitempty"`
}

// applySendOptions merges flags into the configuration. A missing campaign id
// gets a fresh UUID.
func applySendOptions(cfg *config.Config, opts SendOptions) {
	if opts.CampaignID != "" {
		cfg.Campaign.ID = opts.CampaignID
	}
	if cfg.Campaign.ID == "" {
		cfg.Campaign.ID = uuid.NewString()
	}
	if opts.Recipients != "" {
		cfg.Campaign.Recipients = opts.Recipients
	}
	if len(opts.Templates) > 0 {
		cfg.Campaign.Templates = opts.Templates
	}
}

// Send runs one campaign to completion. With ValidateOnly the returned result
// is empty and nothing is sent. A cancelled run returns its partial summary
// along with the error.
func Send(ctx context.Context, cfg *config.Config, opts SendOptions) (*SendResult, error) {
	applySendOptions(cfg, opts)
	if err := cfg.ValidateSend(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log := logrus.WithField("campaign_id", cfg.Campaign.ID)

	templates, err := mailtemplate.LoadDir(cfg.Campaign.TemplateDir, cfg.Campaign.Templates, cfg.Campaign.AttachmentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	recipients, err := recipient.Load(cfg.Campaign.Recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("recipient list %s is empty", cfg.Campaign.Recipients)
	}
	if opts.TestMode {
		recipients = recipients[:1]
		log.Info("Running in test mode - sending to first recipient only")
	}

	if opts.ValidateOnly {
		log.WithFields(logrus.Fields{
			"templates":  len(templates),
			"recipients": len(recipients),
		}).Info("Campaign validation passed")
		return &SendResult{}, nil
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	policy := transport.RetryPolicy{
		MaxAttempts:         cfg.Dispatch.MaxRetries,
		Delay:               cfg.Dispatch.RetryDelay,
		OnAttempt:           rt.metrics.SendAttempts.Inc,
		OnConnectionDropped: func(error) { rt.metrics.ConnectionDrops.Inc() },
	}
	t, err := transport.New(ctx, cfg.Transport, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", cfg.Transport.Kind, err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			logrus.Errorf("Failed to close transport: %v", err)
		}
	}()

	var instrumenter dispatch.Instrumenter
	if cfg.Tracking.Enabled {
		instrumenter = tracking.NewInstrumenter(rt.repo, cfg.Tracking.Domain)
	}

	d := dispatch.New(t, instrumenter, rt.metrics, dispatch.OptionsFromConfig(cfg))
	summary, err := d.Run(ctx, dispatch.Campaign{
		ID:         cfg.Campaign.ID,
		Templates:  templates,
		Recipients: recipients,
	})
	result := &SendResult{Summary: summary}
	if err != nil {
		return result, err
	}

	if cfg.Tracking.Enabled {
		stats, err := rt.repo.CampaignStats(ctx, cfg.Campaign.ID, nil)
		if err != nil {
			log.Warnf("Failed to load campaign statistics: %v", err)
		} else {
			result.Stats = stats
		}
	}
	return result, nil
}
