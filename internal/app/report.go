package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/repository"
)

// StatsOptions selects what the stats command prints
type StatsOptions struct {
	CampaignID string
	// Recipient switches to the recipient activity report.
	Recipient string
	Days      int
	Period    *repository.TimeRange
}

// Stats writes campaign statistics or recipient activity to w as JSON
func Stats(ctx context.Context, cfg *config.Config, opts StatsOptions, w io.Writer) error {
	if opts.CampaignID == "" && opts.Recipient == "" {
		return fmt.Errorf("a campaign id or a recipient email is required")
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	var out interface{}
	if opts.Recipient != "" {
		days := opts.Days
		if days <= 0 {
			days = 30
		}
		activity, err := rt.repo.RecipientActivity(ctx, opts.Recipient, days)
		if err != nil {
			return err
		}
		if activity == nil {
			activity = []repository.Activity{}
		}
		out = activity
	} else {
		stats, err := rt.repo.CampaignStats(ctx, opts.CampaignID, opts.Period)
		if err != nil {
			return err
		}
		out = stats
	}

	return writeJSON(w, out)
}

// Purge runs one retention cleanup. days <= 0 uses the configured retention.
func Purge(ctx context.Context, cfg *config.Config, days int, w io.Writer) error {
	if days <= 0 {
		days = cfg.Tracking.RetentionDays
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.repo.PurgeOlderThan(ctx, days)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
