package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"campaign-mailer-go/internal/model"
)

// TimeRange bounds statistics by send time. Zero ends are open.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// DeliveryStats summarizes delivery of a campaign
type DeliveryStats struct {
	TotalSent        int64            `json:"total_sent"`
	UniqueRecipients int64            `json:"unique_recipients"`
	Bounces          int64            `json:"bounces"`
	BounceDetails    map[string]int64 `json:"bounce_details"`
	BounceRate       float64          `json:"bounce_rate"`
}

// EngagementStats summarizes opens and clicks of a campaign
type EngagementStats struct {
	UniqueOpens     int64   `json:"unique_opens"`
	TotalOpens      int64   `json:"total_opens"`
	UniqueClicks    int64   `json:"unique_clicks"`
	TotalClicks     int64   `json:"total_clicks"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
}

// CampaignStats is computed from current table contents on every call.
// Rates are percentages.
type CampaignStats struct {
	CampaignID  string           `json:"campaign_id"`
	Period      *TimeRange       `json:"period,omitempty"`
	Delivery    DeliveryStats    `json:"delivery"`
	Engagement  EngagementStats  `json:"engagement"`
	Devices     map[string]int64 `json:"devices"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Activity is one message in a recipient's history
type Activity struct {
	MessageID  string    `json:"message_id"`
	CampaignID string    `json:"campaign_id"`
	TemplateID string    `json:"template_id"`
	SentAt     time.Time `json:"sent_at"`
	Status     string    `json:"status"`
	BounceInfo string    `json:"bounce_info,omitempty"`
	Opens      int64     `json:"opens"`
	Clicks     int64     `json:"clicks"`
}

// PurgeResult counts rows removed by a retention purge
type PurgeResult struct {
	Messages int64 `json:"messages"`
	Opens    int64 `json:"opens"`
	Clicks   int64 `json:"clicks"`
	Bounces  int64 `json:"bounces"`
}

// ParseTimeRange parses optional RFC 3339 bounds. Both empty gives nil.
func ParseTimeRange(start, end string) (*TimeRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}

	var period TimeRange
	var err error
	if start != "" {
		if period.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return nil, fmt.Errorf("invalid start: %w", err)
		}
	}
	if end != "" {
		if period.End, err = time.Parse(time.RFC3339, end); err != nil {
			return nil, fmt.Errorf("invalid end: %w", err)
		}
	}
	return &period, nil
}

func rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

// campaignScope filters sent messages aliased as m
func campaignScope(campaignID string, period *TimeRange) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("m.campaign_id = ?", campaignID)
		if period != nil && !period.Start.IsZero() {
			db = db.Where("m.sent_at >= ?", period.Start.UTC())
		}
		if period != nil && !period.End.IsZero() {
			db = db.Where("m.sent_at <= ?", period.End.UTC())
		}
		return db
	}
}

type eventCounts struct {
	Unique int64
	Total  int64
}

func (r *Repository) countEvents(db *gorm.DB, table string, scope func(*gorm.DB) *gorm.DB) (eventCounts, error) {
	var counts eventCounts
	err := db.Table(table + " AS e").
		Joins("JOIN sent_messages AS m ON m.id = e.message_id").
		Scopes(scope).
		Select("COUNT(DISTINCT e.message_id) AS `unique`, COUNT(*) AS total").
		Scan(&counts).Error
	return counts, err
}

type groupCount struct {
	Key   string
	Count int64
}

// CampaignStats computes delivery and engagement statistics for a campaign
func (r *Repository) CampaignStats(ctx context.Context, campaignID string, period *TimeRange) (*CampaignStats, error) {
	db := r.db.WithContext(ctx)
	scope := campaignScope(campaignID, period)

	var sent struct {
		TotalSent        int64
		UniqueRecipients int64
	}
	if err := db.Table("sent_messages AS m").Scopes(scope).
		Select("COUNT(*) AS total_sent, COUNT(DISTINCT m.recipient_email) AS unique_recipients").
		Scan(&sent).Error; err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	opens, err := r.countEvents(db, "open_events", scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}
	clicks, err := r.countEvents(db, "click_events", scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	var devices []groupCount
	if err := db.Table("open_events AS e").
		Joins("JOIN sent_messages AS m ON m.id = e.message_id").
		Scopes(scope).
		Select("e.device_type AS `key`, COUNT(DISTINCT e.message_id) AS count").
		Group("e.device_type").
		Scan(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	// Each bounced message counts once, under its latest bounce type.
	var bounces []groupCount
	if err := db.Table("sent_messages AS m").Scopes(scope).
		Where("m.status = ?", model.StatusBounced).
		Select("m.bounce_type AS `key`, COUNT(*) AS count").
		Group("m.bounce_type").
		Scan(&bounces).Error; err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	stats := &CampaignStats{
		CampaignID:  campaignID,
		Period:      period,
		Devices:     make(map[string]int64, len(devices)),
		GeneratedAt: r.now(),
	}
	for _, d := range devices {
		stats.Devices[d.Key] = d.Count
	}

	stats.Delivery = DeliveryStats{
		TotalSent:        sent.TotalSent,
		UniqueRecipients: sent.UniqueRecipients,
		BounceDetails:    make(map[string]int64, len(bounces)),
	}
	for _, b := range bounces {
		stats.Delivery.BounceDetails[b.Key] = b.Count
		stats.Delivery.Bounces += b.Count
	}
	stats.Delivery.BounceRate = rate(stats.Delivery.Bounces, sent.TotalSent)

	stats.Engagement = EngagementStats{
		UniqueOpens:     opens.Unique,
		TotalOpens:      opens.Total,
		UniqueClicks:    clicks.Unique,
		TotalClicks:     clicks.Total,
		OpenRate:        rate(opens.Unique, sent.TotalSent),
		ClickRate:       rate(clicks.Unique, sent.TotalSent),
		ClickToOpenRate: rate(clicks.Unique, opens.Unique),
	}

	logrus.WithField("campaign_id", campaignID).Debug("Retrieved campaign stats")
	return stats, nil
}

// RecipientActivity returns a recipient's messages sent within the last
// windowDays, newest first, with event counts
func (r *Repository) RecipientActivity(ctx context.Context, address string, windowDays int) ([]Activity, error) {
	since := r.now().AddDate(0, 0, -windowDays)

	var activity []Activity
	err := r.db.WithContext(ctx).Table("sent_messages AS m").
		Select(`m.id AS message_id, m.campaign_id, m.template_id, m.sent_at, m.status, m.bounce_info,
			(SELECT COUNT(*) FROM open_events o WHERE o.message_id = m.id) AS opens,
			(SELECT COUNT(*) FROM click_events c WHERE c.message_id = m.id) AS clicks`).
		Where("m.recipient_email = ? AND m.sent_at >= ?", address, since).
		Order("m.sent_at DESC").
		Scan(&activity).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient activity: %w", err)
	}
	return activity, nil
}

// PurgeOlderThan deletes messages sent more than days ago together with
// their events
func (r *Repository) PurgeOlderThan(ctx context.Context, days int) (PurgeResult, error) {
	cutoff := r.now().AddDate(0, 0, -days)
	var result PurgeResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&model.SentMessage{}).Select("id").Where("sent_at < ?", cutoff)

		res := tx.Where("message_id IN (?)", old).Delete(&model.OpenEvent{})
		if res.Error != nil {
			return res.Error
		}
		result.Opens = res.RowsAffected

		res = tx.Where("message_id IN (?)", old).Delete(&model.ClickEvent{})
		if res.Error != nil {
			return res.Error
		}
		result.Clicks = res.RowsAffected

		res = tx.Where("message_id IN (?)", old).Delete(&model.BounceEvent{})
		if res.Error != nil {
			return res.Error
		}
		result.Bounces = res.RowsAffected

		res = tx.Where("sent_at < ?", cutoff).Delete(&model.SentMessage{})
		if res.Error != nil {
			return res.Error
		}
		result.Messages = res.RowsAffected
		return nil
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("failed to clean up old data: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"cutoff":   cutoff.Format(time.RFC3339),
		"messages": result.Messages,
	}).Info("Purged old tracking data")
	return result, nil
}
