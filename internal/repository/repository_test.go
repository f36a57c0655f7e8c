package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/database"
	"campaign-mailer-go/internal/model"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.InitDatabase(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "tracking.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(db)
}

func sendWithToken(t *testing.T, repo *Repository, recipient, campaignID string) (string, string) {
	t.Helper()
	ctx := context.Background()
	id, err := repo.RegisterSend(ctx, recipient, "welcome", campaignID, nil)
	require.NoError(t, err)
	token, err := repo.MintBeaconToken(ctx, id)
	require.NoError(t, err)
	return id, token
}

func TestRegisterSend(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.RegisterSend(ctx, "ada@example.com", "welcome", "spring", map[string]string{"batch": "1"})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	msg, err := repo.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "spring", msg.CampaignID)
	assert.JSONEq(t, `{"batch":"1"}`, msg.Metadata)
	assert.Nil(t, msg.BeaconToken)

	_, err = repo.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMintBeaconTokenIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	id, first := sendWithToken(t, repo, "ada@example.com", "spring")

	second, err := repo.MintBeaconToken(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = repo.MintBeaconToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMintBeaconTokenCollision(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	repo.newToken = func() string { return "fixed-token" }

	_, _ = sendWithToken(t, repo, "ada@example.com", "spring")
	other, err := repo.RegisterSend(ctx, "alan@example.com", "welcome", "spring", nil)
	require.NoError(t, err)

	_, err = repo.MintBeaconToken(ctx, other)
	var dup *DuplicateTokenError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "fixed-token", dup.Token)
}

func TestRecordOpenUniqueCounting(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	_, token := sendWithToken(t, repo, "ada@example.com", "spring")

	before, err := repo.CampaignStats(ctx, "spring", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), before.Engagement.UniqueOpens)

	assert.True(t, repo.RecordOpen(ctx, token, iphoneUA, "203.0.113.7"))
	first, err := repo.CampaignStats(ctx, "spring", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Engagement.UniqueOpens)
	assert.Equal(t, int64(1), first.Engagement.TotalOpens)

	assert.True(t, repo.RecordOpen(ctx, token, desktopUA, "203.0.113.8"))
	second, err := repo.CampaignStats(ctx, "spring", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Engagement.UniqueOpens)
	assert.Equal(t, int64(2), second.Engagement.TotalOpens)
	assert.Equal(t, float64(100), second.Engagement.OpenRate)
}

func TestRecordOpenUnknownTokenIsNoop(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	sendWithToken(t, repo, "ada@example.com", "spring")

	assert.False(t, repo.RecordOpen(ctx, "no-such-token", iphoneUA, "203.0.113.7"))

	var count int64
	require.NoError(t, repo.db.Model(&model.OpenEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordOpenStoresClientInfo(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id, token := sendWithToken(t, repo, "ada@example.com", "spring")

	require.True(t, repo.RecordOpen(ctx, token, iphoneUA, "203.0.113.7"))

	var open model.OpenEvent
	require.NoError(t, repo.db.Where("message_id = ?", id).First(&open).Error)
	assert.Equal(t, model.DeviceMobile, open.DeviceType)
	assert.Equal(t, "safari", open.Browser)
	assert.Equal(t, "ios", open.OS)
	assert.Equal(t, HashAddress("203.0.113.7"), open.IPHash)
	assert.NotContains(t, open.IPHash, "203.0.113.7")
}

func TestRecordClick(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id, token := sendWithToken(t, repo, "ada@example.com", "spring")

	require.True(t, repo.RecordOpen(ctx, token, desktopUA, ""))
	require.NoError(t, repo.RecordClick(ctx, id, "https://example.com/a", desktopUA, "198.51.100.1"))
	require.NoError(t, repo.RecordClick(ctx, id, "https://example.com/b", desktopUA, "198.51.100.1"))

	err := repo.RecordClick(ctx, "missing", "https://example.com", desktopUA, "")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	stats, err := repo.CampaignStats(ctx, "spring", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Engagement.UniqueClicks)
	assert.Equal(t, int64(2), stats.Engagement.TotalClicks)
	assert.Equal(t, float64(100), stats.Engagement.ClickToOpenRate)
	assert.Equal(t, int64(1), stats.Devices[model.DeviceDesktop])
}

func TestRecordBounceCountedOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id, _ := sendWithToken(t, repo, "ada@example.com", "spring")
	sendWithToken(t, repo, "alan@example.com", "spring")

	require.NoError(t, repo.RecordBounce(ctx, id, "soft", "mailbox full", "4.2.2"))
	require.NoError(t, repo.RecordBounce(ctx, id, "hard", "user unknown", "5.1.1"))

	msg, err := repo.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBounced, msg.Status)
	assert.Equal(t, "hard", msg.BounceType)
	assert.Equal(t, "user unknown", msg.BounceInfo)

	stats, err := repo.CampaignStats(ctx, "spring", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Delivery.TotalSent)
	assert.Equal(t, int64(1), stats.Delivery.Bounces)
	assert.Equal(t, map[string]int64{"hard": 1}, stats.Delivery.BounceDetails)
	assert.Equal(t, float64(50), stats.Delivery.BounceRate)

	assert.ErrorIs(t, repo.RecordBounce(ctx, "missing", "hard", "x", ""), ErrMessageNotFound)
}

func TestCampaignStatsEmpty(t *testing.T) {
	repo := newTestRepository(t)

	stats, err := repo.CampaignStats(context.Background(), "nothing-sent", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Delivery.TotalSent)
	assert.Zero(t, stats.Delivery.BounceRate)
	assert.Zero(t, stats.Engagement.OpenRate)
	assert.Zero(t, stats.Engagement.ClickRate)
	assert.Zero(t, stats.Engagement.ClickToOpenRate)
	assert.Empty(t, stats.Devices)
}

func TestCampaignStatsPeriod(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return base }
	sendWithToken(t, repo, "ada@example.com", "spring")
	repo.now = func() time.Time { return base.Add(48 * time.Hour) }
	sendWithToken(t, repo, "alan@example.com", "spring")
	sendWithToken(t, repo, "ada@example.com", "autumn")

	stats, err := repo.CampaignStats(ctx, "spring", &TimeRange{Start: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delivery.TotalSent)

	stats, err = repo.CampaignStats(ctx, "spring", &TimeRange{End: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delivery.TotalSent)

	stats, err = repo.CampaignStats(ctx, "spring", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Delivery.TotalSent)
	assert.Equal(t, int64(2), stats.Delivery.UniqueRecipients)
}

func TestRecipientActivity(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return base.AddDate(0, 0, -40) }
	sendWithToken(t, repo, "ada@example.com", "winter")
	repo.now = func() time.Time { return base.Add(-time.Hour) }
	older, token := sendWithToken(t, repo, "ada@example.com", "spring")
	repo.now = func() time.Time { return base }
	newer, _ := sendWithToken(t, repo, "ada@example.com", "spring")
	sendWithToken(t, repo, "alan@example.com", "spring")

	require.True(t, repo.RecordOpen(ctx, token, desktopUA, ""))
	require.True(t, repo.RecordOpen(ctx, token, desktopUA, ""))
	require.NoError(t, repo.RecordClick(ctx, older, "https://example.com", desktopUA, ""))

	activity, err := repo.RecipientActivity(ctx, "ada@example.com", 30)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, newer, activity[0].MessageID)
	assert.Equal(t, older, activity[1].MessageID)
	assert.Equal(t, int64(2), activity[1].Opens)
	assert.Equal(t, int64(1), activity[1].Clicks)
	assert.Zero(t, activity[0].Opens)
}

func TestPurgeOlderThan(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return base.AddDate(0, 0, -100) }
	oldID, oldToken := sendWithToken(t, repo, "ada@example.com", "spring")
	require.True(t, repo.RecordOpen(ctx, oldToken, desktopUA, ""))
	require.NoError(t, repo.RecordClick(ctx, oldID, "https://example.com", desktopUA, ""))
	require.NoError(t, repo.RecordBounce(ctx, oldID, "soft", "deferred", ""))

	repo.now = func() time.Time { return base.AddDate(0, 0, -10) }
	freshID, freshToken := sendWithToken(t, repo, "alan@example.com", "spring")
	require.True(t, repo.RecordOpen(ctx, freshToken, desktopUA, ""))

	repo.now = func() time.Time { return base }
	result, err := repo.PurgeOlderThan(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{Messages: 1, Opens: 1, Clicks: 1, Bounces: 1}, result)

	_, err = repo.GetMessage(ctx, oldID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = repo.GetMessage(ctx, freshID)
	assert.NoError(t, err)

	var opens int64
	require.NoError(t, repo.db.Model(&model.OpenEvent{}).Where("message_id = ?", oldID).Count(&opens).Error)
	assert.Zero(t, opens)

	again, err := repo.PurgeOlderThan(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{}, again)
}

func TestClassifyUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want ClientInfo
	}{
		{"", ClientInfo{Device: model.DeviceUnknown, Browser: "unknown", OS: "unknown"}},
		{iphoneUA, ClientInfo{Device: model.DeviceMobile, Browser: "safari", OS: "ios"}},
		{desktopUA, ClientInfo{Device: model.DeviceDesktop, Browser: "chrome", OS: "windows"}},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) Safari/604.1", ClientInfo{Device: model.DeviceTablet, Browser: "safari", OS: "ios"}},
		{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", ClientInfo{Device: model.DeviceDesktop, Browser: "firefox", OS: "linux"}},
		{"Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Safari/537.36 Edg/120.0", ClientInfo{Device: model.DeviceDesktop, Browser: "edge", OS: "windows"}},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/120.0 Mobile Safari/537.36", ClientInfo{Device: model.DeviceMobile, Browser: "chrome", OS: "android"}},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyUserAgent(tt.ua))
		})
	}
}

func TestHashAddress(t *testing.T) {
	assert.Empty(t, HashAddress(""))
	assert.Len(t, HashAddress("203.0.113.7"), 64)
	assert.Equal(t, HashAddress("203.0.113.7"), HashAddress("203.0.113.7"))
}
