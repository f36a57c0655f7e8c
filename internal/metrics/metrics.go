package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	MessagesSent      *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	MessagesSkipped   prometheus.Counter
	SendAttempts      prometheus.Counter
	ConnectionDrops   prometheus.Counter
	SendDuration      prometheus.Histogram
	Opens             prometheus.Counter
	Clicks            prometheus.Counter
	Bounces           *prometheus.CounterVec
	BouncePolls       prometheus.Counter
	PurgedMessages    prometheus.Counter
	LastCampaignRunAt prometheus.Gauge
}

// NewMetrics registers the metrics with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_mailer_messages_sent_total",
			Help: "Total number of messages accepted by the transport",
		}, []string{"template"}),
		MessagesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_mailer_messages_failed_total",
			Help: "Total number of messages that failed after all retries",
		}, []string{"template"}),
		MessagesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_messages_skipped_total",
			Help: "Total number of recipients skipped before sending",
		}),
		SendAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_send_attempts_total",
			Help: "Total number of individual delivery attempts",
		}),
		ConnectionDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_connection_drops_total",
			Help: "Total number of delivery attempts that lost their connection",
		}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "campaign_mailer_send_duration_seconds",
			Help:    "Time spent delivering one message, retries included",
			Buckets: prometheus.DefBuckets,
		}),
		Opens: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_opens_total",
			Help: "Total number of recorded beacon hits",
		}),
		Clicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_clicks_total",
			Help: "Total number of tracked link redirects",
		}),
		Bounces: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_mailer_bounces_total",
			Help: "Total number of recorded bounces",
		}, []string{"type"}),
		BouncePolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_bounce_polls_total",
			Help: "Total number of bounce mailbox polls",
		}),
		PurgedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_mailer_purged_messages_total",
			Help: "Total number of sent messages removed by retention",
		}),
		LastCampaignRunAt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campaign_mailer_last_campaign_run_timestamp_seconds",
			Help: "Unix time the last campaign run finished",
		}),
	}
}
