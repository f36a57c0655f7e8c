package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/bounce"
	metricsPkg "campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/repository"
)

// Store is the tracking store used by the HTTP surface
type Store interface {
	Ping(ctx context.Context) error
	RecordOpen(ctx context.Context, token, userAgent, rawAddress string) bool
	RecordClick(ctx context.Context, messageID, url, userAgent, rawAddress string) error
	RecordBounce(ctx context.Context, messageID, bounceType, reason, description string) error
	CampaignStats(ctx context.Context, campaignID string, period *repository.TimeRange) (*repository.CampaignStats, error)
	RecipientActivity(ctx context.Context, address string, windowDays int) ([]repository.Activity, error)
}

// Jobs controls the background jobs
type Jobs interface {
	IsRunning() bool
	NextRun(job string) time.Time
	Purge(ctx context.Context) (repository.PurgeResult, error)
	PollBounces(ctx context.Context) (bounce.PollResult, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store    Store
	jobs     Jobs
	metrics  *metricsPkg.Metrics
	gatherer prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers. jobs may be nil.
func NewHandlers(store Store, jobs Jobs, metrics *metricsPkg.Metrics, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		store:    store,
		jobs:     jobs,
		metrics:  metrics,
		gatherer: gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	router.GET("/pixel/:token", h.Pixel)
	router.GET("/click", h.Click)

	api := router.Group("/api/v1")
	{
		api.POST("/bounces", h.RecordBounce)
		api.GET("/campaigns/:id/stats", h.GetCampaignStats)
		api.GET("/recipients/:email/activity", h.GetRecipientActivity)

		api.GET("/scheduler/status", h.GetSchedulerStatus)
		api.POST("/scheduler/purge", h.RunPurge)
		api.POST("/scheduler/poll-bounces", h.RunBouncePoll)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Jobs:      make(map[string]string),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.jobs != nil && h.jobs.IsRunning() {
		response.Jobs["scheduler"] = "running"
		response.Jobs["next_purge"] = formatTime(h.jobs.NextRun("purge"))
		if next := h.jobs.NextRun("bounces"); !next.IsZero() {
			response.Jobs["next_bounce_poll"] = formatTime(next)
		}
	} else {
		response.Jobs["scheduler"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func errorJSON(c *gin.Context, code int, kind, message string) {
	c.JSON(code, ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    code,
	})
}
