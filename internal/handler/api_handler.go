package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/repository"
)

const defaultActivityDays = 30

// RecordBounce stores a bounce reported by a provider webhook
func (h *Handlers) RecordBounce(c *gin.Context) {
	var req BounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	err := h.store.RecordBounce(c.Request.Context(), req.MessageID, req.Type, req.Reason, req.Description)
	if errors.Is(err, repository.ErrMessageNotFound) {
		errorJSON(c, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	if err != nil {
		logrus.Errorf("Failed to record bounce: %v", err)
		errorJSON(c, http.StatusInternalServerError, "database_error", "Failed to record bounce")
		return
	}

	if h.metrics != nil {
		h.metrics.Bounces.WithLabelValues(req.Type).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bounce recorded"})
}

// GetCampaignStats returns delivery and engagement statistics of a campaign
func (h *Handlers) GetCampaignStats(c *gin.Context) {
	period, err := repository.ParseTimeRange(c.Query("start"), c.Query("end"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "validation_error", "start and end must be RFC 3339 timestamps")
		return
	}

	stats, err := h.store.CampaignStats(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		logrus.Errorf("Failed to get campaign stats: %v", err)
		errorJSON(c, http.StatusInternalServerError, "database_error", "Failed to get campaign stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetRecipientActivity returns a recipient's recent messages
func (h *Handlers) GetRecipientActivity(c *gin.Context) {
	days := defaultActivityDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorJSON(c, http.StatusBadRequest, "validation_error", "days must be a positive integer")
			return
		}
		days = n
	}

	email := c.Param("email")
	activity, err := h.store.RecipientActivity(c.Request.Context(), email, days)
	if err != nil {
		logrus.Errorf("Failed to get recipient activity: %v", err)
		errorJSON(c, http.StatusInternalServerError, "database_error", "Failed to get recipient activity")
		return
	}
	if activity == nil {
		activity = []repository.Activity{}
	}

	c.JSON(http.StatusOK, RecipientActivityResponse{
		Email:      email,
		WindowDays: days,
		Messages:   activity,
	})
}
