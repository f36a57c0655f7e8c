package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSchedulerStatus returns the background job status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}

	status := "stopped"
	if h.jobs.IsRunning() {
		status = "running"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"next_purge":       formatTime(h.jobs.NextRun("purge")),
		"next_bounce_poll": formatTime(h.jobs.NextRun("bounces")),
	})
}

// RunPurge runs the retention purge once
func (h *Handlers) RunPurge(c *gin.Context) {
	if h.jobs == nil {
		errorJSON(c, http.StatusServiceUnavailable, "scheduler_error", "Background jobs are not configured")
		return
	}

	result, err := h.jobs.Purge(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "scheduler_error", "Failed to purge old data")
		return
	}

	c.JSON(http.StatusOK, result)
}

// RunBouncePoll polls the bounce mailbox once
func (h *Handlers) RunBouncePoll(c *gin.Context) {
	if h.jobs == nil {
		errorJSON(c, http.StatusServiceUnavailable, "scheduler_error", "Background jobs are not configured")
		return
	}

	result, err := h.jobs.PollBounces(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "scheduler_error", "Failed to poll bounce mailbox")
		return
	}

	c.JSON(http.StatusOK, result)
}
