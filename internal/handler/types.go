package handler

import (
	"time"

	"campaign-mailer-go/internal/repository"
)

// BounceRequest is the body of a bounce webhook call
type BounceRequest struct {
	MessageID   string `json:"message_id" binding:"required"`
	Type        string `json:"type" binding:"required,oneof=hard soft unknown"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// RecipientActivityResponse lists a recipient's recent messages
type RecipientActivityResponse struct {
	Email      string                `json:"email"`
	WindowDays int                   `json:"window_days"`
	Messages   []repository.Activity `json:"messages"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Jobs      map[string]string `json:"jobs,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
