package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/message"
)

const maxErrorBody = 512

// APIError is a non-2xx answer from the delivery API
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("delivery API returned status %d: %s", e.StatusCode, e.Body)
}

type apiAttachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type apiPayload struct {
	To          string            `json:"to"`
	From        string            `json:"from"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []apiAttachment   `json:"attachments,omitempty"`
}

// APITransport posts messages as JSON to an HTTP delivery API
type APITransport struct {
	url    string
	apiKey string
	client *http.Client
}

// NewAPITransport creates an HTTP API transport. A nil client uses
// http.DefaultClient.
func NewAPITransport(cfg config.APIConfig, client *http.Client) (*APITransport, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("delivery API url and api key are required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &APITransport{url: cfg.URL, apiKey: cfg.APIKey, client: client}, nil
}

// Name returns the transport name
func (t *APITransport) Name() string {
	return "api"
}

// Close releases idle connections
func (t *APITransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func buildPayload(msg *message.Message, recipient string) apiPayload {
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	payload := apiPayload{
		To:      recipient,
		From:    from,
		Subject: msg.Subject,
		ReplyTo: msg.ReplyTo,
		Headers: msg.Headers,
	}
	if msg.IsHTML {
		payload.HTML = msg.Body
	} else {
		payload.Text = msg.Body
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, apiAttachment{
			Filename:    a.Filename,
			Content:     base64.StdEncoding.EncodeToString(a.Data),
			ContentType: a.ContentType,
		})
	}
	return payload
}

// Attempt posts the message once
func (t *APITransport) Attempt(ctx context.Context, msg *message.Message, recipient string) error {
	body, err := json.Marshal(buildPayload(msg, recipient))
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode API payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to create API request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call delivery API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}
