package transport

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/message"
)

// GmailTransport sends raw messages through the Gmail API
type GmailTransport struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailTransport creates a Gmail transport from an OAuth2 refresh token
func NewGmailTransport(ctx context.Context, cfg config.GmailConfig) (*GmailTransport, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("Gmail OAuth2 credentials are required")
	}

	tokenSource := GmailOAuthConfig(cfg, "").TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	userEmail := cfg.UserEmail
	if userEmail == "" {
		userEmail = "me"
	}
	return &GmailTransport{service: service, userEmail: userEmail}, nil
}

// GmailOAuthConfig returns the OAuth2 client used for the Gmail send scope
func GmailOAuthConfig(cfg config.GmailConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
	}
}

// Name returns the transport name
func (t *GmailTransport) Name() string {
	return "gmail"
}

// Close is a no-op
func (t *GmailTransport) Close() error {
	return nil
}

// Attempt sends the message once
func (t *GmailTransport) Attempt(ctx context.Context, msg *message.Message, recipient string) error {
	raw, err := msg.Bytes()
	if err != nil {
		return Permanent(fmt.Errorf("failed to build message: %w", err))
	}

	gm := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if _, err := t.service.Users.Messages.Send(t.userEmail, gm).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send via Gmail API: %w", err)
	}
	return nil
}
