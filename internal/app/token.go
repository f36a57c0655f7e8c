package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/transport"
)

const defaultTokenRedirect = "http://localhost:8080/callback"

// GmailToken runs the interactive OAuth2 consent flow and prints a refresh
// token for the gmail transport. The configuration is not validated since
// the token is what is missing.
func GmailToken(ctx context.Context, configPath, redirectURL string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	g := cfg.Transport.Gmail
	if g.ClientID == "" || g.ClientSecret == "" {
		return fmt.Errorf("GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET are required")
	}
	if redirectURL == "" {
		redirectURL = defaultTokenRedirect
	}
	return exchangeToken(ctx, transport.GmailOAuthConfig(g, redirectURL), in, out)
}

func exchangeToken(ctx context.Context, oc *oauth2.Config, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Open this link in your browser:\n%s\n\n", oc.AuthCodeURL("campaign-mailer", oauth2.AccessTypeOffline))
	fmt.Fprint(out, "Paste the 'code' parameter of the redirect URL: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return fmt.Errorf("authorization code is empty")
	}

	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("no refresh token returned; revoke the app's access and retry")
	}

	fmt.Fprintf(out, "\n\nexport GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
	return nil
}
