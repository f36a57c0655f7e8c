package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/message"
)

// SMTPTransport opens one authenticated SMTP session per attempt
type SMTPTransport struct {
	cfg       config.SMTPConfig
	tlsConfig *tls.Config
	// dialContext overrides the network dial, for tests
	dialContext func(ctx context.Context, addr string) (net.Conn, error)
}

// NewSMTPTransport creates an SMTP transport
func NewSMTPTransport(cfg config.SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("SMTP host and port are required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("SMTP username and password are required")
	}

	return &SMTPTransport{
		cfg: cfg,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}, nil
}

// Name returns the transport name
func (t *SMTPTransport) Name() string {
	return "smtp"
}

// Close is a no-op: sessions do not outlive an attempt
func (t *SMTPTransport) Close() error {
	return nil
}

func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	if t.dialContext != nil {
		return t.dialContext(ctx, addr)
	}
	if t.cfg.ImplicitTLS {
		d := &tls.Dialer{Config: t.tlsConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	d := &net.Dialer{}
	return d.DialContext(ctx, "tcp", addr)
}

// Attempt runs one full session: connect, TLS, AUTH, MAIL, RCPT, DATA, QUIT
func (t *SMTPTransport) Attempt(ctx context.Context, msg *message.Message, recipient string) error {
	raw, err := msg.Bytes()
	if err != nil {
		return Permanent(fmt.Errorf("failed to build message: %w", err))
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set SMTP connection deadline: %w", err)
		}
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer c.Close()

	if t.cfg.HeloName != "" {
		if err := c.Hello(t.cfg.HeloName); err != nil {
			return fmt.Errorf("SMTP hello failed: %w", err)
		}
	}

	if !t.cfg.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(t.tlsConfig); err != nil {
				return fmt.Errorf("SMTP STARTTLS failed: %w", err)
			}
		}
	}

	if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	if err := c.Mail(msg.From, nil); err != nil {
		return fmt.Errorf("SMTP MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(recipient); err != nil {
		return fmt.Errorf("SMTP RCPT TO failed: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("SMTP server rejected message: %w", err)
	}

	if err := c.Quit(); err != nil {
		logrus.WithField("recipient", recipient).Debugf("SMTP QUIT failed after delivery: %v", err)
	}
	return nil
}
