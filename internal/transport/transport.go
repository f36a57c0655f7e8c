// Package transport delivers composed messages over SMTP, HTTP delivery APIs
// or the Gmail API behind one retrying contract.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/emersion/go-smtp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/message"
)

// Transport delivers one message to one recipient
type Transport interface {
	Send(ctx context.Context, msg *message.Message, recipient string) error
	Name() string
	Close() error
}

// Attempter performs a single delivery attempt without retrying
type Attempter interface {
	Attempt(ctx context.Context, msg *message.Message, recipient string) error
	Name() string
	Close() error
}

// DeliveryFailedError is returned once every attempt for a recipient failed
type DeliveryFailedError struct {
	Recipient string
	Attempts  int
	Err       error
}

// Error implements the error interface.
func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempt(s): %v", e.Recipient, e.Attempts, e.Err)
}

// Unwrap returns the last underlying fault.
func (e *DeliveryFailedError) Unwrap() error {
	return e.Err
}

// IsConnectionDropped reports whether err means the remote end went away
// mid-conversation
func IsConnectionDropped(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code == 421 {
		return true
	}
	return strings.Contains(err.Error(), "connection reset by peer")
}

// Retrying wraps an Attempter with a retry policy
type Retrying struct {
	attempter Attempter
	policy    RetryPolicy
	tracer    trace.Tracer
}

// WithRetry returns a Transport that retries the attempter per policy
func WithRetry(a Attempter, policy RetryPolicy) *Retrying {
	return &Retrying{
		attempter: a,
		policy:    policy,
		tracer:    otel.Tracer("campaign-mailer-go/transport"),
	}
}

// Send delivers msg, retrying transient failures
func (r *Retrying) Send(ctx context.Context, msg *message.Message, recipient string) error {
	ctx, span := r.tracer.Start(ctx, "transport.Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("transport", r.attempter.Name()),
		attribute.String("recipient", recipient),
	)

	err := r.policy.Do(ctx, recipient, func(ctx context.Context) error {
		return r.attempter.Attempt(ctx, msg, recipient)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return err
	}

	span.SetStatus(codes.Ok, "delivered")
	return nil
}

// Name returns the underlying transport name
func (r *Retrying) Name() string {
	return r.attempter.Name()
}

// Close releases the underlying transport
func (r *Retrying) Close() error {
	return r.attempter.Close()
}

// New builds the transport selected by cfg.Kind
func New(ctx context.Context, cfg config.TransportConfig, policy RetryPolicy) (Transport, error) {
	var (
		a   Attempter
		err error
	)

	switch strings.ToLower(cfg.Kind) {
	case "smtp":
		a, err = NewSMTPTransport(cfg.SMTP)
	case "api":
		a, err = NewAPITransport(cfg.API, nil)
	case "gmail":
		a, err = NewGmailTransport(ctx, cfg.Gmail)
	case "ses":
		a, err = NewSESTransport(ctx, cfg.SES)
	case "sendgrid":
		a, err = NewSendGridTransport(cfg.SendGrid)
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if policy.Timeout == 0 {
		policy.Timeout = cfg.Timeout
	}
	return WithRetry(a, policy), nil
}
