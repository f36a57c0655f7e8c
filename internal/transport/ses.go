package transport

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/message"
)

// sesAPI is the subset of the SES client used here
type sesAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESTransport sends raw MIME messages through Amazon SES
type SESTransport struct {
	client           sesAPI
	configurationSet string
}

// NewSESTransport creates an SES transport. Without static keys the default
// AWS credential chain is used.
func NewSESTransport(ctx context.Context, cfg config.SESConfig) (*SESTransport, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("secret key is required when access key is provided")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESTransport{
		client:           ses.NewFromConfig(awsCfg),
		configurationSet: cfg.ConfigurationSet,
	}, nil
}

// Name returns the transport name
func (t *SESTransport) Name() string {
	return "ses"
}

// Close is a no-op
func (t *SESTransport) Close() error {
	return nil
}

// Attempt sends the message once
func (t *SESTransport) Attempt(ctx context.Context, msg *message.Message, recipient string) error {
	raw, err := msg.Bytes()
	if err != nil {
		return Permanent(fmt.Errorf("failed to build message: %w", err))
	}

	input := &ses.SendRawEmailInput{
		RawMessage:   &types.RawMessage{Data: raw},
		Source:       aws.String(msg.From),
		Destinations: []string{recipient},
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	if _, err := t.client.SendRawEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send via SES: %w", err)
	}
	return nil
}
