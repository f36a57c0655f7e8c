package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryPolicy retries every delivery fault except permanent ones, waiting a
// fixed delay between attempts
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt bound.
	Timeout time.Duration

	OnAttempt           func()
	OnConnectionDropped func(err error)
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, fails permanently or runs out of attempts
func (p RetryPolicy) Do(ctx context.Context, recipient string, op func(ctx context.Context) error) error {
	attempts := 0

	operation := func() error {
		attempts++
		if p.OnAttempt != nil {
			p.OnAttempt()
		}

		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		return op(attemptCtx)
	}

	notify := func(err error, wait time.Duration) {
		log := logrus.WithFields(logrus.Fields{
			"recipient": recipient,
			"attempt":   attempts,
		})
		if IsConnectionDropped(err) {
			log.Warnf("Connection dropped, retrying in %v: %v", wait, err)
			if p.OnConnectionDropped != nil {
				p.OnConnectionDropped(err)
			}
			return
		}
		log.Warnf("Send attempt failed, retrying in %v: %v", wait, err)
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err != nil {
		return &DeliveryFailedError{Recipient: recipient, Attempts: attempts, Err: err}
	}
	return nil
}
