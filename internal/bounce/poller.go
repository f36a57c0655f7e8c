package bounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/repository"
)

// Recorder stores parsed bounces
type Recorder interface {
	RecordBounce(ctx context.Context, messageID, bounceType, reason, description string) error
}

// DialFunc opens an IMAP connection
type DialFunc func(addr string) (*client.Client, error)

// PollResult counts what one poll did
type PollResult struct {
	Fetched  int `json:"fetched"`
	Recorded int `json:"recorded"`
	Ignored  int `json:"ignored"`
}

// Poller reads unseen delivery reports from the bounce mailbox
type Poller struct {
	cfg      config.BounceConfig
	recorder Recorder
	metrics  *metrics.Metrics
	dial     DialFunc

	mu        sync.Mutex
	lastCheck time.Time
}

// NewPoller creates a bounce poller. The first poll looks back 24 hours.
func NewPoller(cfg config.BounceConfig, recorder Recorder, m *metrics.Metrics) *Poller {
	return &Poller{
		cfg:      cfg,
		recorder: recorder,
		metrics:  m,
		dial: func(addr string) (*client.Client, error) {
			return client.DialTLS(addr, nil)
		},
		lastCheck: time.Now().Add(-24 * time.Hour),
	}
}

// WithDialer replaces the connection dialer
func (p *Poller) WithDialer(dial DialFunc) *Poller {
	p.dial = dial
	return p
}

// Poll fetches unseen reports received since the last poll, records the
// bounces they describe and flags them \Seen. Reports whose bounce could not
// be stored stay unseen and are retried on the next poll.
func (p *Poller) Poll(ctx context.Context) (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result PollResult
	started := time.Now()
	if p.metrics != nil {
		p.metrics.BouncePolls.Inc()
	}

	c, err := p.dial(fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port))
	if err != nil {
		return result, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(p.cfg.User, p.cfg.Password); err != nil {
		return result, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := p.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return result, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	// SINCE only compares dates in the server's zone; \Seen does the dedupe.
	criteria.Since = p.lastCheck.Add(-24 * time.Hour)
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return result, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		p.lastCheck = started
		return result, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchUid}, messages)
	}()

	handled := new(imap.SeqSet)
	for msg := range messages {
		result.Fetched++
		if p.handle(ctx, msg, section, &result) {
			handled.AddNum(msg.Uid)
		}
	}

	if err := <-done; err != nil {
		return result, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if !handled.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(handled, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return result, fmt.Errorf("failed to mark reports seen: %w", err)
		}
	}

	p.lastCheck = started
	logrus.WithFields(logrus.Fields{
		"fetched":  result.Fetched,
		"recorded": result.Recorded,
		"ignored":  result.Ignored,
	}).Info("Bounce mailbox polled")
	return result, nil
}

// handle parses and records one report. It reports whether the message is
// done with and can be flagged \Seen.
func (p *Poller) handle(ctx context.Context, msg *imap.Message, section *imap.BodySectionName, result *PollResult) bool {
	log := logrus.WithField("uid", msg.Uid)

	r := msg.GetBody(section)
	if r == nil {
		log.Warn("Bounce report has no body")
		result.Ignored++
		return true
	}

	report, err := ParseReport(r)
	if err != nil {
		if errors.Is(err, ErrNoMessageID) {
			log.Debug("Message is not a bounce for a tracked email")
		} else {
			log.Warnf("Failed to parse bounce report: %v", err)
		}
		result.Ignored++
		return true
	}

	err = p.recorder.RecordBounce(ctx, report.MessageID, report.Type, report.Reason, report.Description)
	if errors.Is(err, repository.ErrMessageNotFound) {
		log.WithField("message_id", report.MessageID).Warn("Bounce for unknown message ignored")
		result.Ignored++
		return true
	}
	if err != nil {
		log.Errorf("Failed to record bounce: %v", err)
		return false
	}

	if p.metrics != nil {
		p.metrics.Bounces.WithLabelValues(report.Type).Inc()
	}
	result.Recorded++
	return true
}
