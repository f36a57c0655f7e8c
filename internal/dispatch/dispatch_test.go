package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/mailtemplate"
	"campaign-mailer-go/internal/message"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/recipient"
)

const (
	messageDelay = time.Second
	batchDelay   = 5 * time.Second
)

type sent struct {
	template  string
	recipient string
	msg       *message.Message
}

type fakeTransport struct {
	sent    []sent
	failFor map[string]bool
}

func (f *fakeTransport) Send(_ context.Context, msg *message.Message, rcpt string) error {
	f.sent = append(f.sent, sent{template: msg.Subject, recipient: rcpt, msg: msg})
	if f.failFor[rcpt] {
		return errors.New("delivery failed")
	}
	return nil
}

func (f *fakeTransport) Name() string { return "fake" }
func (f *fakeTransport) Close() error { return nil }

type fakeInstrumenter struct {
	registered  int
	failFor     map[string]bool
	instruments int
}

func (f *fakeInstrumenter) RegisterSend(_ context.Context, rcpt, _, _ string, _ map[string]string) (string, error) {
	if f.failFor[rcpt] {
		return "", errors.New("store unavailable")
	}
	f.registered++
	return fmt.Sprintf("msg-%d", f.registered), nil
}

func (f *fakeInstrumenter) Instrument(_ context.Context, body string, isHTML bool, messageID string) (string, error) {
	f.instruments++
	if isHTML {
		return body + "<!--beacon:" + messageID + "-->", nil
	}
	return body, nil
}

func (f *fakeInstrumenter) Domain() string { return "track.example.com" }

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func mustTemplate(t *testing.T, id, content, attachmentDir string) *mailtemplate.Template {
	t.Helper()
	tmpl, err := mailtemplate.Parse(id, strings.NewReader(content), attachmentDir)
	require.NoError(t, err)
	return tmpl
}

func testRecipients() []recipient.Recipient {
	return []recipient.Recipient{
		{Email: "r1@example.com", FirstName: "R1", LastName: "One"},
		{Email: "r2@example.com", FirstName: "R2", LastName: "Two"},
		{Email: "r3@example.com", FirstName: "R3", LastName: "Three"},
	}
}

func newTestDispatcher(tr *fakeTransport, in Instrumenter, m *metrics.Metrics) (*Dispatcher, *recordingSleep) {
	d := New(tr, in, m, Options{
		BatchSize:         2,
		MessageDelay:      messageDelay,
		BatchDelay:        batchDelay,
		MaxAttachmentSize: 1024,
		Sender:            config.SenderConfig{Email: "team@example.com", Name: "Team", ReplyTo: "replies@example.com"},
		LandingURL:        "https://example.com/landing",
	})
	rec := &recordingSleep{}
	d.sleep = rec.sleep
	return d, rec
}

func TestRunOrderingAndPacing(t *testing.T) {
	tr := &fakeTransport{}
	d, rec := newTestDispatcher(tr, nil, nil)

	campaign := Campaign{
		ID: "spring",
		Templates: []*mailtemplate.Template{
			mustTemplate(t, "t1.txt", "Subject: T1\n\nHi {{.FirstName}}", ""),
			mustTemplate(t, "t2.txt", "Subject: T2\n\nBye {{.FirstName}}", ""),
		},
		Recipients: testRecipients(),
	}

	summary, err := d.Run(context.Background(), campaign)
	require.NoError(t, err)

	var order []string
	for _, s := range tr.sent {
		order = append(order, s.template+"/"+s.recipient)
	}
	assert.Equal(t, []string{
		"T1/r1@example.com", "T1/r2@example.com", "T1/r3@example.com",
		"T2/r1@example.com", "T2/r2@example.com", "T2/r3@example.com",
	}, order)

	assert.Equal(t, []time.Duration{
		messageDelay, messageDelay, batchDelay, messageDelay,
		messageDelay, messageDelay, batchDelay, messageDelay,
	}, rec.calls)

	assert.Equal(t, "spring", summary.CampaignID)
	assert.Equal(t, 2, summary.Templates)
	assert.Equal(t, 6, summary.Attempted)
	assert.Equal(t, 6, summary.Sent)
	assert.Zero(t, summary.Failed)
}

func TestRunPersonalizesMessages(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr, nil, nil)

	campaign := Campaign{
		ID:         "spring",
		Templates:  []*mailtemplate.Template{mustTemplate(t, "t1.txt", "Subject: Hi {{.FirstName}}\n\nVisit {{.URL}} {{.Unknown}}", "")},
		Recipients: testRecipients()[:1],
	}

	_, err := d.Run(context.Background(), campaign)
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)

	msg := tr.sent[0].msg
	assert.Equal(t, "Hi R1", msg.Subject)
	assert.Equal(t, "Visit https://example.com/landing {{.Unknown}}", msg.Body)
	assert.Equal(t, "team@example.com", msg.From)
	assert.Equal(t, "Team", msg.FromName)
	assert.Equal(t, "replies@example.com", msg.ReplyTo)
	assert.Equal(t, "r1@example.com", msg.To)
	assert.Equal(t, "spring", msg.Headers[message.HeaderCampaignID])
	assert.NotContains(t, msg.Headers, message.HeaderEmailID)
}

func TestRunIsolatesRecipientFailures(t *testing.T) {
	tr := &fakeTransport{failFor: map[string]bool{"r2@example.com": true}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d, _ := newTestDispatcher(tr, nil, m)

	campaign := Campaign{
		ID: "spring",
		Templates: []*mailtemplate.Template{
			mustTemplate(t, "t1.txt", "Subject: T1\n\nbody", ""),
			mustTemplate(t, "t2.txt", "Subject: T2\n\nbody", ""),
		},
		Recipients: testRecipients(),
	}

	summary, err := d.Run(context.Background(), campaign)
	require.NoError(t, err)
	assert.Len(t, tr.sent, 6)
	assert.Equal(t, 4, summary.Sent)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesFailed.WithLabelValues("t1.txt")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.MessagesSent.WithLabelValues("t2.txt")))
}

func TestRunWithTracking(t *testing.T) {
	tr := &fakeTransport{}
	in := &fakeInstrumenter{failFor: map[string]bool{"r3@example.com": true}}
	d, rec := newTestDispatcher(tr, in, nil)

	campaign := Campaign{
		ID: "spring",
		Templates: []*mailtemplate.Template{
			mustTemplate(t, "t1.html", "Subject: T1\nContent-Type: text/html\n\n<body>{{.TrackingURL}}</body>", ""),
		},
		Recipients: testRecipients(),
	}

	summary, err := d.Run(context.Background(), campaign)
	require.NoError(t, err)

	require.Len(t, tr.sent, 2)
	assert.Equal(t, "msg-1", tr.sent[0].msg.Headers[message.HeaderEmailID])
	assert.Equal(t, "<body>https://track.example.com</body><!--beacon:msg-1-->", tr.sent[0].msg.Body)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Sent)
	// skipped recipients do not pace the loop
	assert.Equal(t, []time.Duration{messageDelay, messageDelay, batchDelay}, rec.calls)
}

func TestRunRejectsOversizeAttachmentBeforeSending(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.txt"), []byte("ok"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 2048), 0o644))

	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr, nil, nil)

	campaign := Campaign{
		ID: "spring",
		Templates: []*mailtemplate.Template{
			mustTemplate(t, "t1.txt", "Subject: T1\nAttachments: small.txt\n\nbody", dir),
			mustTemplate(t, "t2.txt", "Subject: T2\nAttachments: big.bin\n\nbody", dir),
		},
		Recipients: testRecipients(),
	}

	_, err := d.Run(context.Background(), campaign)

	var tooLarge *AttachmentTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, "t2.txt", tooLarge.Template)
	assert.Equal(t, "big.bin", tooLarge.Attachment)
	assert.Equal(t, int64(2048), tooLarge.Size)
	assert.Empty(t, tr.sent)
}

func TestRunAttachesFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.txt"), []byte("ok"), 0o644))

	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr, nil, nil)

	campaign := Campaign{
		ID:         "spring",
		Templates:  []*mailtemplate.Template{mustTemplate(t, "t1.txt", "Subject: T1\nAttachments: small.txt\n\nbody", dir)},
		Recipients: testRecipients()[:1],
	}

	_, err := d.Run(context.Background(), campaign)
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	require.Len(t, tr.sent[0].msg.Attachments, 1)
	assert.Equal(t, "small.txt", tr.sent[0].msg.Attachments[0].Filename)
	assert.Equal(t, []byte("ok"), tr.sent[0].msg.Attachments[0].Data)
}

func TestRunStopsOnCancellation(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}

	campaign := Campaign{
		ID:         "spring",
		Templates:  []*mailtemplate.Template{mustTemplate(t, "t1.txt", "Subject: T1\n\nbody", "")},
		Recipients: testRecipients(),
	}

	summary, err := d.Run(ctx, campaign)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, tr.sent, 1)
	assert.Equal(t, 1, summary.Sent)
}

func TestRunSingleBatchHasNoBatchDelay(t *testing.T) {
	tr := &fakeTransport{}
	d, rec := newTestDispatcher(tr, nil, nil)

	campaign := Campaign{
		ID:         "spring",
		Templates:  []*mailtemplate.Template{mustTemplate(t, "t1.txt", "Subject: T1\n\nbody", "")},
		Recipients: testRecipients()[:2],
	}

	_, err := d.Run(context.Background(), campaign)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{messageDelay, messageDelay}, rec.calls)
}
