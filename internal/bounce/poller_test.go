package bounce

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/repository"
)

type recordedBounce struct {
	messageID  string
	bounceType string
	reason     string
}

type fakeRecorder struct {
	mu       sync.Mutex
	known    map[string]bool
	failOnce map[string]bool
	records  []recordedBounce
}

func (f *fakeRecorder) RecordBounce(_ context.Context, messageID, bounceType, reason, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOnce[messageID] {
		delete(f.failOnce, messageID)
		return errors.New("database is locked")
	}
	if !f.known[messageID] {
		return repository.ErrMessageNotFound
	}
	f.records = append(f.records, recordedBounce{messageID, bounceType, reason})
	return nil
}

func startIMAP(t *testing.T) string {
	t.Helper()

	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })

	return ln.Addr().String()
}

func appendMessages(t *testing.T, addr string, raws ...string) {
	t.Helper()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login("username", "password"))

	for _, raw := range raws {
		require.NoError(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(raw)))
	}
}

func rfc822With(id string) string {
	return "Content-Type: message/rfc822\r\n" +
		"\r\n" +
		"From: news@example.com\r\n" +
		"X-Email-ID: " + id + "\r\n" +
		"\r\n" +
		"Hello\r\n"
}

func TestPoller_Poll(t *testing.T) {
	addr := startIMAP(t)
	appendMessages(t, addr,
		dsn("5.1.1", "550 user unknown", rfc822With("known-1")),
		dsn("4.2.2", "452 mailbox full", rfc822With("flaky-1")),
		dsn("5.1.1", "550 user unknown", rfc822With("stranger")),
		"From: friend@example.org\r\nSubject: hi\r\nContent-Type: text/plain\r\n\r\nJust saying hello\r\n",
	)

	rec := &fakeRecorder{
		known:    map[string]bool{"known-1": true, "flaky-1": true},
		failOnce: map[string]bool{"flaky-1": true},
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	cfg := config.BounceConfig{Host: "127.0.0.1", Port: 143, User: "username", Password: "password"}
	p := NewPoller(cfg, rec, m).WithDialer(func(string) (*client.Client, error) {
		return client.Dial(addr)
	})

	result, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{Fetched: 4, Recorded: 1, Ignored: 2}, result)
	require.Len(t, rec.records, 1)
	assert.Equal(t, recordedBounce{"known-1", TypeHard, "550 user unknown"}, rec.records[0])

	// Only the report whose bounce failed to store is still unseen.
	result, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{Fetched: 1, Recorded: 1}, result)
	require.Len(t, rec.records, 2)
	assert.Equal(t, recordedBounce{"flaky-1", TypeSoft, "452 mailbox full"}, rec.records[1])

	result, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PollResult{}, result)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.BouncePolls))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Bounces.WithLabelValues(TypeHard)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Bounces.WithLabelValues(TypeSoft)))
}

func TestPoller_LoginFailure(t *testing.T) {
	addr := startIMAP(t)

	cfg := config.BounceConfig{User: "username", Password: "wrong"}
	p := NewPoller(cfg, &fakeRecorder{}, nil).WithDialer(func(string) (*client.Client, error) {
		return client.Dial(addr)
	})

	_, err := p.Poll(context.Background())
	assert.ErrorContains(t, err, "failed to login")
}

func TestPoller_DialFailure(t *testing.T) {
	p := NewPoller(config.BounceConfig{Host: "127.0.0.1", Port: 1}, &fakeRecorder{}, nil).
		WithDialer(func(addr string) (*client.Client, error) {
			return client.Dial(addr)
		})

	_, err := p.Poll(context.Background())
	assert.ErrorContains(t, err, "failed to connect")
}
