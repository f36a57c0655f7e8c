package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-mailer-go/internal/bounce"
	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/metrics"
	"campaign-mailer-go/internal/repository"
)

type fakePurger struct {
	days   int
	result repository.PurgeResult
	err    error
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, days int) (repository.PurgeResult, error) {
	f.days = days
	return f.result, f.err
}

type fakePoller struct {
	calls int
}

func (f *fakePoller) Poll(context.Context) (bounce.PollResult, error) {
	f.calls++
	return bounce.PollResult{Fetched: 1, Recorded: 1}, nil
}

func trackingConfig() config.TrackingConfig {
	return config.TrackingConfig{RetentionDays: 90, PurgeSchedule: "0 0 3 * * *"}
}

func TestSchedulerRestart(t *testing.T) {
	bounces := config.BounceConfig{Enabled: true, Schedule: "0 */10 * * * *"}
	sched := NewScheduler(trackingConfig(), bounces, &fakePurger{}, &fakePoller{}, nil)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.NextRun("purge").IsZero())
	assert.False(t, sched.NextRun("bounces").IsZero())
	assert.Error(t, sched.Start())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.NextRun("purge").IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.NoError(t, sched.jobContext().Err())
	require.NoError(t, sched.Stop())
}

func TestSchedulerBouncesDisabled(t *testing.T) {
	sched := NewScheduler(trackingConfig(), config.BounceConfig{Schedule: "0 */10 * * * *"}, &fakePurger{}, &fakePoller{}, nil)

	require.NoError(t, sched.Start())
	defer sched.Stop()
	assert.True(t, sched.NextRun("bounces").IsZero())
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	tracking := config.TrackingConfig{RetentionDays: 90, PurgeSchedule: "every day"}
	sched := NewScheduler(tracking, config.BounceConfig{}, &fakePurger{}, nil, nil)

	err := sched.Start()
	assert.ErrorContains(t, err, "failed to add purge job")
	assert.False(t, sched.IsRunning())
}

func TestSchedulerPurge(t *testing.T) {
	purger := &fakePurger{result: repository.PurgeResult{Messages: 4, Opens: 2}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sched := NewScheduler(trackingConfig(), config.BounceConfig{}, purger, nil, m)

	result, err := sched.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Messages)
	assert.Equal(t, 90, purger.days)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.PurgedMessages))

	purger.err = errors.New("disk full")
	_, err = sched.Purge(context.Background())
	assert.Error(t, err)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.PurgedMessages))
}

func TestSchedulerPollBounces(t *testing.T) {
	poller := &fakePoller{}
	sched := NewScheduler(trackingConfig(), config.BounceConfig{}, &fakePurger{}, poller, nil)

	result, err := sched.PollBounces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recorded)
	assert.Equal(t, 1, poller.calls)

	_, err = NewScheduler(trackingConfig(), config.BounceConfig{}, &fakePurger{}, nil, nil).PollBounces(context.Background())
	assert.Error(t, err)
}
