package cron

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
	"github.com/angelmondragon/bullionstore-backend/pkg/metrics"
)

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs atomic.Int32
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestRunCycleRunsEveryJobDespiteFailures(t *testing.T) {
	failing := &countingJob{name: "outbox-retention", err: errors.New("statement timeout")}
	after := &countingJob{name: "dlq-retention"}
	lock := &fakeLock{}
	svc, err := NewService(ServiceParams{Logger: quietLogger(), Jobs: []Job{failing, nil, after}, Lock: lock})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.EqualValues(t, 1, failing.runs.Load())
	assert.EqualValues(t, 1, after.runs.Load())
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "outbox-retention"}
	lock := &fakeLock{held: true}
	svc, err := NewService(ServiceParams{Logger: quietLogger(), Jobs: []Job{job}, Lock: lock})
	require.NoError(t, err)

	require.NoError(t, svc.runCycle(context.Background()))
	assert.Zero(t, job.runs.Load())
	assert.Zero(t, lock.releases)
}

func TestRunCycleSurfacesLockErrors(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger: quietLogger(),
		Jobs:   []Job{&countingJob{name: "outbox-retention"}},
		Lock:   &fakeLock{acquireErr: errors.New("redis down")},
	})
	require.NoError(t, err)
	assert.ErrorContains(t, svc.runCycle(context.Background()), "redis down")
}

func TestNewServiceRejectsDuplicateNames(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: quietLogger(),
		Lock:   &fakeLock{},
		Jobs:   []Job{&countingJob{name: "outbox-retention"}, &countingJob{name: "outbox-retention"}},
	})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewService(ServiceParams{Logger: quietLogger()})
	assert.Error(t, err)
}

func TestRunCycleRecordsJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Logger:  quietLogger(),
		Jobs:    []Job{&countingJob{name: "ok"}, &countingJob{name: "bad", err: errors.New("boom")}},
		Lock:    &fakeLock{},
		Metrics: metrics.NewMaintenanceJobMetrics(reg),
	})
	require.NoError(t, err)
	require.NoError(t, svc.runCycle(context.Background()))

	assert.EqualValues(t, 1, counterTotal(t, reg, "maintenance_job_success_total"))
	assert.EqualValues(t, 1, counterTotal(t, reg, "maintenance_job_failure_total"))
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &countingJob{name: "outbox-retention"}
	svc, err := NewService(ServiceParams{Logger: quietLogger(), Jobs: []Job{job}, Lock: &fakeLock{}, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
