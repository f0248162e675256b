package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekigaharaEI/archon/internal/types"
)

func countingCallback() (JobCallback, *int32) {
	var count int32
	return func(ctx context.Context, taskID string) {
		atomic.AddInt32(&count, 1)
	}, &count
}

func TestNewTrigger_IntervalDefault(t *testing.T) {
	trig, err := NewTrigger(types.ScheduleConfig{})
	require.NoError(t, err)
	from := time.Now()
	next := trig.Next(from)
	assert.Equal(t, 15*time.Minute, next.Sub(from))
}

func TestNewTrigger_IntervalExplicit(t *testing.T) {
	trig, err := NewTrigger(types.ScheduleConfig{CheckIntervalMinutes: 5})
	require.NoError(t, err)
	from := time.Now()
	assert.Equal(t, 5*time.Minute, trig.Next(from).Sub(from))
}

func TestNewTrigger_CronExpression(t *testing.T) {
	trig, err := NewTrigger(types.ScheduleConfig{CronExpression: "*/5 * * * *"})
	require.NoError(t, err)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := trig.Next(from)
	assert.Equal(t, 5*time.Minute, next.Sub(from))
}

func TestNewTrigger_InvalidCronExpression(t *testing.T) {
	_, err := NewTrigger(types.ScheduleConfig{CronExpression: "not a cron expression"})
	assert.Error(t, err)
}

func TestAddJob_FiresOnInterval(t *testing.T) {
	s := New(time.Minute)
	defer s.Stop()

	callback, count := countingCallback()
	s.addJobWithTrigger("t1", types.ModeProbe, intervalTrigger{interval: 10 * time.Millisecond}, callback)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(count) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRemoveJob_StopsFiring(t *testing.T) {
	s := New(time.Minute)
	defer s.Stop()

	callback, count := countingCallback()
	s.addJobWithTrigger("t2", types.ModeProbe, intervalTrigger{interval: 10 * time.Millisecond}, callback)

	require.Eventually(t, func() bool { return atomic.LoadInt32(count) >= 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.RemoveJob("t2", types.ModeProbe))
	assert.False(t, s.RemoveJob("t2", types.ModeProbe))

	observed := atomic.LoadInt32(count)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, observed, atomic.LoadInt32(count))
}

func TestPauseJob_SuppressesFiring(t *testing.T) {
	s := New(time.Minute)
	defer s.Stop()

	callback, count := countingCallback()
	s.addJobWithTrigger("t3", types.ModeProbe, intervalTrigger{interval: 10 * time.Millisecond}, callback)

	assert.True(t, s.PauseJob("t3", types.ModeProbe))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(count))

	assert.True(t, s.ResumeJob("t3", types.ModeProbe))
	require.Eventually(t, func() bool { return atomic.LoadInt32(count) >= 1 }, time.Second, 5*time.Millisecond)
}

func TestMaxInstances_DropsOverlappingFiring(t *testing.T) {
	s := New(time.Minute)
	defer s.Stop()

	var running int32
	var maxObserved int32
	var mu sync.Mutex
	callback := func(ctx context.Context, taskID string) {
		n := atomic.AddInt32(&running, 1)
		mu.Lock()
		if n > maxObserved {
			maxObserved = n
		}
		mu.Unlock()
		time.Sleep(40 * time.Millisecond)
		atomic.AddInt32(&running, -1)
	}

	s.addJobWithTrigger("t4", types.ModeProbe, intervalTrigger{interval: 5 * time.Millisecond}, callback)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, int32(1), maxObserved)
	mu.Unlock()
}

func TestTriggerNow_InvokesImmediately(t *testing.T) {
	s := New(time.Minute)
	defer s.Stop()

	callback, count := countingCallback()
	require.NoError(t, s.AddJob("t5", types.ModeCron, types.ScheduleConfig{CheckIntervalMinutes: 1440}, callback))

	assert.True(t, s.TriggerNow("t5", types.ModeCron))
	require.Eventually(t, func() bool { return atomic.LoadInt32(count) >= 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.TriggerNow("unknown", types.ModeCron))
}

func TestMisfireGrace_AbandonsLateFiring(t *testing.T) {
	s := New(10 * time.Millisecond)
	j := &job{id: "x", taskID: "x", mode: types.ModeProbe, ctx: context.Background(), wake: make(chan struct{}, 1)}
	var invoked int32
	j.callback = func(ctx context.Context, taskID string) { atomic.AddInt32(&invoked, 1) }

	scheduled := time.Now()
	onTime := scheduled.Add(5 * time.Millisecond)
	s.fire(j, scheduled, onTime)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&invoked) == 1 }, time.Second, 5*time.Millisecond)

	late := scheduled.Add(200 * time.Millisecond)
	s.fire(j, scheduled, late)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invoked))
}

type fakeStore struct {
	active []*types.TaskConfig
}

func (f *fakeStore) ListActiveTasks() ([]*types.TaskConfig, error) {
	return f.active, nil
}

func TestRestore_RegistersOnlyActiveTasks(t *testing.T) {
	s := New(time.Minute)
	defer s.Stop()

	store := &fakeStore{active: []*types.TaskConfig{
		{TaskID: "p1", Mode: types.ModeProbe, Schedule: types.ScheduleConfig{CheckIntervalMinutes: 5}},
		{TaskID: "c1", Mode: types.ModeCron, Schedule: types.ScheduleConfig{CheckIntervalMinutes: 10}},
	}}

	err := s.Restore(store, func(cfg *types.TaskConfig) JobCallback {
		return func(ctx context.Context, taskID string) {}
	})
	require.NoError(t, err)

	ids := s.JobIDs()
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, jobID("p1", types.ModeProbe))
	assert.Contains(t, ids, jobID("c1", types.ModeCron))
}
