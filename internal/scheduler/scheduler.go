// Package scheduler is the single in-process timer wheel driving every
// supervised task: one job per `(mode, task_id)` pair, a fixed-interval
// trigger for Probe jobs and interval-or-cron-expression Cron jobs, and
// the coalesce / max_instances=1 / misfire-grace semantics a
// production job scheduler needs without pulling in a full scheduling
// library.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sekigaharaEI/archon/internal/types"
)

// misfireGraceDefault is how late a firing may run before it is
// abandoned rather than executed.
const misfireGraceDefault = 60 * time.Second

// JobCallback is invoked once per firing. Implementations are
// responsible for the "double-check" contract: re-reading the task's
// current status from the State Store and returning silently if it is
// no longer active, since a firing may have been queued before a
// concurrent status change landed.
type JobCallback func(ctx context.Context, taskID string)

// Trigger computes the next fire time strictly after from.
type Trigger interface {
	Next(from time.Time) time.Time
}

type intervalTrigger struct {
	interval time.Duration
}

func (t intervalTrigger) Next(from time.Time) time.Time {
	return from.Add(t.interval)
}

type cronTrigger struct {
	schedule cron.Schedule
}

func (t cronTrigger) Next(from time.Time) time.Time {
	return t.schedule.Next(from)
}

// NewTrigger builds the appropriate Trigger for a task's schedule:
// a cron.Schedule when a cron expression is present, else a fixed
// interval. An explicit IANA timezone is honored via cron's CRON_TZ
// prefix convention.
func NewTrigger(sched types.ScheduleConfig) (Trigger, error) {
	if sched.CronExpression != "" {
		expr := sched.CronExpression
		if sched.Timezone != "" {
			expr = fmt.Sprintf("CRON_TZ=%s %s", sched.Timezone, expr)
		}
		parsed, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron expression %q: %w", sched.CronExpression, err)
		}
		return cronTrigger{schedule: parsed}, nil
	}

	minutes := sched.CheckIntervalMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return intervalTrigger{interval: time.Duration(minutes) * time.Minute}, nil
}

// job is one scheduled task. Its own goroutine owns the timer loop;
// every other field is safe for concurrent access via atomics or is
// only ever touched by that goroutine.
type job struct {
	id      string
	taskID  string
	mode    types.TaskMode
	trigger Trigger

	callback JobCallback

	running atomic.Bool
	paused  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
}

// Scheduler owns every registered job and the goroutine backing it.
type Scheduler struct {
	mu           sync.Mutex
	jobs         map[string]*job
	misfireGrace time.Duration
}

// New builds an empty Scheduler. misfireGrace of 0 uses the 60-second
// default.
func New(misfireGrace time.Duration) *Scheduler {
	if misfireGrace <= 0 {
		misfireGrace = misfireGraceDefault
	}
	return &Scheduler{jobs: make(map[string]*job), misfireGrace: misfireGrace}
}

func jobID(taskID string, mode types.TaskMode) string {
	return string(mode) + "_" + taskID
}

// AddJob registers a job for (taskID, mode) and starts its timer loop.
// Idempotent: re-adding a task already registered replaces its job
// (the prior goroutine is stopped first).
func (s *Scheduler) AddJob(taskID string, mode types.TaskMode, sched types.ScheduleConfig, callback JobCallback) error {
	trigger, err := NewTrigger(sched)
	if err != nil {
		return err
	}
	s.addJobWithTrigger(taskID, mode, trigger, callback)
	return nil
}

// addJobWithTrigger is AddJob with the Trigger already resolved,
// letting tests install a fast trigger without mutating a running
// job's fields out from under its own goroutine.
func (s *Scheduler) addJobWithTrigger(taskID string, mode types.TaskMode, trigger Trigger, callback JobCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := jobID(taskID, mode)
	if existing, ok := s.jobs[id]; ok {
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:       id,
		taskID:   taskID,
		mode:     mode,
		trigger:  trigger,
		callback: callback,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}
	s.jobs[id] = j
	go s.runJob(j)
}

// RemoveJob stops and deregisters a job. Idempotent: removing a job
// that does not exist is a no-op that reports false.
func (s *Scheduler) RemoveJob(taskID string, mode types.TaskMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := jobID(taskID, mode)
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	j.cancel()
	delete(s.jobs, id)
	return true
}

// PauseJob suspends firing without removing the job; its trigger
// schedule keeps advancing but no callback runs until resumed.
func (s *Scheduler) PauseJob(taskID string, mode types.TaskMode) bool {
	j, ok := s.lookup(taskID, mode)
	if !ok {
		return false
	}
	j.paused.Store(true)
	return true
}

// ResumeJob un-suspends a paused job and recomputes its next fire time
// from now, rather than backfilling any firings that were skipped
// while paused.
func (s *Scheduler) ResumeJob(taskID string, mode types.TaskMode) bool {
	j, ok := s.lookup(taskID, mode)
	if !ok {
		return false
	}
	j.paused.Store(false)
	select {
	case j.wake <- struct{}{}:
	default:
	}
	return true
}

// TriggerNow invokes a job's callback immediately, off its normal
// schedule, still subject to the max_instances=1 guard.
func (s *Scheduler) TriggerNow(taskID string, mode types.TaskMode) bool {
	j, ok := s.lookup(taskID, mode)
	if !ok {
		return false
	}
	s.invoke(j)
	return true
}

func (s *Scheduler) lookup(taskID string, mode types.TaskMode) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID(taskID, mode)]
	return j, ok
}

// Stop cancels every registered job's goroutine. The Scheduler is not
// usable afterward.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
}

func (s *Scheduler) runJob(j *job) {
	for {
		next := j.trigger.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-j.ctx.Done():
			timer.Stop()
			return
		case <-j.wake:
			timer.Stop()
			continue
		case scheduledFor := <-timer.C:
			s.fire(j, next, scheduledFor)
		}
	}
}

func (s *Scheduler) fire(j *job, scheduledFor, actualFire time.Time) {
	if j.paused.Load() {
		return
	}

	if delay := actualFire.Sub(scheduledFor); delay > s.misfireGrace {
		slog.Warn("scheduler: misfire, abandoning late firing", "job", j.id, "delay", delay)
		return
	}

	s.invoke(j)
}

func (s *Scheduler) invoke(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		slog.Warn("scheduler: dropped firing, previous instance still running", "job", j.id)
		return
	}

	go func() {
		defer j.running.Store(false)
		j.callback(j.ctx, j.taskID)
	}()
}

// JobIDs returns the ids of every currently registered job, mainly for
// introspection (the Control API's status endpoint).
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
