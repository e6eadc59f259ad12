package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/magicformula/pkg/logger"
)

// ErrJobNotFound is returned for a job that is not scheduled
var ErrJobNotFound = errors.New("job not found")

// Scheduler runs recurring jobs on cron schedules.
// Jobs are not retried: a failed run is recorded and the job decides what
// failure means for its owner.
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	jobs    map[string]entry
	history map[string]*JobHistory
	mu      sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type entry struct {
	job Job
	id  cron.EntryID
}

// New creates a new scheduler
func New(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		logger:  log.Component("scheduler"),
		jobs:    make(map[string]entry),
		history: make(map[string]*JobHistory),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob adds a job to the scheduler
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobName := job.Name()

	if _, exists := s.jobs[jobName]; exists {
		return fmt.Errorf("job %s already exists", jobName)
	}

	id, err := s.cron.AddFunc(job.Schedule(), func() {
		s.runJob(s.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobName, err)
	}

	s.jobs[jobName] = entry{job: job, id: id}
	if _, ok := s.history[jobName]; !ok {
		s.history[jobName] = &JobHistory{}
	}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	}).Debug("Job added to scheduler")

	return nil
}

// RemoveJob unschedules a job. History is kept.
func (s *Scheduler) RemoveJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.jobs[jobName]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	s.cron.Remove(e.id)
	delete(s.jobs, jobName)
	s.logger.WithField("job", jobName).Debug("Job removed from scheduler")

	return nil
}

// HasJob reports whether jobName is currently scheduled
func (s *Scheduler) HasJob(jobName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.jobs[jobName]
	return exists
}

// Start starts the scheduler. Calling it twice is harmless.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Debug("Scheduler stopped")
}

// RunJob runs a scheduled job immediately, outside of its schedule, and
// returns its error. The run is recorded in the job's history and ends
// when ctx is done or the scheduler stops.
func (s *Scheduler) RunJob(ctx context.Context, jobName string) error {
	s.mu.RLock()
	e, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.runJob(ctx, e.job)
}

// runJob executes a job once and records the result
func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	jobName := job.Name()
	startTime := time.Now()

	err := job.Run(ctx)

	endTime := time.Now()
	result := JobResult{
		JobName:   jobName,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		Success:   err == nil,
	}
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	if history, exists := s.history[jobName]; exists {
		history.AddResult(result)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"job":      jobName,
			"duration": result.Duration,
			"error":    err.Error(),
		}).Warn("Job failed")
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"duration": result.Duration,
	}).Debug("Job completed")
	return nil
}

// Stats returns statistics for a job, including jobs that were removed
func (s *Scheduler) Stats(jobName string) (JobStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[jobName]
	if !ok {
		return JobStats{}, false
	}

	stats := JobStats{
		JobName:     jobName,
		TotalRuns:   len(history.Results),
		SuccessRate: history.GetSuccessRate(),
	}
	if e, active := s.jobs[jobName]; active {
		stats.Active = true
		stats.Schedule = e.job.Schedule()
	}
	if last := history.Latest(); last != nil {
		stats.LastRun = &last.StartTime
		stats.LastError = last.Error
	}
	return stats, true
}
