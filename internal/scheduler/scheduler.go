// Package scheduler runs the periodic jobs of a mounted dashboard. Jobs are
// tied to the scheduler's lifecycle: Stop cancels the context handed to every
// job and waits for a running job to return, so no job outlives it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/reconboard/internal/logging"
)

// JobFunc is the body of a scheduled job. ctx is canceled when the
// scheduler stops.
type JobFunc func(ctx context.Context)

// ScheduledJob tracks the run state of one registered job.
type ScheduledJob struct {
	Name     string
	Spec     string
	CronID   cron.EntryID
	LastRun  time.Time
	NextRun  time.Time
	Running  bool
	Runs     int
	Panics   int
	Skipped  int
	fn       JobFunc
	schedule cron.Schedule
}

// Scheduler manages the periodic jobs of one dashboard mount.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. It does nothing until Start.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.WithComponent("poller")

	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger: logger})),
		logger: logger,
		jobs:   make(map[string]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every returns the cron spec for a fixed interval. The cron library does not
// schedule below one second.
func Every(interval time.Duration) string {
	if interval < time.Second {
		interval = time.Second
	}
	return "@every " + interval.String()
}

// AddJob registers fn under name using a standard cron spec or a descriptor
// such as "@every 10s". A run that is still in progress when the next tick
// fires causes that tick to be skipped.
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	job := &ScheduledJob{
		Name:     name,
		Spec:     spec,
		fn:       fn,
		schedule: schedule,
		NextRun:  schedule.Next(time.Now()),
	}

	wrapped := cron.NewChain(cron.SkipIfStillRunning(skipLogger{s: s, name: name})).
		Then(cron.FuncJob(func() { s.execute(name) }))
	job.CronID = s.cron.Schedule(schedule, wrapped)
	s.jobs[name] = job

	s.logger.Debug("Added job", "job", name, "schedule", spec)
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Debug("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels the job context, stops firing and waits for a running job to
// return. It is idempotent. It must not be called from inside a job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Debug("Scheduler stopped")
}

// Running reports whether the scheduler is firing jobs.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetJobs returns a snapshot of the registered jobs.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		snapshot.fn = nil
		jobs = append(jobs, snapshot)
	}
	return jobs
}

// execute runs one tick of a job. Panics are recovered so one bad run does
// not take the poller down.
func (s *Scheduler) execute(name string) {
	job, ok := s.prepareJobExecution(name)
	if !ok {
		return
	}
	defer s.cleanupJobExecution(name)

	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			job.Panics++
			s.mu.Unlock()
			s.logger.Error("Job panicked", "job", name, "panic", fmt.Sprint(r))
		}
	}()

	job.fn(s.ctx)
}

// prepareJobExecution marks the job running unless the scheduler stopped.
func (s *Scheduler) prepareJobExecution(name string) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists || s.stopped {
		return nil, false
	}

	job.Running = true
	job.Runs++
	job.LastRun = time.Now()
	return job, true
}

// cleanupJobExecution marks the job as no longer running.
func (s *Scheduler) cleanupJobExecution(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[name]; exists {
		job.Running = false
		job.NextRun = job.schedule.Next(time.Now())
	}
}

// cronLogger routes the cron library's logging to ours.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).Error(msg, keysAndValues...)
}

// skipLogger counts ticks dropped by SkipIfStillRunning.
type skipLogger struct {
	s    *Scheduler
	name string
}

func (l skipLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.s.mu.Lock()
		if job, ok := l.s.jobs[l.name]; ok {
			job.Skipped++
		}
		l.s.mu.Unlock()
		l.s.logger.Debug("Job still running, skipping tick", "job", l.name)
	}
}

func (l skipLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.logger.WithError(err).Error(msg, keysAndValues...)
}
