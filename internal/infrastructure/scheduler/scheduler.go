// Package scheduler runs periodic maintenance jobs: rebuilding the global
// distance board from storage and rolling over recurring challenges.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is one unit of periodic work.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

// Schedule decides when a job runs next.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// Every runs a job at a fixed interval.
type Every time.Duration

// Next implements Schedule.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func (e Every) String() string {
	return "@every " + time.Duration(e).String()
}

// JobResult is the outcome of one execution.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler runs registered jobs on their schedules. A job never overlaps
// with itself: a run that is still going when the next one is due is skipped.
type Scheduler struct {
	mu     sync.Mutex
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	jobs    map[string]*scheduledJob
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	runOnStart bool
	onComplete func(JobResult)
}

type scheduledJob struct {
	job       Job
	schedule  Schedule
	nextRun   time.Time
	inFlight  bool
	runCount  int64
	failCount int64
}

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *slog.Logger

	// Tick is how often due jobs are checked.
	Tick time.Duration

	// RunOnStart makes every job due immediately after Start.
	RunOnStart bool

	// OnComplete is called after every run.
	OnComplete func(JobResult)
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Scheduler{
		logger:     cfg.Logger.With("component", "scheduler"),
		tick:       cfg.Tick,
		now:        time.Now,
		jobs:       make(map[string]*scheduledJob),
		onComplete: cfg.OnComplete,
		runOnStart: cfg.RunOnStart,
	}
}

// Register adds a job.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	sj := &scheduledJob{job: job, schedule: schedule, nextRun: schedule.Next(s.now())}
	if s.runOnStart {
		sj.nextRun = time.Time{}
	}
	s.jobs[name] = sj

	s.logger.Info("job registered", "job", name, "schedule", schedule.String())
	return nil
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("scheduler started", "jobs_count", len(s.jobs))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.runDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*scheduledJob
	for _, sj := range s.jobs {
		if !sj.inFlight && !now.Before(sj.nextRun) {
			sj.inFlight = true
			sj.nextRun = sj.schedule.Next(now)
			due = append(due, sj)
		}
	}
	s.mu.Unlock()

	for _, sj := range due {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, sj)
		}()
	}
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) JobResult {
	name := sj.job.Name()
	started := time.Now()
	err := sj.job.Run(ctx)
	result := JobResult{JobName: name, StartedAt: started, Duration: time.Since(started), Err: err}

	s.mu.Lock()
	sj.inFlight = false
	sj.runCount++
	if err != nil {
		sj.failCount++
	}
	onComplete := s.onComplete
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("job failed", "job", name, "duration", result.Duration.String(), "error", err)
	} else {
		s.logger.Debug("job completed", "job", name, "duration", result.Duration.String())
	}
	if onComplete != nil {
		onComplete(result)
	}
	return result
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	sj, exists := s.jobs[name]
	if exists && sj.inFlight {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	if exists {
		sj.inFlight = true
	}
	s.mu.Unlock()
	if !exists {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	result := s.execute(ctx, sj)
	return result, result.Err
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name      string
	Schedule  string
	NextRun   time.Time
	RunCount  int64
	FailCount int64
}

// ListJobs returns information about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, sj := range s.jobs {
		infos = append(infos, JobInfo{
			Name:      name,
			Schedule:  sj.schedule.String(),
			NextRun:   sj.nextRun,
			RunCount:  sj.runCount,
			FailCount: sj.failCount,
		})
	}
	return infos
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)
