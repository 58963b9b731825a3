package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/config"
)

// Job names
const (
	JobQueue        = "queue"
	JobDistribution = "distribution"
	JobHourly       = "hourly"
	JobDaily        = "daily"
)

var (
	// ErrUnknownJob is returned by RunOnce for a name that is not registered
	ErrUnknownJob = errors.New("unknown scheduler job")
	// ErrJobRunning is returned by RunOnce while the same job is still active
	ErrJobRunning = errors.New("job is already running")
)

type job struct {
	name    string
	spec    string
	run     func(ctx context.Context) error
	entryID cron.EntryID

	// held for the duration of a run; a tick that cannot take it is skipped
	active  sync.Mutex
	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// JobStatus describes one registered job
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Status is a snapshot of the scheduler
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Scheduler runs the engine triggers on cron schedules
type Scheduler struct {
	cron     *cron.Cron
	config   *config.SchedulerConfig
	triggers Triggers
	jobs     map[string]*job

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, triggers Triggers) *Scheduler {
	s := &Scheduler{
		config:   cfg,
		triggers: triggers,
	}
	s.jobs = map[string]*job{
		JobQueue: {name: JobQueue, spec: cfg.QueueCron, run: func(ctx context.Context) error {
			_, err := triggers.OnQueueTick(ctx, cfg.QueueLimit)
			return err
		}},
		JobDistribution: {name: JobDistribution, spec: cfg.DistributionCron, run: func(ctx context.Context) error {
			_, err := triggers.OnDistributionTick(ctx, nil, cfg.DistributionLimit)
			return err
		}},
		JobHourly: {name: JobHourly, spec: cfg.HourlyCron, run: triggers.OnHourlyTick},
		JobDaily:  {name: JobDaily, spec: cfg.DailyCron, run: triggers.OnDailyTick},
	}
	return s
}

// Start registers every job and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	c := cron.New(cron.WithSeconds())
	for _, name := range s.jobNames() {
		j := s.jobs[name]
		if j.spec == "" {
			logrus.Warnf("No schedule configured for %s job, it will only run on demand", name)
			continue
		}
		id, err := c.AddFunc(j.spec, func() { s.tick(j) })
		if err != nil {
			return fmt.Errorf("failed to add cron job %s: %w", name, err)
		}
		j.entryID = id
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started (queue %q, distribution %q, hourly %q, daily %q)",
		s.config.QueueCron, s.config.DistributionCron, s.config.HourlyCron, s.config.DailyCron)
	return nil
}

// Stop stops the cron loop and waits for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	for _, j := range s.jobs {
		j.entryID = 0
	}
	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) tick(j *job) {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if err := s.execute(ctx, j); errors.Is(err, ErrJobRunning) {
		logrus.Debugf("Skipping %s tick, previous run still active", j.name)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	if !j.active.TryLock() {
		return ErrJobRunning
	}
	defer j.active.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	err := j.run(ctx)

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		logrus.WithError(err).Errorf("Scheduled %s job failed", j.name)
		return err
	}
	logrus.Debugf("Scheduled %s job completed in %v", j.name, time.Since(start))
	return nil
}

// RunOnce runs a job synchronously (for manual triggering). It honours the
// same overlap guard as the cron ticks.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	logrus.Infof("Running %s job once", name)
	return s.execute(ctx, j)
}

// Exclusive runs fn under the overlap guard of the named job, so a manual
// run never overlaps the cron tick of the same job.
func (s *Scheduler) Exclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.active.TryLock() {
		return ErrJobRunning
	}
	defer j.active.Unlock()
	return fn(ctx)
}

// NextRuns returns the next activation of every scheduled job
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Time, len(s.jobs))
	if !s.isRunning {
		return out
	}
	for name, j := range s.jobs {
		if j.entryID != 0 {
			out[name] = s.cron.Entry(j.entryID).Next
		}
	}
	return out
}

// Status returns a snapshot of the scheduler and its jobs
func (s *Scheduler) Status() Status {
	next := s.NextRuns()
	st := Status{Running: s.IsRunning()}
	for _, name := range s.jobNames() {
		j := s.jobs[name]
		j.mu.Lock()
		js := JobStatus{Name: name, Schedule: j.spec, NextRun: next[name], LastRun: j.lastRun}
		if j.lastErr != nil {
			js.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// Wait waits for running jobs to return
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) jobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
