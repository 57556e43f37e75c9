package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rental-feed-sync/backend/internal/logging"
)

// ErrUnknownJob is returned when a job ID is not registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is a recurring unit of work.
type Job struct {
	ID         string
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Interval     string     `json:"interval"`
	Running      bool       `json:"running"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
}

type scheduledJob struct {
	job     Job
	entryID cron.EntryID
	runMu   sync.Mutex

	mu           sync.Mutex
	running      bool
	lastRunAt    time.Time
	lastDuration time.Duration
	lastErr      error
}

// Scheduler runs registered jobs at fixed intervals. A run that is still
// in progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron *cron.Cron

	jobs   map[string]*scheduledJob
	jobsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler. Jobs may be registered before or
// after Start.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := cron.PrintfLogger(logging.Logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		jobs:   make(map[string]*scheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job, replacing any job with the same ID.
func (s *Scheduler) Register(job Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.ID)
	}
	if job.Interval < time.Second {
		return fmt.Errorf("job %s interval must be at least 1s, got %s", job.ID, job.Interval)
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if existing, ok := s.jobs[job.ID]; ok {
		s.cron.Remove(existing.entryID)
		delete(s.jobs, job.ID)
	}

	sj := &scheduledJob{job: job}
	entryID, err := s.cron.AddFunc(intervalSpec(job.Interval), func() {
		s.run(sj)
	})
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.ID, err)
	}
	sj.entryID = entryID
	s.jobs[job.ID] = sj

	logging.Logger.Infof("Scheduled job %s every %s", job.ID, job.Interval)
	return nil
}

// Unregister removes a job. In-flight runs finish normally.
func (s *Scheduler) Unregister(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if sj, ok := s.jobs[id]; ok {
		s.cron.Remove(sj.entryID)
		delete(s.jobs, id)
		logging.Logger.Infof("Unscheduled job %s", id)
	}
}

// Start begins ticking and launches the jobs marked RunOnStart.
func (s *Scheduler) Start() {
	s.jobsMu.RLock()
	var initial []*scheduledJob
	for _, sj := range s.jobs {
		if sj.job.RunOnStart {
			initial = append(initial, sj)
		}
	}
	count := len(s.jobs)
	s.jobsMu.RUnlock()

	logging.Logger.Infof("Starting scheduler with %d jobs", count)
	for _, sj := range initial {
		s.launch(sj)
	}
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	logging.Logger.Info("Stopping scheduler...")
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	logging.Logger.Info("Scheduler stopped")
}

// Trigger runs a job immediately outside its schedule. It is a no-op when
// the job is already running.
func (s *Scheduler) Trigger(id string) error {
	s.jobsMu.RLock()
	sj, ok := s.jobs[id]
	s.jobsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	s.launch(sj)
	return nil
}

// Status reports every registered job, ordered by ID.
func (s *Scheduler) Status() []JobStatus {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, sj := range s.jobs {
		st := JobStatus{
			ID:       sj.job.ID,
			Name:     sj.job.Name,
			Interval: sj.job.Interval.String(),
		}

		sj.mu.Lock()
		st.Running = sj.running
		if !sj.lastRunAt.IsZero() {
			last := sj.lastRunAt
			st.LastRunAt = &last
			st.LastDuration = sj.lastDuration.String()
		}
		if sj.lastErr != nil {
			st.LastError = sj.lastErr.Error()
		}
		sj.mu.Unlock()

		if entry := s.cron.Entry(sj.entryID); !entry.Next.IsZero() {
			next := entry.Next
			st.NextRunAt = &next
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) launch(sj *scheduledJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(sj)
	}()
}

func (s *Scheduler) run(sj *scheduledJob) {
	if !sj.runMu.TryLock() {
		logging.Logger.Warnf("Job %s still running, skipping this run", sj.job.ID)
		return
	}
	defer sj.runMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	started := time.Now()
	sj.mu.Lock()
	sj.running = true
	sj.mu.Unlock()

	err := s.safeRun(sj.job)
	elapsed := time.Since(started)

	sj.mu.Lock()
	sj.running = false
	sj.lastRunAt = started
	sj.lastDuration = elapsed
	sj.lastErr = err
	sj.mu.Unlock()

	if err != nil {
		logging.Logger.Errorf("Job %s failed after %s: %v", sj.job.ID, elapsed, err)
		return
	}
	logging.Logger.Debugf("Job %s finished in %s", sj.job.ID, elapsed)
}

func (s *Scheduler) safeRun(job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return job.Run(s.ctx)
}

func intervalSpec(d time.Duration) string {
	return "@every " + d.String()
}

// SweepJob wraps the full-sweep entry point as a recurring job.
func SweepJob(svc *SyncService, interval time.Duration) Job {
	return Job{
		ID:         "sync-calendar-feeds",
		Name:       "Calendar feed sweep",
		Interval:   interval,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			sweeps, err := svc.SyncAll(ctx)
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var failed int
			for _, sw := range sweeps {
				failed += sw.ErrorCount
			}
			if failed > 0 {
				return fmt.Errorf("%d feeds failed across %d tenants", failed, len(sweeps))
			}
			return nil
		},
	}
}
