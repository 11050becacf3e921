package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs. Each job is single-flight: a tick
// that lands while the previous run is still going is skipped, never
// queued. RunNow shares the same guard, so a manual run cannot overlap
// a scheduled one.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu     sync.Mutex
	guards map[string]*atomic.Bool

	wg sync.WaitGroup
}

// New creates a new scheduler. Schedules are interpreted in UTC.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		log:    log.With().Str("component", "scheduler").Logger(),
		guards: make(map[string]*atomic.Bool),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// guard returns the single-flight flag for a job name, creating it on
// first use.
func (s *Scheduler) guard(name string) *atomic.Bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[name]
	if !ok {
		g = &atomic.Bool{}
		s.guards[name] = g
	}
	return g
}

// AddJob registers a job on a standard 5-field cron schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if ran, _ := s.runGuarded(job); !ran {
			s.log.Warn().Str("job", job.Name()).Msg("Previous run still in progress, skipping tick")
		}
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule). A job whose
// scheduled run is still in flight is skipped.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	ran, err := s.runGuarded(job)
	if !ran {
		s.log.Warn().Str("job", job.Name()).Msg("Job already running, skipping immediate run")
	}
	return err
}

// runGuarded runs the job under its single-flight guard. ran is false
// when another run held the guard.
func (s *Scheduler) runGuarded(job Job) (ran bool, err error) {
	running := s.guard(job.Name())
	if !running.CompareAndSwap(false, true) {
		return false, nil
	}
	s.wg.Add(1)
	defer func() {
		running.Store(false)
		s.wg.Done()
	}()

	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Msg("Job failed")
		return true, err
	}

	s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	return true, nil
}
