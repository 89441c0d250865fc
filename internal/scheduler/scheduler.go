// Package scheduler implements the clock capability (C1): a registry of
// named jobs, each either cron-scheduled or ticker-scheduled, run
// concurrently with no inter-job ordering guarantee and no dependency graph
// between them — a crypto market never closes, so there is no market-timing
// gate to honor either.
package scheduler

import (
	"time"

	"github.com/marketpulse/monitor/internal/scheduler/base"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is the unit the scheduler runs. Name is used for logging and for
// looking the job up again via RunNow.
type Job interface {
	Run() error
	Name() string
}

// JobBase re-exports base.JobBase so jobs can embed it directly to satisfy
// the wider Job-hosting interface used by internal/clientdata and future
// job implementations (SetJob/GetProgressReporter).
type JobBase = base.JobBase

// Scheduler manages background jobs on two kinds of timer: cron expressions
// for calendar-aligned work (signal-count-reset at 00:00 UTC) and
// fixed-interval tickers for everything poll-cadence-driven (trade-poll,
// base-hot-poll, patrol, temperature-mgmt, trigger-cleanup).
type Scheduler struct {
	cron    *cron.Cron
	tickers []*tickerJob
	log     zerolog.Logger
	jobs    []string
	running bool
}

type tickerJob struct {
	job    Job
	ticker *time.Ticker
	stop   chan struct{}
}

// New creates a Scheduler. The cron instance runs with seconds precision so
// sub-minute cron expressions are usable in tests, and skips a cron fire
// while that job's previous run is still in progress.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddCronJob registers job on a cron schedule. Schedule examples:
//   - "CRON_TZ=UTC 0 0 0 * * *" - daily at 00:00 UTC (signal-count-reset)
//   - "@every 30s"    - every 30 seconds
func (s *Scheduler) AddCronJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.runLogged(job) })
	if err != nil {
		return err
	}
	s.jobs = append(s.jobs, job.Name())
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("cron job registered")
	return nil
}

// AddIntervalJob registers job to run once every interval, starting after
// the first tick (not immediately on Start). Use RunNow to execute it
// immediately once at startup.
func (s *Scheduler) AddIntervalJob(interval time.Duration, job Job) {
	tj := &tickerJob{job: job, ticker: time.NewTicker(interval), stop: make(chan struct{})}
	s.tickers = append(s.tickers, tj)
	s.jobs = append(s.jobs, job.Name())
	s.log.Info().Dur("interval", interval).Str("job", job.Name()).Msg("interval job registered")

	go func() {
		for {
			select {
			case <-tj.ticker.C:
				s.runLogged(job)
			case <-tj.stop:
				return
			}
		}
	}()
}

func (s *Scheduler) runLogged(job Job) {
	s.log.Debug().Str("job", job.Name()).Msg("running job")
	if err := job.Run(); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", job.Name()).Msg("job completed")
}

// Start starts the cron loop. Interval jobs start ticking as soon as they
// are registered via AddIntervalJob, independent of Start.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.running = true
	s.log.Info().Msg("scheduler started")
}

// Stop drains the cron scheduler and stops every interval ticker.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	for _, tj := range s.tickers {
		tj.ticker.Stop()
		close(tj.stop)
	}
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
// Used by the /health endpoint.
func (s *Scheduler) Running() bool {
	return s.running
}

// Jobs lists every registered job's name, cron and interval alike, in
// registration order. Used by the /health endpoint.
func (s *Scheduler) Jobs() []string {
	out := make([]string, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// RunNow executes job immediately, outside of its regular schedule. Used at
// startup so the first hot-stream poll or patrol pass doesn't wait a full
// interval.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run()
}
