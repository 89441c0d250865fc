package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/patrol"
	"github.com/marketpulse/monitor/internal/scheduler"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/streammanager"
	"github.com/marketpulse/monitor/internal/tradedetector"
	"github.com/marketpulse/monitor/internal/trigger"
)

// tradePollJob wraps Detector.Sweep as a scheduled job (§4.1 trade-poll).
type tradePollJob struct {
	detector *tradedetector.Detector
	timeout  time.Duration
}

func (j *tradePollJob) Name() string { return "trade-poll" }

func (j *tradePollJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.detector.Sweep(ctx)
}

// hotPollJob refreshes every hot stream's value and then runs the Trigger
// Engine over each monitored user's resulting hot snapshot (§4.1
// base-hot-poll; §152's "hot_snapshot is the Trigger Engine's sole input").
type hotPollJob struct {
	manager  *streammanager.Manager
	triggers *trigger.Engine
	users    *store.UserRepository
	timeout  time.Duration
	log      zerolog.Logger
}

func (j *hotPollJob) Name() string { return "base-hot-poll" }

func (j *hotPollJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.manager.PollTemperature(ctx, "hot"); err != nil {
		return err
	}

	users, err := j.users.ListMonitored()
	if err != nil {
		return err
	}
	for _, u := range users {
		snapshot, err := j.manager.HotSnapshot(ctx, u.ID)
		if err != nil {
			j.log.Warn().Err(err).Int64("user_id", u.ID).Msg("hot snapshot failed")
			continue
		}
		if _, err := j.triggers.Evaluate(ctx, u, snapshot); err != nil {
			j.log.Warn().Err(err).Int64("user_id", u.ID).Msg("trigger evaluation failed")
		}
	}
	return nil
}

// temperatureMgmtJob wraps Manager.AutoTransition as a scheduled job
// (§4.1 temperature-mgmt).
type temperatureMgmtJob struct {
	manager *streammanager.Manager
	log     zerolog.Logger
}

func (j *temperatureMgmtJob) Name() string { return "temperature-mgmt" }

func (j *temperatureMgmtJob) Run() error {
	counts, err := j.manager.AutoTransition(time.Now())
	if err != nil {
		return err
	}
	j.log.Debug().Interface("counts", counts).Msg("stream temperature transition complete")
	return nil
}

// patrolJob wraps Patrol.Sweep as a scheduled job (§4.1 patrol).
type patrolJob struct {
	patrol  *patrol.Patrol
	timeout time.Duration
}

func (j *patrolJob) Name() string { return "patrol" }

func (j *patrolJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.patrol.Sweep(ctx, time.Now())
}

// signalCountResetJob wraps UserRepository.ResetDailySignalCounts as a
// scheduled job (§4.1 signal-count-reset, cron at 00:00 UTC).
type signalCountResetJob struct {
	users *store.UserRepository
	log   zerolog.Logger
}

func (j *signalCountResetJob) Name() string { return "signal-count-reset" }

func (j *signalCountResetJob) Run() error {
	n, err := j.users.ResetDailySignalCounts()
	if err != nil {
		return err
	}
	j.log.Debug().Int64("users_reset", n).Msg("daily signal counts reset")
	return nil
}

// triggerCleanupJob retires never-fired, system-authored triggers past
// their 72h grace window (§4.1 trigger-cleanup).
type triggerCleanupJob struct {
	triggers *store.UserTriggerRepository
	log      zerolog.Logger
}

func (j *triggerCleanupJob) Name() string { return "trigger-cleanup" }

func (j *triggerCleanupJob) Run() error {
	candidates, err := j.triggers.ListAutoRetireCandidates()
	if err != nil {
		return err
	}
	now := time.Now()
	retired := 0
	for _, t := range candidates {
		if !t.AutoRetireEligible(now) {
			continue
		}
		if err := j.triggers.Retire(t.ID); err != nil {
			j.log.Error().Err(err).Int64("trigger_id", t.ID).Msg("retire trigger failed")
			continue
		}
		retired++
	}
	j.log.Debug().Int("retired", retired).Msg("trigger cleanup complete")
	return nil
}

// registerJobsArgs bundles everything registerJobs needs to build and
// schedule every job named in §4.1's job catalogue.
type registerJobsArgs struct {
	detector  *tradedetector.Detector
	streamMgr *streammanager.Manager
	triggers  *trigger.Engine
	patrol    *patrol.Patrol
	users     *store.UserRepository
	userTrigs *store.UserTriggerRepository

	briefingJob scheduler.Job
	backupJob   scheduler.Job

	tradePoll      time.Duration
	hotPoll        time.Duration
	patrolInterval time.Duration

	log zerolog.Logger
}

// registerJobs wires every §4.1 job onto the scheduler: interval jobs for
// poll-cadence-driven work, cron jobs for calendar-aligned work.
func registerJobs(sched *scheduler.Scheduler, a registerJobsArgs) {
	sched.AddIntervalJob(a.tradePoll, &tradePollJob{detector: a.detector, timeout: a.tradePoll})
	sched.AddIntervalJob(a.hotPoll, &hotPollJob{
		manager: a.streamMgr, triggers: a.triggers, users: a.users, timeout: a.hotPoll, log: a.log,
	})
	sched.AddIntervalJob(a.patrolInterval, &patrolJob{patrol: a.patrol, timeout: a.patrolInterval})
	sched.AddIntervalJob(time.Hour, &temperatureMgmtJob{manager: a.streamMgr, log: a.log})
	sched.AddIntervalJob(time.Hour, &triggerCleanupJob{triggers: a.userTrigs, log: a.log})
	sched.AddIntervalJob(5*time.Minute, a.briefingJob)

	if err := sched.AddCronJob("CRON_TZ=UTC 0 0 0 * * *", &signalCountResetJob{users: a.users, log: a.log}); err != nil {
		a.log.Error().Err(err).Msg("register signal-count-reset job failed")
	}
	sched.AddIntervalJob(6*time.Hour, a.backupJob)
}
