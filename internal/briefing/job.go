package briefing

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/store"
)

var kst = mustLoadKST()

func mustLoadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Job runs on a 5-minute tick (§4.1's daily-briefing job) and generates a
// briefing for every monitored user whose briefing_hour matches the current
// KST hour within the first 5 minutes of it.
type Job struct {
	users *store.UserRepository
	gen   *Generator
	log   zerolog.Logger
}

// NewJob builds the scheduled daily-briefing job.
func NewJob(users *store.UserRepository, gen *Generator, log zerolog.Logger) *Job {
	return &Job{users: users, gen: gen, log: log.With().Str("job", "daily-briefing").Logger()}
}

// Name identifies the job for scheduling and logging.
func (j *Job) Name() string {
	return "daily-briefing"
}

// Run evaluates every monitored user against Eligible and generates a
// briefing for each match. One user's failure is logged and does not stop
// the sweep for the rest.
func (j *Job) Run() error {
	users, err := j.users.ListMonitored()
	if err != nil {
		return err
	}

	now := time.Now().In(kst)
	ctx := context.Background()
	for _, u := range users {
		if !Eligible(u, now) {
			continue
		}
		if err := j.gen.Generate(ctx, u); err != nil {
			j.log.Error().Err(err).Int64("user_id", u.ID).Msg("generate briefing failed")
		}
	}
	return nil
}
