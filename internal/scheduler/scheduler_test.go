package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	mu   sync.Mutex
	runs int
	err  error
}

func (j *countingJob) Name() string { return j.name }
func (j *countingJob) Run() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return j.err
}
func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestAddCronJob_RegistersAndRuns(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "signal-count-reset"}
	require.NoError(t, s.AddCronJob("@every 50ms", job))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return job.count() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestAddIntervalJob_TicksIndependentlyOfStart(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "base-hot-poll"}
	s.AddIntervalJob(20*time.Millisecond, job)

	require.Eventually(t, func() bool { return job.count() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestRunNow_ExecutesOutsideSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "patrol"}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.count())
}

func TestRunning_TracksStartStop(t *testing.T) {
	s := New(zerolog.Nop())
	assert.False(t, s.Running())
	s.Start()
	assert.True(t, s.Running())
	s.Stop()
	assert.False(t, s.Running())
}

func TestJobs_ListsEveryRegisteredJobInRegistrationOrder(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddCronJob("@every 1h", &countingJob{name: "signal-count-reset"}))
	s.AddIntervalJob(time.Hour, &countingJob{name: "trade-poll"})
	s.AddIntervalJob(time.Hour, &countingJob{name: "patrol"})

	assert.Equal(t, []string{"signal-count-reset", "trade-poll", "patrol"}, s.Jobs())
}

func TestStop_StopsIntervalTickersFromFiringAgain(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "temperature-mgmt"}
	s.AddIntervalJob(15*time.Millisecond, job)
	s.Start()

	require.Eventually(t, func() bool { return job.count() >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	afterStop := job.count()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, afterStop, job.count())
}
