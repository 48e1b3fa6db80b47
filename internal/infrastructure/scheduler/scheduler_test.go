package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestEvery(t *testing.T) {
	at := time.Date(2025, 4, 7, 6, 0, 0, 0, time.UTC)
	e := Every(15 * time.Minute)
	assert.Equal(t, at.Add(15*time.Minute), e.Next(at))
	assert.Equal(t, "@every 15m0s", e.String())
}

func TestScheduler_Register(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "a"}

	require.NoError(t, s.Register(job, Every(time.Minute)))
	assert.ErrorIs(t, s.Register(job, Every(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "b"}, nil), ErrNilSchedule)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	var failures atomic.Int32
	s := New(Config{
		Tick:       5 * time.Millisecond,
		RunOnStart: true,
		OnComplete: func(r JobResult) {
			if r.Err != nil {
				failures.Add(1)
			}
		},
	})
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("boom")}
	require.NoError(t, s.Register(ok, Every(time.Hour)))
	require.NoError(t, s.Register(bad, Every(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool {
		return ok.runs.Load() == 1 && failures.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.Equal(t, int32(1), ok.runs.Load(), "hourly job runs once")
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(Config{})
	job := &countingJob{name: "a"}
	require.NoError(t, s.Register(job, Every(time.Hour)))

	res, err := s.RunNow(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", res.JobName)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
