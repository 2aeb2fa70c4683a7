package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/fleetctl/pkg/retry"
	"github.com/stretchr/testify/assert"
)

func TestScheduler_FiresRepeatedly(t *testing.T) {
	var calls int32
	track := Track{
		Name: "fast",
		NextFire: func(from time.Time) time.Time {
			return from.Add(10 * time.Millisecond)
		},
		Job: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
		RetryPolicy: retry.Policy{Attempts: 1},
	}

	s := New([]Track{track})
	s.Start()
	time.Sleep(55 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestScheduler_SkipsOccurrenceWhileJobStillRunning(t *testing.T) {
	var calls int32
	track := Track{
		Name: "slow",
		NextFire: func(from time.Time) time.Time {
			return from.Add(5 * time.Millisecond)
		},
		Job: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			time.Sleep(60 * time.Millisecond)
			return nil
		},
		RetryPolicy: retry.Policy{Attempts: 1},
	}

	s := New([]Track{track})
	s.Start()
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_RetriesRecoverableFailures(t *testing.T) {
	var attempts int32
	track := Track{
		Name: "retrying",
		NextFire: func(from time.Time) time.Time {
			return from.Add(time.Hour)
		},
		Job: func(ctx context.Context) error {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return assertRecoverableErr{}
			}
			return nil
		},
		RetryPolicy:   retry.Policy{Attempts: 5, Delay: time.Millisecond},
		IsRecoverable: func(error) bool { return true },
	}

	s := New([]Track{track})
	s.fire(track)

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	last, ok := s.LastRun("retrying")
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Second)
}

type assertRecoverableErr struct{}

func (assertRecoverableErr) Error() string { return "transient" }
