package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/retry"
	"github.com/rs/zerolog"
)

// Job is one unit of scheduled work. A Job that returns a recoverable
// error (see its Track's RetryPolicy) is retried before the occurrence
// is given up on.
type Job func(ctx context.Context) error

// Track is one independently-ticking schedule: a NextFire function
// computed from the current time, a Job to run at each occurrence, and
// a retry policy for job failures.
type Track struct {
	Name          string
	NextFire      func(from time.Time) time.Time
	Job           Job
	RetryPolicy   retry.Policy
	IsRecoverable retry.IsRecoverable
}

// Scheduler runs every registered Track concurrently. Each track allows
// at most one in-flight job: if a job is still running when its next
// occurrence comes due, the occurrence is skipped, never queued.
type Scheduler struct {
	tracks []Track
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
	stopCh  chan struct{}

	// lastRunMu guards lastRun, which records per-track job start times.
	// Tests read this through LastRun to assert that a job started.
	lastRunMu sync.Mutex
	lastRun   map[string]time.Time
}

// New constructs a Scheduler with the given tracks. It does not start
// any goroutines until Start is called.
func New(tracks []Track) *Scheduler {
	return &Scheduler{
		tracks:  tracks,
		logger:  log.WithComponent("scheduler"),
		running: make(map[string]bool),
		lastRun: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Start launches one goroutine per track.
func (s *Scheduler) Start() {
	for _, track := range s.tracks {
		s.wg.Add(1)
		go s.runTrack(track)
	}
}

// Stop signals every track goroutine to exit and waits for them.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// LastRun returns when a track's job last started, and whether it has
// ever run.
func (s *Scheduler) LastRun(trackName string) (time.Time, bool) {
	s.lastRunMu.Lock()
	defer s.lastRunMu.Unlock()
	t, ok := s.lastRun[trackName]
	return t, ok
}

func (s *Scheduler) runTrack(track Track) {
	defer s.wg.Done()

	next := track.NextFire(time.Now())
	for {
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.fire(track)
			next = track.NextFire(time.Now())
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// fire runs one occurrence of track.Job if the track is not already
// busy, with the track's retry policy applied around the job call.
func (s *Scheduler) fire(track Track) {
	s.mu.Lock()
	if s.running[track.Name] {
		s.mu.Unlock()
		s.logger.Warn().Str("track", track.Name).Msg("previous occurrence still running, skipping this one")
		return
	}
	s.running[track.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[track.Name] = false
		s.mu.Unlock()
	}()

	s.lastRunMu.Lock()
	s.lastRun[track.Name] = time.Now()
	s.lastRunMu.Unlock()

	ctx := context.Background()
	err := retry.Do(ctx, track.RetryPolicy, track.IsRecoverable, track.Job)
	if err != nil {
		s.logger.Error().Err(err).Str("track", track.Name).Msg("scheduled job failed")
		return
	}
	s.logger.Info().Str("track", track.Name).Msg("scheduled job completed")
}
