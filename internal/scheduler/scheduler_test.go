package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"onetime/matching-service/internal/scheduler"
)

type countingJobs struct {
	rescans atomic.Int32
	sweeps  atomic.Int32
}

func (j *countingJobs) Rescan(context.Context) (int, error) {
	j.rescans.Add(1)
	return 0, nil
}

func (j *countingJobs) ExpireSweep(context.Context) (int, error) {
	j.sweeps.Add(1)
	return 0, nil
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_RunsRescanImmediatelyThenOnSchedule(t *testing.T) {
	jobs := &countingJobs{}
	s := scheduler.New(jobs, time.Second, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return jobs.rescans.Load() >= 1 }, 500*time.Millisecond)
	waitFor(t, func() bool { return jobs.rescans.Load() >= 2 && jobs.sweeps.Load() >= 1 }, 3*time.Second)

	cancel()
	s.Stop()
}

func TestScheduler_Trigger(t *testing.T) {
	jobs := &countingJobs{}
	s := scheduler.New(jobs, time.Hour, time.Hour, nil)
	s.Trigger(context.Background())
	if got := jobs.rescans.Load(); got != 1 {
		t.Errorf("rescans = %d, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Trigger(ctx)
	if got := jobs.rescans.Load(); got != 1 {
		t.Errorf("Trigger on a cancelled context should not rescan, rescans = %d", got)
	}
}

func TestCoalesce_CollapsesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	var runs atomic.Int32
	kick, stop := scheduler.Coalesce(ctx, func(context.Context) {
		runs.Add(1)
		<-release
	})

	kick()
	waitFor(t, func() bool { return runs.Load() == 1 }, time.Second)

	// while the first run blocks, a burst leaves exactly one follow-up pending
	for i := 0; i < 10; i++ {
		kick()
	}
	release <- struct{}{}
	waitFor(t, func() bool { return runs.Load() == 2 }, time.Second)
	release <- struct{}{}

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 2 {
		t.Errorf("runs = %d, want 2", got)
	}

	cancel()
	stop()
}
