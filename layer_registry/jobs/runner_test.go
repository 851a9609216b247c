package jobs

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRunnerExecutesTasks(t *testing.T) {
	r := NewRunner(2, 16, 0, time.Millisecond)
	defer r.Stop()

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		r.Submit(Task{Name: "count", Run: func() error {
			done.Add(1)
			return nil
		}})
	}

	waitFor(t, func() bool { return done.Load() == 5 })
}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	r := NewRunner(1, 16, 3, time.Millisecond)
	defer r.Stop()

	var attempts atomic.Int32
	r.Submit(Task{Name: "flaky", Run: func() error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})

	waitFor(t, func() bool { return attempts.Load() == 3 })
}

func TestRunnerGivesUpAfterMaxRetries(t *testing.T) {
	r := NewRunner(1, 16, 2, time.Millisecond)
	defer r.Stop()

	var attempts atomic.Int32
	r.Submit(Task{Name: "hopeless", Run: func() error {
		attempts.Add(1)
		return errors.New("permanent")
	}})

	// maxRetries=2 means three attempts total, then the task is abandoned
	waitFor(t, func() bool { return attempts.Load() == 3 })
	time.Sleep(10 * time.Millisecond)
	if attempts.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts.Load())
	}
}

func TestRunnerDropsTasksWhenQueueFull(t *testing.T) {
	r := NewRunner(1, 1, 0, time.Millisecond)
	defer r.Stop()

	block := make(chan struct{})
	started := make(chan struct{})
	r.Submit(Task{Name: "blocker", Run: func() error {
		close(started)
		<-block
		return nil
	}})
	<-started

	// fill the single queue slot, then overflow
	var executed atomic.Int32
	for i := 0; i < 10; i++ {
		r.Submit(Task{Name: "overflow", Run: func() error {
			executed.Add(1)
			return nil
		}})
	}
	close(block)

	// only the queued task runs, the rest were dropped without blocking
	waitFor(t, func() bool { return executed.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	if executed.Load() != 1 {
		t.Errorf("expected exactly 1 overflow task to run, got %d", executed.Load())
	}
}
