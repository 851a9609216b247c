// Package jobs runs the side effects that are decoupled from the
// request/response cycle: thumbnail generation and downstream cache
// expiration. Tasks are queued and executed by worker goroutines with a
// bounded retry/backoff policy; failures are logged and counted, never
// surfaced to the request that queued them.
package jobs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "layer_tasks_completed",
		Help: "Background tasks completed successfully.",
	}, []string{"task"})
	tasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "layer_tasks_failed",
		Help: "Background tasks that exhausted their retries.",
	}, []string{"task"})
)

type Task struct {
	Name string
	Run  func() error
}

type Runner struct {
	queue      chan Task
	maxRetries int
	backoff    time.Duration

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewRunner starts `workers` goroutines draining a queue of `capacity`
// pending tasks. Each task is attempted up to maxRetries+1 times with a
// fixed backoff between attempts.
func NewRunner(workers, capacity, maxRetries int, backoff time.Duration) *Runner {
	r := &Runner{
		queue:      make(chan Task, capacity),
		maxRetries: maxRetries,
		backoff:    backoff,
		stop:       make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case task := <-r.queue:
			r.run(task)
		case <-r.stop:
			return
		}
	}
}

func (r *Runner) run(task Task) {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.backoff)
		}
		if err = task.Run(); err == nil {
			tasksCompleted.WithLabelValues(task.Name).Inc()
			return
		}
		slog.Error("background task attempt failed", "task", task.Name, "attempt", attempt+1, "error", err)
	}
	tasksFailed.WithLabelValues(task.Name).Inc()
	slog.Error("background task exhausted retries", "task", task.Name, "error", err)
}

// Submit queues a task without blocking the caller. If the queue is full the
// task is dropped and counted as failed, preserving the best-effort policy.
func (r *Runner) Submit(task Task) {
	select {
	case r.queue <- task:
	default:
		tasksFailed.WithLabelValues(task.Name).Inc()
		slog.Error("background task queue full, dropping task", "task", task.Name)
	}
}

// Stop waits for workers to finish their current task and exit. Pending
// queued tasks are abandoned.
func (r *Runner) Stop() {
	close(r.stop)
	r.wg.Wait()
}
