package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/MimeLyc/subtitle-burner/pkg/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrRunnerClosed = errors.New("runner is shut down")
	ErrTaskRunning  = errors.New("task already running")
)

// Task is the body of one background job.
type Task func(ctx context.Context) error

// Handle observes one spawned task.
type Handle struct {
	ID string

	done chan struct{}
	err  error
}

// Done is closed once the task has returned or panicked.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is the task's result; it is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runner starts exactly one goroutine per spawned task. At most one task per
// id runs at a time, and a semaphore caps how many execute concurrently; the
// rest wait for a slot. Running tasks are never cancelled.
type Runner struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	active map[string]*Handle
	wg     sync.WaitGroup
}

func NewRunner(concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		active: make(map[string]*Handle),
	}
}

// Spawn schedules task under id and returns immediately.
func (r *Runner) Spawn(id string, task Task) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRunnerClosed
	}
	if _, ok := r.active[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskRunning, id)
	}

	h := &Handle{ID: id, done: make(chan struct{})}
	r.active[id] = h
	r.wg.Add(1)
	go r.run(h, task)
	return h, nil
}

func (r *Runner) run(h *Handle, task Task) {
	defer r.wg.Done()
	defer r.finish(h)

	ctx := context.Background()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		h.err = err
		return
	}
	defer r.sem.Release(1)

	h.err = invoke(ctx, h.ID, task)
}

func (r *Runner) finish(h *Handle) {
	r.mu.Lock()
	delete(r.active, h.ID)
	r.mu.Unlock()
	close(h.done)
}

func invoke(ctx context.Context, id string, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Task %s panicked: %v\n%s", id, rec, debug.Stack())
			err = fmt.Errorf("task %s panicked: %v", id, rec)
		}
	}()
	return task(ctx)
}

// Active reports how many tasks are waiting or running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown rejects new tasks and waits for the running ones until ctx ends.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
