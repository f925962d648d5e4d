// Package workqueue runs a list of tasks on a fixed number of workers.
//
// Workers share one pending list and take tasks in submission order. The
// first failing task stops the queue: tasks not yet started are dropped and
// the context passed to running tasks is cancelled. Run reports that first
// error; errors caused by the cancellation itself are not reported.
package workqueue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the worker count used when Run is given a non-positive one.
const DefaultWorkers = 8

// Task is one unit of work. It should return promptly once ctx is done.
type Task func(ctx context.Context) error

// Run executes tasks on at most workers concurrent goroutines and waits for
// all of them to stop.
//
// If a task fails, Run returns its error. If ctx is cancelled before every
// task was started, Run returns ctx.Err() so callers can tell an interrupted
// queue from a drained one.
func Run(ctx context.Context, workers int, tasks []Task) error {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	workers = min(workers, len(tasks))

	q := newStack(tasks)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				task, ok := q.pop()
				if !ok {
					return nil
				}
				if err := task(gctx); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if q.len() > 0 {
		return ctx.Err()
	}
	return nil
}

// stack holds pending tasks reversed, so popping from the end yields them in
// submission order.
type stack struct {
	mu    sync.Mutex
	tasks []Task
}

func newStack(tasks []Task) *stack {
	rev := make([]Task, len(tasks))
	for i, t := range tasks {
		rev[len(tasks)-1-i] = t
	}
	return &stack{tasks: rev}
}

func (s *stack) pop() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tasks)
	if n == 0 {
		return nil, false
	}
	t := s.tasks[n-1]
	s.tasks[n-1] = nil
	s.tasks = s.tasks[:n-1]
	return t, true
}

func (s *stack) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
