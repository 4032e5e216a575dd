package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work identified by Key
type Task struct {
	Key  string
	Work func(ctx context.Context) error
}

// Report is the outcome of a Run
type Report struct {
	// Errors holds the error of every task that failed, keyed by task key
	Errors   map[string]error
	Started  int
	Duration time.Duration
}

// Failed lists the keys of failed tasks, sorted
func (r *Report) Failed() []string {
	keys := make([]string, 0, len(r.Errors))
	for key := range r.Errors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Run executes tasks with at most concurrency running at once and returns after
// all of them have finished. A failing or panicking task does not cancel the others.
func Run(ctx context.Context, tasks []Task, concurrency int) *Report {
	if concurrency <= 0 {
		concurrency = 1
	}

	start := time.Now()
	report := &Report{Errors: make(map[string]error)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			err := runTask(ctx, task)

			mu.Lock()
			report.Started++
			if err != nil {
				report.Errors[task.Key] = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	return report
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Key, r)
		}
	}()
	return task.Work(ctx)
}
