// Package executor runs batches of transfers against the remote API under a
// per-account concurrency ceiling. One item's failure never aborts its
// siblings; failures are logged, reported, and excluded from the success
// counters. Cancellation is cooperative: in-flight transfers finish, queued
// ones are never started.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/skysync/skysync/internal/logging"
	"github.com/skysync/skysync/internal/remote"
	"github.com/skysync/skysync/internal/utils"
)

// Task is one pending transfer.
type Task struct {
	RemoteID  string
	Path      string // slash-separated path relative to the account root
	LocalPath string // absolute filesystem path
	Size      int64
}

// Result reports the outcome of a single task. RemoteItem is populated for
// successful uploads.
type Result struct {
	Task       Task
	RemoteItem *remote.Item
	Err        error
}

// Progress is emitted after every completed or failed item so observers
// stay live during long batches.
type Progress struct {
	Completed      int
	Failed         int
	CompletedBytes int64
	BytesPerSecond float64
	InFlight       int
	CurrentPath    string
}

// Summary aggregates a finished batch.
type Summary struct {
	Completed      int
	Failed         int
	CompletedBytes int64
	Duration       time.Duration
}

type Executor struct {
	api    remote.API
	logger logging.Logger
}

func New(api remote.API, logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Executor{api: api, logger: logger}
}

// ExecuteUploads transfers local files to the remote.
func (e *Executor) ExecuteUploads(ctx context.Context, tasks []Task, maxParallel int, onResult func(Result), onProgress func(Progress)) Summary {
	return e.run(ctx, tasks, maxParallel, onResult, onProgress, func(ctx context.Context, task Task) (*remote.Item, error) {
		return e.api.Upload(ctx, task.Path, task.LocalPath)
	})
}

// ExecuteDownloads transfers remote content to local files.
func (e *Executor) ExecuteDownloads(ctx context.Context, tasks []Task, maxParallel int, onResult func(Result), onProgress func(Progress)) Summary {
	return e.run(ctx, tasks, maxParallel, onResult, onProgress, func(ctx context.Context, task Task) (*remote.Item, error) {
		return nil, e.api.Download(ctx, task.RemoteID, task.LocalPath)
	})
}

func (e *Executor) run(ctx context.Context, tasks []Task, maxParallel int, onResult func(Result), onProgress func(Progress), transfer func(context.Context, Task) (*remote.Item, error)) Summary {
	if len(tasks) == 0 {
		return Summary{}
	}
	if maxParallel < 1 {
		maxParallel = 1
	}
	if maxParallel > 10 {
		maxParallel = 10
	}

	start := time.Now()

	var mu sync.Mutex
	var completed, failed, inFlight int
	var completedBytes int64

	report := func(path string) {
		if onProgress == nil {
			return
		}
		elapsed := time.Since(start).Seconds()
		throughput := 0.0
		if elapsed > 0 {
			throughput = float64(completedBytes) / elapsed
		}
		onProgress(Progress{
			Completed:      completed,
			Failed:         failed,
			CompletedBytes: completedBytes,
			BytesPerSecond: throughput,
			InFlight:       inFlight,
			CurrentPath:    path,
		})
	}

	jobs := make(chan Task)
	var wg sync.WaitGroup

	for i := 0; i < maxParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				// No new work once cancellation is observed; items already
				// handed to a worker run to completion.
				if ctx.Err() != nil {
					continue
				}

				mu.Lock()
				inFlight++
				mu.Unlock()

				item, err := transfer(ctx, task)

				mu.Lock()
				inFlight--
				if err != nil {
					failed++
					e.logger.Warn("transfer failed",
						logging.F("path", task.Path),
						logging.F("error", err.Error()),
					)
				} else {
					completed++
					completedBytes += task.Size
				}
				report(task.Path)
				mu.Unlock()

				if onResult != nil {
					result := Result{Task: task, RemoteItem: item}
					if err != nil {
						result.Err = utils.NewSyncError(utils.ErrCodeTransferFailed, "transfer failed").
							WithContext("path", task.Path).
							WithCause(err).
							Build()
					}
					onResult(result)
				}
			}
		}()
	}

	for _, task := range tasks {
		jobs <- task
	}
	close(jobs)
	wg.Wait()

	return Summary{
		Completed:      completed,
		Failed:         failed,
		CompletedBytes: completedBytes,
		Duration:       time.Since(start),
	}
}
