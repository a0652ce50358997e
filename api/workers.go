package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// StartWorkers launches numWorkers goroutines on g that process queued scan
// tasks until ctx is cancelled.
func StartWorkers(ctx context.Context, g *errgroup.Group, store TaskStore, scan PortScanner, numWorkers int, logger *slog.Logger) {
	for i := 0; i < numWorkers; i++ {
		worker := logger.With("worker", i)
		g.Go(func() error {
			workerLoop(ctx, store, scan, worker)
			return nil
		})
	}
}

func workerLoop(ctx context.Context, store TaskStore, scan PortScanner, logger *slog.Logger) {
	for ctx.Err() == nil {
		taskID, err := store.PopFromQueue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			logger.Error("worker failed to pop task", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		processTask(ctx, store, scan, taskID, logger)
	}
}

// processTask runs one queued task to a terminal state.
func processTask(ctx context.Context, store TaskStore, scan PortScanner, taskID string, logger *slog.Logger) {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			logger.Warn("worker task disappeared", "task_id", taskID)
			return
		}
		logger.Error("worker failed to load task", "task_id", taskID, "error", err)
		return
	}

	task.Status = StatusRunning
	task.Error = ""
	task.Results = nil
	task.CompletedAt = nil
	if err := store.UpdateTask(ctx, task); err != nil {
		logger.Error("worker failed to mark task running", "task_id", taskID, "error", err)
		return
	}

	results, err := scan.Scan(ctx, task.Address, task.PortStart, task.PortEnd)
	if err != nil {
		failTask(ctx, task, store, err, logger)
		return
	}

	task.Status = StatusCompleted
	task.Results = results
	now := time.Now().UTC()
	task.CompletedAt = &now

	if err := store.UpdateTask(ctx, task); err != nil {
		logger.Error("worker failed to update task", "task_id", task.ID, "error", err)
		return
	}
	logger.Info("scan task completed", "task_id", task.ID, "ports", len(results))
}

func failTask(ctx context.Context, task *ScanTask, store TaskStore, err error, logger *slog.Logger) {
	logger.Error("worker task failed", "task_id", task.ID, "error", err)
	task.Status = StatusFailed
	task.Error = err.Error()
	task.Results = nil
	now := time.Now().UTC()
	task.CompletedAt = &now

	// The worker context may already be cancelled; the outcome is still recorded.
	if updateErr := store.UpdateTask(context.WithoutCancel(ctx), task); updateErr != nil {
		logger.Error("worker failed to persist failed task", "task_id", task.ID, "error", updateErr)
	}
}
