// Package worker runs the polling execution loop that turns pending tasks
// into completed ones.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskforge/internal/bus"
	"taskforge/internal/domain"
	"taskforge/internal/engine"
	"taskforge/internal/events"
)

// ExecutorFunc performs one task. A nil error completes the task; an error
// fails it with the error message recorded on the row.
type ExecutorFunc func(ctx context.Context, t domain.Task) error

const heartbeatEvery = 30 * time.Second

// Loop claims batches of pending tasks and executes them until the context
// is cancelled. Executors are keyed by task category; categories without an
// executor fall back to Default.
type Loop struct {
	Name         string
	Kind         string
	Capabilities []string
	Engine       *engine.Engine
	Bus          *bus.Bus
	PollInterval time.Duration
	BatchSize    int
	Executors    map[string]ExecutorFunc
	Default      ExecutorFunc
	Now          func() time.Time

	workerID int64
}

// Register upserts the worker row by name and announces it. Run calls this;
// it is separate so a loop can be driven manually with RunOnce.
func (l *Loop) Register(ctx context.Context) error {
	if l.Now == nil {
		l.Now = time.Now
	}
	if l.PollInterval <= 0 {
		l.PollInterval = 2 * time.Second
	}
	if l.BatchSize <= 0 {
		l.BatchSize = 5
	}
	if l.Default == nil {
		l.Default = SimulatedExecutor
	}

	w, err := l.Engine.Repo.UpsertWorker(ctx, l.Name, l.Kind, l.Capabilities, l.ts())
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	l.workerID = w.ID
	l.Bus.Publish(domain.Event{
		Type:     events.TypeWorkerOnline,
		Category: events.CategoryWorker,
		Message:  fmt.Sprintf("Worker %s online", l.Name),
		WorkerID: domain.Ref(w.ID),
		Payload:  map[string]any{"kind": l.Kind, "capabilities": l.Capabilities},
	})
	return nil
}

// Run registers the worker, then polls. It returns when the context is
// cancelled, after marking the worker offline.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Register(ctx); err != nil {
		return err
	}

	lastHeartbeat := l.Now()
	for {
		if ctx.Err() != nil {
			break
		}
		if l.Now().Sub(lastHeartbeat) >= heartbeatEvery {
			l.heartbeat(ctx)
			lastHeartbeat = l.Now()
		}

		n, err := l.RunOnce(ctx)
		if err != nil {
			slog.Error("worker poll failed", "worker", l.Name, "err", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(l.PollInterval):
			}
		}
	}

	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Engine.Repo.DeactivateWorker(offCtx, l.workerID); err != nil {
		slog.Error("deactivate worker failed", "worker", l.Name, "err", err)
	}
	l.Bus.Publish(domain.Event{
		Type:     events.TypeWorkerOffline,
		Category: events.CategoryWorker,
		Message:  fmt.Sprintf("Worker %s offline", l.Name),
		WorkerID: domain.Ref(l.workerID),
	})
	return ctx.Err()
}

// RunOnce claims and executes one batch. Returns how many tasks it worked on.
// A single failing task never stops the rest of the batch.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	pending, err := l.Engine.SelectPendingTasks(ctx, l.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(pending))
	byID := make(map[int64]domain.Task, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	won, err := l.Engine.AssignTasks(ctx, l.workerID, ids)
	if err != nil {
		return 0, err
	}

	worked := 0
	for _, id := range won {
		started, err := l.Engine.MarkTaskStarted(ctx, id)
		if err != nil {
			slog.Error("claim task failed", "task_id", id, "err", err)
			continue
		}
		if !started {
			continue
		}
		worked++

		t := byID[id]
		if err := l.execute(ctx, t); err != nil {
			if _, ferr := l.Engine.MarkTaskFailed(ctx, id, err.Error()); ferr != nil {
				slog.Error("record task failure failed", "task_id", id, "err", ferr)
			}
			continue
		}
		if _, err := l.Engine.MarkTaskCompleted(ctx, id); err != nil {
			slog.Error("complete task failed", "task_id", id, "err", err)
		}
	}
	return worked, nil
}

func (l *Loop) execute(ctx context.Context, t domain.Task) error {
	fn := l.Executors[t.Category]
	if fn == nil {
		fn = l.Default
	}
	return fn(ctx, t)
}

func (l *Loop) heartbeat(ctx context.Context) {
	ts := l.ts()
	if err := l.Engine.Repo.TouchWorkerHeartbeat(ctx, l.workerID, ts); err != nil {
		slog.Error("heartbeat failed", "worker", l.Name, "err", err)
		return
	}
	l.Bus.Publish(domain.Event{
		Type:     events.TypeWorkerHeartbeat,
		Category: events.CategoryWorker,
		Message:  fmt.Sprintf("Worker %s heartbeat", l.Name),
		WorkerID: domain.Ref(l.workerID),
	})
}

func (l *Loop) ts() string {
	return l.Now().UTC().Format(time.RFC3339)
}

// SimulatedExecutor stands in for real platform automation. It succeeds
// immediately so the rest of the lifecycle can be exercised end to end.
func SimulatedExecutor(ctx context.Context, t domain.Task) error {
	return ctx.Err()
}

// Controller owns the lifecycle of a single loop. Start on a running
// controller warns and does nothing.
type Controller struct {
	Loop *Loop

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		slog.Warn("worker already running", "worker", c.Loop.Name)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go func() {
		defer close(c.done)
		if err := c.Loop.Run(runCtx); err != nil && err != context.Canceled {
			slog.Error("worker loop exited", "worker", c.Loop.Name, "err", err)
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()
}

// Stop cancels the loop and waits for it to drain.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done, running := c.cancel, c.done, c.running
	c.mu.Unlock()
	if !running || cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is currently active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
