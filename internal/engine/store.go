package engine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"taskforge/internal/domain"
	"taskforge/internal/events"
)

const maxErrorMessageLen = 120

// SubmitTask persists a manually submitted task and announces it.
func (e *Engine) SubmitTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.Name == "" {
		return domain.Task{}, fmt.Errorf("task name required")
	}
	if t.Priority == 0 {
		t.Priority = 50
	}
	if t.Importance == 0 {
		t.Importance = 50
	}
	t.Status = domain.TaskPending
	t.CreatedAt = e.now()

	id, err := e.Repo.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	e.Bus.Publish(domain.Event{
		Type:        events.TypeTaskCreated,
		Category:    events.CategoryTask,
		Message:     fmt.Sprintf("Task created: %s", t.Name),
		TaskID:      domain.Ref(id),
		BlueprintID: t.BlueprintID,
		Payload:     map[string]any{"category": t.Category, "priority": t.Priority},
	})
	return t, nil
}

// SelectPendingTasks returns pending tasks in dispatch order.
func (e *Engine) SelectPendingTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	return e.Repo.SelectPendingTasks(ctx, limit)
}

// AssignTasks queues the given pending tasks for a worker. Tasks another
// caller grabbed in between are silently skipped; the returned slice holds
// the ids actually assigned.
func (e *Engine) AssignTasks(ctx context.Context, workerID int64, taskIDs []int64) ([]int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var won []int64
	for _, id := range taskIDs {
		ok, err := e.Repo.AssignTaskTx(ctx, tx, id, workerID)
		if err != nil {
			return nil, err
		}
		if ok {
			won = append(won, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, id := range won {
		e.Bus.Publish(domain.Event{
			Type:     events.TypeTaskAssigned,
			Category: events.CategoryTask,
			Message:  fmt.Sprintf("Task #%d assigned to worker #%d", id, workerID),
			TaskID:   domain.Ref(id),
			WorkerID: domain.Ref(workerID),
		})
	}
	return won, nil
}

// MarkTaskStarted claims the task for execution. Returns false without an
// event when the task is gone or was claimed elsewhere.
func (e *Engine) MarkTaskStarted(ctx context.Context, taskID int64) (bool, error) {
	ok, err := e.Repo.ClaimTask(ctx, taskID, e.now())
	if err != nil || !ok {
		return false, err
	}
	e.Bus.Publish(domain.Event{
		Type:     events.TypeTaskStarted,
		Category: events.CategoryTask,
		Message:  fmt.Sprintf("Task #%d started", taskID),
		TaskID:   domain.Ref(taskID),
	})
	return true, nil
}

// MarkTaskCompleted finishes a running task.
func (e *Engine) MarkTaskCompleted(ctx context.Context, taskID int64) (bool, error) {
	ok, err := e.Repo.CompleteTask(ctx, taskID, e.now())
	if err != nil || !ok {
		return false, err
	}
	e.Bus.Publish(domain.Event{
		Type:     events.TypeTaskCompleted,
		Category: events.CategoryTask,
		Message:  fmt.Sprintf("Task #%d completed", taskID),
		TaskID:   domain.Ref(taskID),
	})
	return true, nil
}

// MarkTaskFailed records the failure and its message. A missing or already
// finished task is a no-op: the caller may race completion or deletion and
// must not crash on it.
func (e *Engine) MarkTaskFailed(ctx context.Context, taskID int64, message string) (bool, error) {
	trimmed := truncateMessage(message)
	ok, err := e.Repo.FailTask(ctx, taskID, trimmed, e.now())
	if err != nil || !ok {
		return false, err
	}
	e.Bus.Publish(domain.Event{
		Type:     events.TypeTaskFailed,
		Category: events.CategoryTask,
		Message:  fmt.Sprintf("Task #%d failed", taskID),
		TaskID:   domain.Ref(taskID),
		Payload:  map[string]any{"error": trimmed},
	})
	return true, nil
}

// truncateMessage caps the stored error message, backing off to the previous
// rune boundary so the column never holds a split multi-byte sequence.
func truncateMessage(message string) string {
	if len(message) <= maxErrorMessageLen {
		return message
	}
	cut := maxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
