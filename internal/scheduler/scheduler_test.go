package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskforge/internal/bus"
	"taskforge/internal/config"
	"taskforge/internal/db"
	"taskforge/internal/domain"
	"taskforge/internal/engine"
	"taskforge/internal/events"
	"taskforge/internal/migrate"
	"taskforge/internal/policy"
	"taskforge/internal/repo"
	"taskforge/internal/scheduler"
)

type testEnv struct {
	Engine *engine.Engine
	Repo   repo.Repo
	Bus    *bus.Bus
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	b := bus.New(0)
	eng := engine.New(conn, b, config.Default())
	return testEnv{Engine: eng, Repo: eng.Repo, Bus: b, Ctx: context.Background()}
}

func eventsOfType(evts []domain.Event, typ string) []domain.Event {
	var out []domain.Event
	for _, e := range evts {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func failTask(t *testing.T, env testEnv, name string) int64 {
	t.Helper()
	task, err := env.Engine.SubmitTask(env.Ctx, domain.Task{Name: name})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.MarkTaskStarted(env.Ctx, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.MarkTaskFailed(env.Ctx, task.ID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	return task.ID
}

func TestRetryJobRequeuesFailedTasks(t *testing.T) {
	env := newTestEnv(t)
	first := failTask(t, env, "first")
	second := failTask(t, env, "second")
	before := env.Bus.LastID()

	job := scheduler.RetryJob(env.Engine, env.Bus, time.Minute)
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}

	for _, id := range []int64{first, second} {
		task, err := env.Repo.GetTask(env.Ctx, id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status != domain.TaskPending {
			t.Fatalf("task %d status = %s, want pending", id, task.Status)
		}
		if task.AssignedWorkerID != nil {
			t.Fatalf("requeued task %d kept its worker", id)
		}
	}
	retried := eventsOfType(env.Bus.Since(before), events.TypeTaskCreated)
	if len(retried) != 2 {
		t.Fatalf("retry events = %d, want 2", len(retried))
	}
}

func TestRetryJobCapsBatch(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		failTask(t, env, "doomed")
	}
	job := scheduler.RetryJob(env.Engine, env.Bus, time.Minute)
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	remaining, err := env.Repo.SelectFailedForRetry(env.Ctx, 100)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("still failed = %d, want 2", len(remaining))
	}
}

func TestDiscoveryJobRespectsPolicyGate(t *testing.T) {
	env := newTestEnv(t)
	closed := policy.Gate{MinROI: 0, MaxRisk: 100, MinAutomation: 101}
	job := scheduler.DiscoveryJob(env.Repo, env.Bus, closed, nil, time.Now, time.Minute)
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}

	items, err := env.Repo.ListBlueprints(env.Ctx, repo.BlueprintFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("closed gate persisted %d blueprints", len(items))
	}
	decisions := eventsOfType(env.Bus.Since(0), events.TypeAgentDecision)
	if len(decisions) == 0 {
		t.Fatalf("rejections should leave agent_decision events")
	}
}

func TestDiscoveryJobPersistsAndDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	open := policy.Gate{MinROI: 0, MaxRisk: 100, MinAutomation: 0}
	job := scheduler.DiscoveryJob(env.Repo, env.Bus, open, nil, time.Now, time.Minute)
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	first, _ := env.Repo.ListBlueprints(env.Ctx, repo.BlueprintFilters{})
	if len(first) == 0 {
		t.Fatalf("open gate persisted nothing")
	}
	for _, bp := range first {
		if bp.Status != domain.BlueprintNew {
			t.Fatalf("discovered blueprint status = %s", bp.Status)
		}
		if bp.Strategy == nil || len(bp.Strategy.ExecutionFlow) == 0 {
			t.Fatalf("discovered blueprint missing strategy")
		}
	}

	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	second, _ := env.Repo.ListBlueprints(env.Ctx, repo.BlueprintFilters{})
	if len(second) != len(first) {
		t.Fatalf("rescan duplicated blueprints: %d -> %d", len(first), len(second))
	}
}

func TestIncomeScanJobRecordsIncome(t *testing.T) {
	env := newTestEnv(t)
	job := scheduler.IncomeScanJob(env.Repo, env.Bus, time.Now, time.Minute)
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	total, err := env.Repo.IncomeTotal(env.Ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total <= 0 {
		t.Fatalf("total = %v, want > 0", total)
	}
	if got := eventsOfType(env.Bus.Since(0), events.TypeIncomeDetected); len(got) != 1 {
		t.Fatalf("income events = %d, want 1", len(got))
	}
}

func TestHealthJobSilentWhileHealthy(t *testing.T) {
	env := newTestEnv(t)
	job := scheduler.HealthJob(env.Repo, env.Bus, time.Minute)
	before := env.Bus.LastID()
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if env.Bus.LastID() != before {
		t.Fatalf("healthy check emitted events")
	}
}

func TestReconnectJobMarksStaleWorkersOffline(t *testing.T) {
	env := newTestEnv(t)
	old := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w, err := env.Repo.UpsertWorker(env.Ctx, "stale-worker", "local", nil, old)
	if err != nil {
		t.Fatalf("upsert worker: %v", err)
	}

	job := scheduler.ReconnectJob(env.Repo, env.Bus, time.Now, 3*time.Minute)
	if err := job.Run(env.Ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	workers, _ := env.Repo.ListWorkers(env.Ctx)
	for _, got := range workers {
		if got.ID == w.ID && got.Active {
			t.Fatalf("stale worker still active")
		}
	}
	if got := eventsOfType(env.Bus.Since(0), events.TypeWorkerOffline); len(got) != 1 {
		t.Fatalf("offline events = %d, want 1", len(got))
	}
}

func TestSchedulerTurnsJobErrorsIntoEvents(t *testing.T) {
	env := newTestEnv(t)
	s := scheduler.New(env.Repo, env.Bus)
	s.Register(scheduler.Job{
		Name:     "broken_job",
		Interval: time.Hour,
		Run:      func(ctx context.Context) error { return errors.New("no good") },
	})

	ctx, cancel := context.WithTimeout(env.Ctx, 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	got := eventsOfType(env.Bus.Since(0), events.TypeSchedulerJobError)
	if len(got) == 0 {
		t.Fatalf("expected scheduler_job_error event")
	}
	row, err := env.Repo.GetScheduleJob(env.Ctx, "broken_job")
	if err != nil {
		t.Fatalf("schedule row: %v", err)
	}
	if row.NextRunAt == nil {
		t.Fatalf("next_run_at not persisted after run")
	}
}

func TestSchedulerHonorsPersistedSchedule(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Repo.UpsertScheduleJob(env.Ctx, "patient_job", "interval:1h"); err != nil {
		t.Fatalf("upsert job: %v", err)
	}
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	if err := env.Repo.SetScheduleNextRun(env.Ctx, "patient_job", future); err != nil {
		t.Fatalf("set next run: %v", err)
	}

	ran := false
	s := scheduler.New(env.Repo, env.Bus)
	s.Register(scheduler.Job{
		Name:     "patient_job",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})
	ctx, cancel := context.WithTimeout(env.Ctx, 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	if ran {
		t.Fatalf("job ran before its persisted fire time")
	}
}
