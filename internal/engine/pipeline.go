// Package engine ties the stores, the bus, and the agent functions together.
// It owns the blueprint expansion pipeline and the task lifecycle transitions.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"taskforge/internal/agents"
	"taskforge/internal/bus"
	"taskforge/internal/config"
	"taskforge/internal/domain"
	"taskforge/internal/events"
	"taskforge/internal/repo"
	"taskforge/internal/strategy"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Bus    *bus.Bus
	Config *config.Config
	Now    func() time.Time

	Enrich   agents.EnrichFunc
	Optimize agents.OptimizeFunc
}

func New(db *sql.DB, b *bus.Bus, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Bus:      b,
		Config:   cfg,
		Now:      time.Now,
		Enrich:   agents.Autofill,
		Optimize: agents.Optimize,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

// ProcessNewBlueprints expands a batch of new and approved blueprints into
// pending tasks. A blueprint that fails to expand is logged and skipped; it
// never blocks the rest of the batch. Returns the number of blueprints
// expanded.
func (e *Engine) ProcessNewBlueprints(ctx context.Context) (int, error) {
	batch, err := e.Repo.SelectBlueprintsForExpansion(ctx, e.Config.Pipeline.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("select blueprints: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	processed, failed := 0, 0
	for _, bp := range batch {
		if _, err := e.ExpandBlueprint(ctx, bp); err != nil {
			slog.Error("blueprint expansion failed", "blueprint_id", bp.ID, "err", err)
			failed++
			continue
		}
		processed++
	}

	e.Bus.Publish(domain.Event{
		Type:     events.TypeAgentDecision,
		Category: events.CategoryAgent,
		Message:  fmt.Sprintf("Pipeline batch done: %d expanded, %d failed", processed, failed),
		Payload:  map[string]any{"expanded": processed, "failed": failed, "batch": len(batch)},
	})
	return processed, nil
}

// ExpandBlueprint plans tasks from the blueprint's strategy flow, enriches and
// optimizes them, then persists the tasks and flips the blueprint to active in
// one transaction. Events are published only after the commit succeeds.
func (e *Engine) ExpandBlueprint(ctx context.Context, bp domain.Blueprint) ([]int64, error) {
	planned := e.plan(bp)
	if len(planned) == 0 {
		return nil, fmt.Errorf("blueprint %d: no expandable steps", bp.ID)
	}

	if e.Enrich != nil {
		planned = e.Enrich(bp.Title, planned)
	}
	if e.Optimize != nil {
		strat := domain.Strategy{}
		if bp.Strategy != nil {
			strat = *bp.Strategy
		}
		optimized := e.Optimize(bp.ID, planned, strat)
		if len(optimized) > len(planned) {
			return nil, fmt.Errorf("blueprint %d: optimizer grew the plan from %d to %d tasks", bp.ID, len(planned), len(optimized))
		}
		planned = optimized
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("blueprint %d: plan empty after optimization", bp.ID)
	}

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(planned))
	for _, p := range planned {
		payload := map[string]any{}
		for k, v := range p.Autofill {
			payload[k] = v
		}
		if p.RequiresHuman {
			payload["requires_human"] = true
		}
		id, err := e.Repo.InsertTaskTx(ctx, tx, domain.Task{
			BlueprintID:      domain.Ref(bp.ID),
			Name:             p.Name,
			ShortDescription: p.ShortDescription,
			Category:         p.Category,
			Status:           domain.TaskPending,
			Priority:         p.Priority,
			Importance:       p.Importance,
			Payload:          payload,
			CreatedAt:        now,
		})
		if err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		ids = append(ids, id)
	}

	activated, err := e.Repo.ActivateBlueprintTx(ctx, tx, bp.ID, now)
	if err != nil {
		return nil, fmt.Errorf("activate blueprint: %w", err)
	}
	if !activated {
		return nil, fmt.Errorf("blueprint %d: no longer expandable", bp.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		e.Bus.Publish(domain.Event{
			Type:        events.TypeTaskCreated,
			Category:    events.CategoryTask,
			Message:     fmt.Sprintf("Task created: %s", planned[i].Name),
			TaskID:      domain.Ref(id),
			BlueprintID: domain.Ref(bp.ID),
			Payload:     map[string]any{"category": planned[i].Category, "priority": planned[i].Priority},
		})
	}
	e.Bus.Publish(domain.Event{
		Type:        events.TypeBlueprintActivated,
		Category:    events.CategoryBlueprint,
		Message:     fmt.Sprintf("Blueprint activated: %s", bp.Title),
		BlueprintID: domain.Ref(bp.ID),
		Payload:     map[string]any{"task_count": len(ids)},
	})
	return ids, nil
}

// plan resolves the strategy flow into task templates. Unknown step names are
// logged and skipped. Blueprints without a strategy get a single execution
// step at neutral priority.
func (e *Engine) plan(bp domain.Blueprint) []strategy.PlannedTask {
	flow := []string{string(strategy.StepExecute)}
	base := 50
	if bp.Strategy != nil {
		if len(bp.Strategy.ExecutionFlow) > 0 {
			flow = bp.Strategy.ExecutionFlow
		}
		if bp.Strategy.RecommendedPriority > 0 {
			base = bp.Strategy.RecommendedPriority
		}
	}

	var out []strategy.PlannedTask
	for _, name := range flow {
		kind, ok := strategy.ParseStep(name)
		if !ok {
			slog.Warn("unknown strategy step skipped", "blueprint_id", bp.ID, "step", name)
			continue
		}
		t := kind.Template(base)
		t.RequiresHuman = e.requiresHuman(t.Category)
		out = append(out, t)
	}
	return out
}

func (e *Engine) requiresHuman(category string) bool {
	for _, c := range e.Config.Pipeline.HumanCategories {
		if c == category {
			return true
		}
	}
	return false
}
