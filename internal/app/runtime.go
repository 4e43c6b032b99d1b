// Package app assembles the runtime: database, event bus, durable event log,
// engine, scheduler, and worker loops. Everything is constructed explicitly
// here and passed down; there is no process-global bus or engine.
package app

import (
	"context"
	"database/sql"
	"time"

	"taskforge/internal/agents"
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
	"taskforge/internal/worker"
)

type Runtime struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Bus    *bus.Bus
	Store  *events.Store
	Engine *engine.Engine

	detach func()
}

// Open loads the workspace config, migrates the database, and wires one bus
// with the durable event store attached.
func Open(workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	b := bus.New(cfg.Bus.BufferSize)
	store := &events.Store{DB: conn, Now: time.Now}
	detach := store.AttachTo(b)

	return &Runtime{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Config: cfg,
		Bus:    b,
		Store:  store,
		Engine: engine.New(conn, b, cfg),
		detach: detach,
	}, nil
}

func (rt *Runtime) Close() error {
	if rt.detach != nil {
		rt.detach()
	}
	return rt.DB.Close()
}

// AnnounceStart publishes the system_start marker event.
func (rt *Runtime) AnnounceStart(component string) {
	rt.Bus.Publish(domain.Event{
		Type:     events.TypeSystemStart,
		Category: events.CategorySystem,
		Message:  "System starting",
		Payload:  map[string]any{"component": component},
	})
}

// Gate returns the configured blueprint admission policy.
func (rt *Runtime) Gate() policy.Gate {
	return policy.Gate{
		MinROI:        rt.Config.Policy.MinROI,
		MaxRisk:       rt.Config.Policy.MaxRisk,
		MinAutomation: rt.Config.Policy.MinAutomation,
	}
}

// Scheduler builds the full recurring job set from the config intervals.
func (rt *Runtime) Scheduler() *scheduler.Scheduler {
	s := scheduler.New(rt.Repo, rt.Bus)
	minutes := func(m int) time.Duration { return time.Duration(m) * time.Minute }
	cs := rt.Config.Scheduler

	s.Register(scheduler.DiscoveryJob(rt.Repo, rt.Bus, rt.Gate(), agents.Classify, time.Now, minutes(cs.DiscoveryMinutes)))
	s.Register(scheduler.PipelineJob(rt.Engine, minutes(cs.DiscoveryMinutes)))
	s.Register(scheduler.IncomeScanJob(rt.Repo, rt.Bus, time.Now, minutes(cs.IncomeMinutes)))
	s.Register(scheduler.HealthJob(rt.Repo, rt.Bus, minutes(cs.HealthMinutes)))
	s.Register(scheduler.RetryJob(rt.Engine, rt.Bus, minutes(cs.RetryMinutes)))
	s.Register(scheduler.ReconnectJob(rt.Repo, rt.Bus, time.Now, minutes(cs.ReconnectMinutes)))
	return s
}

// WorkerLoop builds a polling worker with the configured batch and cadence.
func (rt *Runtime) WorkerLoop(name, kind string, capabilities []string) *worker.Loop {
	return &worker.Loop{
		Name:         name,
		Kind:         kind,
		Capabilities: capabilities,
		Engine:       rt.Engine,
		Bus:          rt.Bus,
		PollInterval: rt.Config.PollInterval(),
		BatchSize:    rt.Config.Worker.BatchSize,
	}
}

// RunPipelineOnce is the manual pipeline trigger used by the CLI and API.
func (rt *Runtime) RunPipelineOnce(ctx context.Context) (int, error) {
	return rt.Engine.ProcessNewBlueprints(ctx)
}
