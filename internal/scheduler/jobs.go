package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"taskforge/internal/agents"
	"taskforge/internal/bus"
	"taskforge/internal/domain"
	"taskforge/internal/engine"
	"taskforge/internal/events"
	"taskforge/internal/policy"
	"taskforge/internal/repo"
)

// discoveryCorpus stands in for a live feed until a real connector exists.
var discoveryCorpus = []struct {
	Title  string
	Source string
	URL    string
}{
	{"Get paid to label AI datasets", "alpha_scan", "https://example.com/ai-labeling"},
	{"Earn income running automation bots for small shops", "alpha_scan", "https://example.com/shop-bots"},
	{"Beginner friendly micro-task platform, no experience needed", "alpha_scan", "https://example.com/micro-tasks"},
	{"Manual typing and captcha solving gigs", "alpha_scan", "https://example.com/captcha"},
	{"Crypto arbitrage signals subscription", "alpha_scan", "https://example.com/crypto-signals"},
	{"API-based content moderation queue work", "alpha_scan", "https://example.com/moderation"},
}

// DiscoveryJob scans the opportunity corpus, classifies each entry, and
// persists the ones that clear the policy gate as new blueprints. Rejected
// entries leave only an agent_decision event behind.
func DiscoveryJob(r repo.Repo, b *bus.Bus, gate policy.Gate, classify agents.ClassifyFunc, now func() time.Time, interval time.Duration) Job {
	if classify == nil {
		classify = agents.Classify
	}
	return Job{
		Name:     "discovery_scan",
		Interval: interval,
		Run: func(ctx context.Context) error {
			for _, opp := range discoveryCorpus {
				seen, err := r.BlueprintExistsByTitle(ctx, opp.Title)
				if err != nil {
					return err
				}
				if seen {
					continue
				}

				scores := classify(opp.Title, opp.Source)
				allowed, details := gate.Check(scores)
				if !allowed {
					b.Publish(domain.Event{
						Type:     events.TypeAgentDecision,
						Category: events.CategoryAgent,
						Message:  fmt.Sprintf("Rejected opportunity: %s", opp.Title),
						Payload:  map[string]any{"title": opp.Title, "scores": scores, "policy": details},
					})
					continue
				}

				strat := agents.BuildStrategy(opp.Title, scores, opp.Source)
				ts := now().UTC().Format(time.RFC3339)
				id, err := r.InsertBlueprint(ctx, domain.Blueprint{
					Title:           opp.Title,
					Source:          opp.Source,
					OriginURL:       opp.URL,
					ROIScore:        scores.ROI,
					AutomationScore: scores.Automation,
					RiskScore:       scores.Risk,
					Confidence:      scores.Automation / 100,
					Strategy:        &strat,
					Status:          domain.BlueprintNew,
					CreatedAt:       ts,
					UpdatedAt:       ts,
				})
				if err != nil {
					return fmt.Errorf("persist blueprint: %w", err)
				}
				b.Publish(domain.Event{
					Type:        events.TypeBlueprintDiscovered,
					Category:    events.CategoryBlueprint,
					Message:     fmt.Sprintf("Blueprint discovered: %s", opp.Title),
					BlueprintID: domain.Ref(id),
					Payload:     map[string]any{"scores": scores, "strategy": strat},
				})
			}
			return nil
		},
	}
}

var incomePlatforms = []string{"labelhub", "taskmarket", "apiworks"}

// IncomeScanJob polls payout sources and records detected income. Until real
// platform connectors exist the amounts are simulated.
func IncomeScanJob(r repo.Repo, b *bus.Bus, now func() time.Time, interval time.Duration) Job {
	return Job{
		Name:     "income_scan",
		Interval: interval,
		Run: func(ctx context.Context) error {
			platform := incomePlatforms[rand.Intn(len(incomePlatforms))]
			amount := float64(rand.Intn(900)+100) / 100
			ts := now().UTC().Format(time.RFC3339)
			id, err := r.InsertIncome(ctx, domain.IncomeRecord{
				Platform:   platform,
				Amount:     amount,
				Currency:   "USD",
				Reference:  fmt.Sprintf("scan-%d", now().Unix()),
				ReceivedAt: ts,
				CreatedAt:  ts,
				Notes:      "simulated payout detection",
			})
			if err != nil {
				return err
			}
			b.Publish(domain.Event{
				Type:     events.TypeIncomeDetected,
				Category: events.CategoryIncome,
				Message:  fmt.Sprintf("Income detected: %.2f USD on %s", amount, platform),
				Payload:  map[string]any{"income_id": id, "platform": platform, "amount": amount},
			})
			return nil
		},
	}
}

// HealthJob pings the database and publishes transitions. Steady healthy
// state stays silent; a failure raises health_warning once and recovery
// raises health_recovery once.
func HealthJob(r repo.Repo, b *bus.Bus, interval time.Duration) Job {
	healthy := true
	return Job{
		Name:     "health_check",
		Interval: interval,
		Run: func(ctx context.Context) error {
			err := r.DB.PingContext(ctx)
			if err != nil {
				if healthy {
					healthy = false
					b.Publish(domain.Event{
						Type:     events.TypeHealthWarning,
						Category: events.CategoryHealth,
						Message:  "Database unreachable",
						Payload:  map[string]any{"error": err.Error()},
					})
				}
				return err
			}
			if !healthy {
				healthy = true
				b.Publish(domain.Event{
					Type:     events.TypeHealthRecovery,
					Category: events.CategoryHealth,
					Message:  "Database reachable again",
				})
			}
			return nil
		},
	}
}

const retryBatchCap = 10

// RetryJob moves the oldest failed tasks back to pending, capped per run so a
// flood of failures cannot monopolize the queue.
func RetryJob(eng *engine.Engine, b *bus.Bus, interval time.Duration) Job {
	return Job{
		Name:     "retry_failed",
		Interval: interval,
		Run: func(ctx context.Context) error {
			failed, err := eng.Repo.SelectFailedForRetry(ctx, retryBatchCap)
			if err != nil {
				return err
			}
			for _, t := range failed {
				ok, err := eng.Repo.RequeueTask(ctx, t.ID)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				b.Publish(domain.Event{
					Type:        events.TypeTaskCreated,
					Category:    events.CategoryTask,
					Message:     fmt.Sprintf("Retrying failed task #%d", t.ID),
					TaskID:      domain.Ref(t.ID),
					BlueprintID: t.BlueprintID,
					Payload:     map[string]any{"retry": true},
				})
			}
			return nil
		},
	}
}

// ReconnectJob marks workers offline after three missed heartbeat windows.
func ReconnectJob(r repo.Repo, b *bus.Bus, now func() time.Time, interval time.Duration) Job {
	return Job{
		Name:     "worker_reconnect",
		Interval: interval,
		Run: func(ctx context.Context) error {
			cutoff := now().Add(-3 * interval).UTC().Format(time.RFC3339)
			stale, err := r.StaleWorkers(ctx, cutoff)
			if err != nil {
				return err
			}
			for _, w := range stale {
				if err := r.DeactivateWorker(ctx, w.ID); err != nil {
					return err
				}
				b.Publish(domain.Event{
					Type:     events.TypeWorkerOffline,
					Category: events.CategoryWorker,
					Message:  fmt.Sprintf("Worker %s went offline", w.Name),
					WorkerID: domain.Ref(w.ID),
				})
			}
			return nil
		},
	}
}

// PipelineJob expands newly discovered blueprints on a cadence so discovered
// work flows into tasks without a manual trigger.
func PipelineJob(eng *engine.Engine, interval time.Duration) Job {
	return Job{
		Name:     "pipeline_run",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := eng.ProcessNewBlueprints(ctx)
			return err
		},
	}
}
