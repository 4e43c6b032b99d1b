// Package agents holds the default implementations of the pluggable pure
// functions the pipeline and scheduler depend on: opportunity classification,
// strategy building, task enrichment, and optimization. All of them are
// heuristics; callers may inject replacements.
package agents

import (
	"fmt"
	"strings"

	"taskforge/internal/domain"
	"taskforge/internal/strategy"
)

// ClassifyFunc scores a free-text opportunity.
type ClassifyFunc func(title, source string) domain.Scores

// EnrichFunc attaches pre-filled content to planned tasks.
type EnrichFunc func(title string, tasks []strategy.PlannedTask) []strategy.PlannedTask

// OptimizeFunc may reorder or merge planned tasks. The result must not be
// longer than the input.
type OptimizeFunc func(blueprintID int64, tasks []strategy.PlannedTask, strat domain.Strategy) []strategy.PlannedTask

// Classify scores an opportunity title with keyword heuristics, each score
// clamped to 0-100.
func Classify(title, source string) domain.Scores {
	text := strings.ToLower(title)

	roi, automation, risk := 50.0, 50.0, 50.0

	if strings.Contains(text, "ai") || strings.Contains(text, "automation") || strings.Contains(text, "bot") {
		automation += 25
	}
	if strings.Contains(text, "get paid") || strings.Contains(text, "earn") || strings.Contains(text, "income") {
		roi += 15
	}
	if strings.Contains(text, "no experience") || strings.Contains(text, "beginner") {
		roi += 5
	}
	if strings.Contains(text, "survey") || strings.Contains(text, "captcha") || strings.Contains(text, "manual typing") {
		roi -= 15
		automation -= 10
	}
	if strings.Contains(text, "crypto") || strings.Contains(text, "forex") || strings.Contains(text, "binary options") {
		risk += 20
		roi -= 10
	}

	return domain.Scores{
		ROI:        clamp(roi),
		Automation: clamp(automation),
		Risk:       clamp(risk),
	}
}

// BuildStrategy derives an execution flow and priority band from scores.
func BuildStrategy(title string, scores domain.Scores, source string) domain.Strategy {
	var flow []string
	if scores.Automation >= 70 {
		flow = []string{string(strategy.StepExecute), string(strategy.StepConfigure)}
	} else {
		flow = []string{string(strategy.StepCompute), string(strategy.StepPrepareHuman), string(strategy.StepExecute)}
	}

	priority := 60
	switch {
	case scores.ROI >= 70 && scores.Risk <= 40:
		priority = 10
	case scores.ROI >= 50:
		priority = 30
	}

	days := 7
	if scores.ROI >= 70 {
		days = 3
	}

	return domain.Strategy{
		Title:               title,
		Source:              source,
		ROIScore:            scores.ROI,
		AutomationScore:     scores.Automation,
		RiskScore:           scores.Risk,
		ExecutionFlow:       flow,
		ExpectedROIDays:     days,
		RecommendedPriority: priority,
	}
}

// Autofill attaches a prepared prompt per task so human-prep steps come with
// pre-filled content.
func Autofill(title string, tasks []strategy.PlannedTask) []strategy.PlannedTask {
	for i := range tasks {
		if tasks[i].Autofill == nil {
			tasks[i].Autofill = map[string]any{}
		}
		tasks[i].Autofill["prompt"] = fmt.Sprintf("%s: %s", title, tasks[i].ShortDescription)
	}
	return tasks
}

// Optimize merges consecutive human-prep tasks into one combined step; all
// other tasks pass through unchanged. A no-op optimizer is also valid.
func Optimize(blueprintID int64, tasks []strategy.PlannedTask, strat domain.Strategy) []strategy.PlannedTask {
	var out []strategy.PlannedTask
	for _, t := range tasks {
		if t.Category == strategy.CategoryHumanPrep && len(out) > 0 && out[len(out)-1].Category == strategy.CategoryHumanPrep {
			prev := &out[len(out)-1]
			prev.ShortDescription = prev.ShortDescription + " " + t.ShortDescription
			if t.Priority < prev.Priority {
				prev.Priority = t.Priority
			}
			if t.Importance > prev.Importance {
				prev.Importance = t.Importance
			}
			continue
		}
		out = append(out, t)
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
