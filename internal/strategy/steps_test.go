package strategy_test

import (
	"testing"

	"taskforge/internal/strategy"
)

func TestParseStepAcceptsLegacyNames(t *testing.T) {
	cases := map[string]strategy.StepKind{
		"execute":            strategy.StepExecute,
		"NodeWorker":         strategy.StepExecute,
		"APIConnector":       strategy.StepConfigure,
		"ManualStepPrep":     strategy.StepPrepareHuman,
		"PythonWorker":       strategy.StepCompute,
		"prepare-human-step": strategy.StepPrepareHuman,
	}
	for name, want := range cases {
		got, ok := strategy.ParseStep(name)
		if !ok || got != want {
			t.Fatalf("ParseStep(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := strategy.ParseStep("quantum-leap"); ok {
		t.Fatalf("unknown step should not parse")
	}
}

func TestTemplatePriorityOffsets(t *testing.T) {
	base := 30
	if p := strategy.StepExecute.Template(base).Priority; p != 30 {
		t.Fatalf("execute priority = %d", p)
	}
	if p := strategy.StepConfigure.Template(base).Priority; p != 35 {
		t.Fatalf("configure priority = %d", p)
	}
	if p := strategy.StepPrepareHuman.Template(base).Priority; p != 40 {
		t.Fatalf("human prep priority = %d", p)
	}
	if p := strategy.StepCompute.Template(base).Priority; p != 30 {
		t.Fatalf("compute priority = %d", p)
	}
}
