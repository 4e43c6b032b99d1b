package strategy

// StepKind is the closed set of expansion steps a blueprint strategy can name.
// Legacy flow names from earlier strategy schemas are accepted by ParseStep so
// stored strategies keep expanding after upgrades.
type StepKind string

const (
	StepExecute      StepKind = "execute"
	StepConfigure    StepKind = "configure"
	StepPrepareHuman StepKind = "prepare-human-step"
	StepCompute      StepKind = "compute"
)

// Task categories produced by the planner.
const (
	CategoryPlatformExec = "platform_exec"
	CategorySetup        = "setup"
	CategoryHumanPrep    = "human_prep"
	CategoryCompute      = "compute"
)

var stepAliases = map[string]StepKind{
	string(StepExecute):      StepExecute,
	string(StepConfigure):    StepConfigure,
	string(StepPrepareHuman): StepPrepareHuman,
	string(StepCompute):      StepCompute,
	"NodeWorker":             StepExecute,
	"APIConnector":           StepConfigure,
	"ManualStepPrep":         StepPrepareHuman,
	"PythonWorker":           StepCompute,
}

// ParseStep resolves a flow entry to a StepKind. ok is false for names outside
// the closed set; callers are expected to log and skip those.
func ParseStep(name string) (StepKind, bool) {
	k, ok := stepAliases[name]
	return k, ok
}

// PlannedTask is a task template produced by the planner before persistence.
type PlannedTask struct {
	Name             string
	ShortDescription string
	Category         string
	Importance       int
	Priority         int
	RequiresHuman    bool
	Autofill         map[string]any
}

// Template maps a step to its task template. Priority offsets push setup
// steps 5 and human-prep steps 10 behind execution at the same base.
func (k StepKind) Template(basePriority int) PlannedTask {
	switch k {
	case StepExecute:
		return PlannedTask{
			Name:             "Execute platform automation",
			ShortDescription: "Run income platform API / browser automation.",
			Category:         CategoryPlatformExec,
			Importance:       80,
			Priority:         basePriority,
		}
	case StepConfigure:
		return PlannedTask{
			Name:             "Configure API connectors",
			ShortDescription: "Set up necessary API keys and endpoints for this stream.",
			Category:         CategorySetup,
			Importance:       70,
			Priority:         basePriority + 5,
		}
	case StepPrepareHuman:
		return PlannedTask{
			Name:             "Prepare manual steps",
			ShortDescription: "Generate pre-filled forms / answers for required human clicks.",
			Category:         CategoryHumanPrep,
			Importance:       60,
			Priority:         basePriority + 10,
		}
	case StepCompute:
		return PlannedTask{
			Name:             "Run compute-side logic",
			ShortDescription: "Execute scripts for data preparation / checks.",
			Category:         CategoryCompute,
			Importance:       65,
			Priority:         basePriority,
		}
	default:
		return PlannedTask{Name: "Unknown step", Priority: basePriority}
	}
}
