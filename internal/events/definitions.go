package events

// Event categories.
const (
	CategorySystem    = "system"
	CategoryTask      = "task"
	CategoryBlueprint = "blueprint"
	CategoryWorker    = "worker"
	CategoryScheduler = "scheduler"
	CategoryIncome    = "income"
	CategoryAgent     = "agent"
	CategoryHealth    = "health"
)

// Event types.
const (
	TypeSystemStart = "system_start"
	TypeSystemReady = "system_ready"
	TypeSystemError = "system_error"

	TypeTaskCreated   = "task_created"
	TypeTaskAssigned  = "task_assigned"
	TypeTaskStarted   = "task_started"
	TypeTaskCompleted = "task_completed"
	TypeTaskFailed    = "task_failed"

	TypeBlueprintDiscovered = "blueprint_discovered"
	TypeBlueprintApproved   = "blueprint_approved"
	TypeBlueprintRejected   = "blueprint_rejected"
	TypeBlueprintActivated  = "blueprint_activated"

	TypeWorkerOnline    = "worker_online"
	TypeWorkerOffline   = "worker_offline"
	TypeWorkerHeartbeat = "worker_heartbeat"

	TypeSchedulerJobRun   = "scheduler_job_run"
	TypeSchedulerJobError = "scheduler_job_error"

	TypeIncomeDetected        = "income_detected"
	TypeIncomePayoutConfirmed = "income_payout_confirmed"

	TypeAgentDecision = "agent_decision"
	TypeAgentError    = "agent_error"

	TypeHealthWarning  = "health_warning"
	TypeHealthRecovery = "health_recovery"
)
