package domain

// Blueprint statuses.
const (
	BlueprintNew      = "new"
	BlueprintApproved = "approved"
	BlueprintRejected = "rejected"
	BlueprintActive   = "active"
	BlueprintArchived = "archived"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Scores produced by the classifier, each bounded to 0-100.
type Scores struct {
	ROI        float64 `json:"roi_score"`
	Automation float64 `json:"automation_score"`
	Risk       float64 `json:"risk_score"`
}

// Strategy is the expansion recipe attached to a blueprint. ExecutionFlow
// holds abstract step names resolved by the pipeline planner; unknown names
// are skipped there, so the slice is forward compatible.
type Strategy struct {
	Title               string   `json:"title,omitempty"`
	Source              string   `json:"source,omitempty"`
	ROIScore            float64  `json:"roi_score"`
	AutomationScore     float64  `json:"automation_score"`
	RiskScore           float64  `json:"risk_score"`
	ExecutionFlow       []string `json:"execution_flow"`
	ExpectedROIDays     int      `json:"expected_roi_days,omitempty"`
	RecommendedPriority int      `json:"recommended_priority"`
}

type Blueprint struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Source          string    `json:"source,omitempty"`
	OriginURL       string    `json:"origin_url,omitempty"`
	ROIScore        float64   `json:"roi_score"`
	AutomationScore float64   `json:"automation_score"`
	RiskScore       float64   `json:"risk_score"`
	Confidence      float64   `json:"confidence"`
	Strategy        *Strategy `json:"strategy,omitempty"`
	Status          string    `json:"status" enum:"new,approved,rejected,active,archived"`
	CreatedAt       string    `json:"created_at" format:"date-time"`
	UpdatedAt       string    `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID               int64          `json:"id"`
	BlueprintID      *int64         `json:"blueprint_id,omitempty"`
	Name             string         `json:"name"`
	ShortDescription string         `json:"short_description,omitempty"`
	Category         string         `json:"category,omitempty"`
	Status           string         `json:"status" enum:"pending,queued,running,completed,failed,cancelled"`
	Priority         int            `json:"priority"`
	Importance       int            `json:"importance"`
	Payload          map[string]any `json:"payload,omitempty"`
	AssignedWorkerID *int64         `json:"assigned_worker_id,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	StartedAt        *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt      *string        `json:"completed_at,omitempty" format:"date-time"`
	LastErrorAt      *string        `json:"last_error_at,omitempty" format:"date-time"`
	LastErrorMessage *string        `json:"last_error_message,omitempty"`
}

type Worker struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Kind            string   `json:"kind"`
	Capabilities    []string `json:"capabilities,omitempty"`
	Active          bool     `json:"active"`
	LastSeenAt      *string  `json:"last_seen_at,omitempty" format:"date-time"`
	LastHeartbeatAt *string  `json:"last_heartbeat_at,omitempty" format:"date-time"`
}

// Event is an immutable fact published on the bus. ID is assigned at publish
// time by the bus instance; the durable log keeps its own row ids.
type Event struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Category    string         `json:"category,omitempty"`
	Message     string         `json:"message,omitempty"`
	TaskID      *int64         `json:"task_id,omitempty"`
	BlueprintID *int64         `json:"blueprint_id,omitempty"`
	WorkerID    *int64         `json:"worker_id,omitempty"`
	AgentID     *int64         `json:"agent_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type IncomeRecord struct {
	ID          int64   `json:"id"`
	Platform    string  `json:"platform"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Reference   string  `json:"reference,omitempty"`
	BlueprintID *int64  `json:"blueprint_id,omitempty"`
	TaskID      *int64  `json:"task_id,omitempty"`
	ReceivedAt  string  `json:"received_at" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	Notes       string  `json:"notes,omitempty"`
}

// PlatformIncome is an aggregate row for the by-platform income query.
type PlatformIncome struct {
	Platform string  `json:"platform"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

type ScheduleJob struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Trigger   string  `json:"trigger,omitempty"`
	NextRunAt *string `json:"next_run_at,omitempty" format:"date-time"`
	Enabled   bool    `json:"enabled"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Ref wraps an id for the optional correlation fields on Event and Task.
func Ref(id int64) *int64 {
	return &id
}
