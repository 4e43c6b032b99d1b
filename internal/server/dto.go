package server

import "taskforge/internal/domain"

type SubmitTaskRequest struct {
	Name             string         `json:"name" minLength:"1"`
	ShortDescription string         `json:"short_description,omitempty"`
	Category         string         `json:"category,omitempty"`
	Priority         int            `json:"priority,omitempty" minimum:"0" maximum:"100"`
	Importance       int            `json:"importance,omitempty" minimum:"0" maximum:"100"`
	BlueprintID      *int64         `json:"blueprint_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

type PipelineRunResponse struct {
	Expanded int `json:"expanded"`
}

type StatusResponse struct {
	TaskCounts  map[string]int       `json:"task_counts"`
	Workers     int                  `json:"workers"`
	LastEventID int64                `json:"last_event_id"`
	Jobs        []domain.ScheduleJob `json:"jobs"`
}

type IncomeTotalResponse struct {
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

type EventPage struct {
	Items  []domain.Event `json:"items"`
	LastID int64          `json:"last_id"`
}

func nonNilEvents(items []domain.Event) []domain.Event {
	if items == nil {
		return []domain.Event{}
	}
	return items
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}

func nonNilBlueprints(items []domain.Blueprint) []domain.Blueprint {
	if items == nil {
		return []domain.Blueprint{}
	}
	return items
}

func nonNilWorkers(items []domain.Worker) []domain.Worker {
	if items == nil {
		return []domain.Worker{}
	}
	return items
}

func nonNilIncome(items []domain.IncomeRecord) []domain.IncomeRecord {
	if items == nil {
		return []domain.IncomeRecord{}
	}
	return items
}
