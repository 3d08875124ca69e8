package domain

import "time"

// EventName identifies a research lifecycle event
type EventName string

const (
	EventQueued    EventName = "research:queued"
	EventProgress  EventName = "research:progress"
	EventCompleted EventName = "research:completed"
	EventFailed    EventName = "research:failed"
	EventCancelled EventName = "research:cancelled"
	EventExpired   EventName = "research:expired"
)

// Event is a lifecycle notification for a single job.
type Event struct {
	Name       EventName `json:"name"`
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status,omitempty"`
	Stage      Stage     `json:"stage,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Message    string    `json:"message,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"ts"`
}
