package domain

import "time"

// EventType names a lifecycle event on the bridge.
type EventType string

// Canonical event set.
const (
	EventTaskCreated         EventType = "task_created"
	EventTaskUpdated         EventType = "task_updated"
	EventTaskDeleted         EventType = "task_deleted"
	EventTaskAssigned        EventType = "task_assigned"
	EventTaskCompleted       EventType = "task_completed"
	EventTaskFailed          EventType = "task_failed"
	EventTaskNeedsHuman      EventType = "task_needs_human_review"
	EventAgentStatusChanged  EventType = "agent_status_changed"
	EventExecutionStep       EventType = "execution_step"
	EventAlert               EventType = "alert"
	EventCodeReviewCompleted EventType = "code_review_completed"
	EventAutoRetryValidation EventType = "auto_retry_validation"
	EventAutoRetryAttempt    EventType = "auto_retry_attempt"
	EventAutoRetryResult     EventType = "auto_retry_result"
)

// Event is the envelope delivered to in-process subscribers and published
// to the cross-process bus.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	// TaskID keys per-task ordering; empty for events not tied to a task.
	TaskID string `json:"task_id,omitempty"`
}

// NewEvent stamps an event envelope.
func NewEvent(eventType EventType, taskID string, payload any) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		TaskID:    taskID,
	}
}

// AlertSeverity grades an alert event.
type AlertSeverity string

const (
	AlertInfo    AlertSeverity = "info"
	AlertWarning AlertSeverity = "warning"
	AlertError   AlertSeverity = "error"
)

// AlertPayload is the payload of an EventAlert.
type AlertPayload struct {
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
	TaskID   string        `json:"task_id,omitempty"`
	AgentID  string        `json:"agent_id,omitempty"`
}
