package store

import "time"

// Conversation roles as stored in the conversations table.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleSpecialist = "specialist"
)

// ChatMessage is one persisted conversation entry.
type ChatMessage struct {
	ID        int64     `json:"-"`
	SessionID string    `json:"-"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Reminder kinds decide what the scheduler does when one comes due.
const (
	KindReminder      = "reminder"
	KindPlannerWorker = "planner_worker"
)

const (
	TriggerOneTime   = "one_time"
	TriggerRecurring = "recurring"
)

// Reminder is a scheduled notification or a deferred complex task.
type Reminder struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	ScheduledTime     time.Time      `json:"scheduled_time"`
	TriggerType       string         `json:"trigger_type"`
	RecurrencePattern string         `json:"recurrence_pattern,omitempty"`
	Kind              string         `json:"kind"`
	Context           map[string]any `json:"context,omitempty"`
	ExecutionPlan     map[string]any `json:"execution_plan,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	Completed         bool           `json:"completed"`
	Active            bool           `json:"active"`
}

// NextOccurrence returns the next run of a recurring reminder. ok is false
// for unknown patterns.
func (r Reminder) NextOccurrence() (next time.Time, ok bool) {
	switch r.RecurrencePattern {
	case "daily":
		return r.ScheduledTime.AddDate(0, 0, 1), true
	case "weekly":
		return r.ScheduledTime.AddDate(0, 0, 7), true
	case "monthly":
		return r.ScheduledTime.AddDate(0, 0, 30), true
	}
	return time.Time{}, false
}
