package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rahul/maestro/internal/store"
	"github.com/rahul/maestro/internal/timeparse"
)

const displayLayout = "2006-01-02 15:04:05"

// SchedulerTools implements the scheduler_tool category. Deferred tasks are
// stored with kind planner_worker so the trigger loop replans them when
// they come due; plain reminders are only announced.
type SchedulerTools struct {
	Store *store.ReminderStore
	Now   func() time.Time
}

func NewSchedulerTools(s *store.ReminderStore) *SchedulerTools {
	return &SchedulerTools{Store: s, Now: time.Now}
}

type ScheduledTask struct {
	Success       bool   `json:"success"`
	TaskID        string `json:"task_id"`
	ScheduledTime string `json:"scheduled_time"`
	DelayMinutes  int    `json:"delay_minutes"`
	Message       string `json:"message"`
}

func (s *SchedulerTools) ScheduleTask(ctx context.Context, description string, delayMinutes int, userID string, taskContext map[string]any) (ScheduledTask, error) {
	at := s.Now().Add(time.Duration(delayMinutes) * time.Minute)
	r, err := s.Store.Create(store.Reminder{
		UserID:        userID,
		Title:         "Scheduled Task",
		Description:   description,
		ScheduledTime: at,
		Kind:          store.KindPlannerWorker,
		Context:       taskContext,
	})
	if err != nil {
		return ScheduledTask{}, fmt.Errorf("Task scheduling failed: %w", err)
	}
	return ScheduledTask{
		Success:       true,
		TaskID:        r.ID,
		ScheduledTime: at.Format(time.RFC3339),
		DelayMinutes:  delayMinutes,
		Message:       fmt.Sprintf("Task scheduled for execution in %d minutes", delayMinutes),
	}, nil
}

type StoredTask struct {
	Success       bool   `json:"success"`
	TaskID        string `json:"task_id"`
	ExecutionTime string `json:"execution_time"`
	Message       string `json:"message"`
}

func (s *SchedulerTools) StoreComplexTask(ctx context.Context, description, executionTime, userID string, plan map[string]any) (StoredTask, error) {
	at, err := timeparse.Parse(executionTime, s.Now())
	if err != nil {
		return StoredTask{}, fmt.Errorf("Complex task storage failed: Invalid execution time format: %s. %w", executionTime, err)
	}
	r, err := s.Store.Create(store.Reminder{
		UserID:        userID,
		Title:         "Complex Scheduled Task",
		Description:   description,
		ScheduledTime: at,
		Kind:          store.KindPlannerWorker,
		ExecutionPlan: plan,
	})
	if err != nil {
		return StoredTask{}, fmt.Errorf("Complex task storage failed: %w", err)
	}
	return StoredTask{
		Success:       true,
		TaskID:        r.ID,
		ExecutionTime: at.Format(time.RFC3339),
		Message:       "Complex task stored for execution at " + at.Format(displayLayout),
	}, nil
}

type CreatedReminder struct {
	Success       bool   `json:"success"`
	ReminderID    string `json:"reminder_id"`
	Title         string `json:"title"`
	ScheduledTime string `json:"scheduled_time"`
	Recurring     bool   `json:"recurring"`
	Message       string `json:"message"`
}

func (s *SchedulerTools) CreateReminder(ctx context.Context, title, description, scheduledTime, userID string, recurring bool, pattern string) (CreatedReminder, error) {
	at, err := timeparse.Parse(scheduledTime, s.Now())
	if err != nil {
		return CreatedReminder{}, fmt.Errorf("Reminder creation failed: Invalid scheduled time format: %s. %w", scheduledTime, err)
	}
	trigger := store.TriggerOneTime
	if recurring {
		trigger = store.TriggerRecurring
	}
	r, err := s.Store.Create(store.Reminder{
		UserID:            userID,
		Title:             title,
		Description:       description,
		ScheduledTime:     at,
		TriggerType:       trigger,
		RecurrencePattern: pattern,
		Kind:              store.KindReminder,
	})
	if err != nil {
		return CreatedReminder{}, fmt.Errorf("Reminder creation failed: %w", err)
	}
	return CreatedReminder{
		Success:       true,
		ReminderID:    r.ID,
		Title:         title,
		ScheduledTime: at.Format(time.RFC3339),
		Recurring:     recurring,
		Message:       fmt.Sprintf("Reminder '%s' created for %s", title, at.Format(displayLayout)),
	}, nil
}

type TaskSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	ScheduledTime string `json:"scheduled_time"`
	Type          string `json:"type"`
	Completed     bool   `json:"completed"`
}

type TaskList struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Tasks   []TaskSummary `json:"tasks"`
	Message string        `json:"message"`
}

func (s *SchedulerTools) ListScheduledTasks(ctx context.Context, userID string, includeCompleted bool) (TaskList, error) {
	reminders, err := s.Store.List(userID, includeCompleted)
	if err != nil {
		return TaskList{}, fmt.Errorf("Task listing failed: %w", err)
	}
	tasks := make([]TaskSummary, 0, len(reminders))
	for _, r := range reminders {
		tasks = append(tasks, TaskSummary{
			ID:            r.ID,
			Title:         r.Title,
			Description:   r.Description,
			ScheduledTime: r.ScheduledTime.In(s.Now().Location()).Format(displayLayout),
			Type:          r.TriggerType,
			Completed:     r.Completed,
		})
	}
	return TaskList{
		Success: true,
		Count:   len(tasks),
		Tasks:   tasks,
		Message: fmt.Sprintf("Found %d scheduled tasks", len(tasks)),
	}, nil
}

type TaskChange struct {
	Success bool           `json:"success"`
	TaskID  string         `json:"task_id"`
	Updates map[string]any `json:"updates,omitempty"`
	Message string         `json:"message"`
}

func (s *SchedulerTools) CancelTask(ctx context.Context, taskID, userID string) (TaskChange, error) {
	if err := s.Store.Cancel(taskID, userID); err != nil {
		return TaskChange{}, fmt.Errorf("Task cancellation failed: %w", err)
	}
	return TaskChange{Success: true, TaskID: taskID, Message: fmt.Sprintf("Task %s has been cancelled", taskID)}, nil
}

// UpdateTask only accepts absolute times for newTime.
func (s *SchedulerTools) UpdateTask(ctx context.Context, taskID, newTime, newDescription, userID string) (TaskChange, error) {
	updates := map[string]any{}
	var at time.Time
	if newTime != "" {
		t, err := timeparse.ParseAbsolute(newTime, s.Now().Location())
		if err != nil {
			return TaskChange{}, fmt.Errorf("Task update failed: %w", err)
		}
		at = t
		updates["scheduled_time"] = t.Format(time.RFC3339)
	}
	if newDescription != "" {
		updates["description"] = newDescription
	}
	if err := s.Store.Update(taskID, userID, at, newDescription); err != nil {
		return TaskChange{}, fmt.Errorf("Task update failed: %w", err)
	}
	return TaskChange{Success: true, TaskID: taskID, Updates: updates, Message: fmt.Sprintf("Task %s has been updated", taskID)}, nil
}

func ownerParam() Param {
	return Param{Name: "user_id", Type: "string", Description: "Owner session id", Default: store.DefaultSession}
}

// Functions returns the scheduler_tool category.
func (s *SchedulerTools) Functions() []Function {
	return []Function{
		{
			Name:        "schedule_task",
			Description: "Schedule a task to be planned and executed after delay_minutes",
			Params: []Param{
				{Name: "task_description", Type: "string", Required: true},
				{Name: "delay_minutes", Type: "integer", Required: true},
				ownerParam(),
				{Name: "context", Type: "object"},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return s.ScheduleTask(ctx, a.String("task_description"), a.Int("delay_minutes"), a.String("user_id"), a.Map("context"))
			},
		},
		{
			Name:        "store_complex_task",
			Description: "Store a complex task for execution at a natural-language or ISO time",
			Params: []Param{
				{Name: "description", Type: "string", Required: true},
				{Name: "execution_time", Type: "string", Required: true},
				ownerParam(),
				{Name: "execution_plan", Type: "object"},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return s.StoreComplexTask(ctx, a.String("description"), a.String("execution_time"), a.String("user_id"), a.Map("execution_plan"))
			},
		},
		{
			Name:        "create_reminder",
			Description: "Create a reminder, optionally recurring (daily, weekly, monthly)",
			Params: []Param{
				{Name: "title", Type: "string", Required: true},
				{Name: "description", Type: "string", Required: true},
				{Name: "scheduled_time", Type: "string", Required: true},
				ownerParam(),
				{Name: "recurring", Type: "boolean", Default: false},
				{Name: "recurrence_pattern", Type: "string"},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return s.CreateReminder(ctx, a.String("title"), a.String("description"), a.String("scheduled_time"),
					a.String("user_id"), a.Bool("recurring"), a.String("recurrence_pattern"))
			},
		},
		{
			Name:        "list_scheduled_tasks",
			Description: "List scheduled tasks and reminders",
			Params: []Param{
				ownerParam(),
				{Name: "include_completed", Type: "boolean", Default: false},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return s.ListScheduledTasks(ctx, a.String("user_id"), a.Bool("include_completed"))
			},
		},
		{
			Name:        "cancel_task",
			Description: "Cancel a scheduled task or reminder",
			Params:      []Param{{Name: "task_id", Type: "string", Required: true}, ownerParam()},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return s.CancelTask(ctx, a.String("task_id"), a.String("user_id"))
			},
		},
		{
			Name:        "update_task",
			Description: "Move a task to a new absolute time and/or change its description",
			Params: []Param{
				{Name: "task_id", Type: "string", Required: true},
				{Name: "new_time", Type: "string"},
				{Name: "new_description", Type: "string"},
				ownerParam(),
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return s.UpdateTask(ctx, a.String("task_id"), a.String("new_time"), a.String("new_description"), a.String("user_id"))
			},
		},
	}
}
