package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/rahul/maestro/internal/observability"
	"github.com/rahul/maestro/internal/store"
)

// Messenger pushes text to a session outside of a request/response turn.
type Messenger interface {
	Send(chatID string, text string) error
}

// ReminderQueue is the reminder storage the trigger loop drains.
type ReminderQueue interface {
	Due(now time.Time) ([]store.Reminder, error)
	MarkCompleted(id string) error
	Reschedule(id string, next time.Time) error
}

// SessionMapper maps a stored user id onto the session that should see
// the output.
type SessionMapper interface {
	Resolve(userID string) string
}

const DefaultSchedulerInterval = 60 * time.Second

// Scheduler fires due reminders. Simple reminders are announced; planner
// tasks are planned and executed, and their result is announced.
type Scheduler struct {
	Reminders ReminderQueue
	Memory    Memory
	Sessions  SessionMapper
	Planner   *Planner
	Worker    *Worker
	Gateway   Messenger
	Logger    *observability.Logger
	Interval  time.Duration
	Now       func() time.Time
}

func NewScheduler(reminders ReminderQueue, memory Memory, sessions SessionMapper, planner *Planner, worker *Worker, gateway Messenger, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		Reminders: reminders,
		Memory:    memory,
		Sessions:  sessions,
		Planner:   planner,
		Worker:    worker,
		Gateway:   gateway,
		Logger:    logger,
		Interval:  DefaultSchedulerInterval,
		Now:       time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Task scheduler started (every %s)...", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Poll processes every reminder that is due now. It returns the number
// handled.
func (s *Scheduler) Poll(ctx context.Context) int {
	due, err := s.Reminders.Due(s.now())
	if err != nil {
		log.Printf("Error polling reminders: %v", err)
		return 0
	}

	for _, r := range due {
		if ctx.Err() != nil {
			return 0
		}
		done := observability.BeginRequest()
		observability.SetStatus(observability.RoleScheduler, r.Title)
		if r.Kind == store.KindPlannerWorker {
			s.runComplexTask(ctx, r)
		} else {
			s.fireReminder(r)
		}
		done()
	}
	return len(due)
}

func (s *Scheduler) session(userID string) string {
	if s.Sessions == nil {
		return userID
	}
	return s.Sessions.Resolve(userID)
}

func (s *Scheduler) runComplexTask(ctx context.Context, r store.Reminder) {
	log.Printf("Executing scheduled task %s for %s: %s", r.ID, r.UserID, r.Description)
	session := s.session(r.UserID)
	s.Logger.LogSchedule(session, r.ID, "execute", r.Description)

	vars := map[string]any{"user_id": r.UserID, "scheduled_task_id": r.ID}
	for k, v := range r.Context {
		vars[k] = v
	}

	var text string
	switch {
	case s.Planner == nil || s.Worker == nil:
		text = fmt.Sprintf("❌ **Scheduled Task Failed**\n\n**Task**: %s\n\n**Error**: %s", r.Description, "planner is not configured")
	default:
		plan := s.storedPlan(r)
		if plan == nil {
			plan = s.Planner.CreatePlan(ctx, r.Description, vars)
		}
		res := s.Worker.ExecutePlan(ctx, plan, vars)
		if res.Success {
			text = fmt.Sprintf("✅ **Scheduled Task Completed**\n\n**Task**: %s\n\n**Result**: %s", r.Description, res.FinalResult)
		} else {
			errText := res.Error
			if errText == "" {
				errText = res.FinalResult
			}
			text = fmt.Sprintf("❌ **Scheduled Task Failed**\n\n**Task**: %s\n\n**Error**: %s", r.Description, errText)
		}
	}

	s.deliver(session, text)
	if err := s.Reminders.MarkCompleted(r.ID); err != nil {
		log.Printf("Error completing scheduled task %s: %v", r.ID, err)
	}
}

// storedPlan decodes a plan saved with the task. Plans without steps are
// ignored so the task is replanned.
func (s *Scheduler) storedPlan(r store.Reminder) *ExecutionPlan {
	if len(r.ExecutionPlan) == 0 {
		return nil
	}
	raw, err := json.Marshal(r.ExecutionPlan)
	if err != nil {
		return nil
	}
	plan, err := ParsePlan(string(raw), r.Description)
	if err != nil || len(plan.Steps) == 0 {
		return nil
	}
	return plan
}

func (s *Scheduler) fireReminder(r store.Reminder) {
	log.Printf("Firing reminder %s for %s: %s", r.ID, r.UserID, r.Title)
	session := s.session(r.UserID)
	s.Logger.LogSchedule(session, r.ID, "fire", r.Title)

	s.deliver(session, fmt.Sprintf("🔔 **Reminder Alert**\n\n**%s**\n\n%s\n\n*Reminder ID: %s*", r.Title, r.Description, r.ID))

	if r.TriggerType != store.TriggerRecurring {
		if err := s.Reminders.MarkCompleted(r.ID); err != nil {
			log.Printf("Error completing reminder %s: %v", r.ID, err)
		}
		return
	}

	if r.RecurrencePattern == "" {
		r.RecurrencePattern = "daily"
	}
	next, ok := r.NextOccurrence()
	if !ok {
		log.Printf("Unknown recurrence pattern %q for reminder %s, using daily", r.RecurrencePattern, r.ID)
		r.RecurrencePattern = "daily"
		next, _ = r.NextOccurrence()
	}
	now := s.now()
	for !next.After(now) {
		r.ScheduledTime = next
		next, _ = r.NextOccurrence()
	}
	if err := s.Reminders.Reschedule(r.ID, next); err != nil {
		log.Printf("Error rescheduling reminder %s: %v", r.ID, err)
		return
	}
	s.Logger.LogSchedule(session, r.ID, "reschedule", next.Format(time.RFC3339))
}

func (s *Scheduler) deliver(session, text string) {
	deliver(s.Memory, s.Gateway, session, text)
}

// deliver stores text in the session transcript and pushes it. Either
// side may be nil.
func deliver(memory Memory, out Messenger, session, text string) {
	if memory != nil {
		if err := memory.RecordAssistantMessage(session, text); err != nil {
			log.Printf("Error saving background output for %s: %v", session, err)
		}
	}
	if out != nil {
		if err := out.Send(session, text); err != nil {
			log.Printf("Error pushing background output to %s: %v", session, err)
		}
	}
}
