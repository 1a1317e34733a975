package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/maestro/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	scheduler *Scheduler
	reminders *store.ReminderStore
	memory    *store.ConversationStore
	messenger *fakeMessenger
	model     *scriptedModel
	tools     *recordingTools
	now       time.Time
}

func newSchedulerFixture(t *testing.T, script ...reply) *schedulerFixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &schedulerFixture{
		reminders: store.NewReminderStore(db),
		memory:    store.NewConversationStore(db),
		messenger: &fakeMessenger{},
		model:     &scriptedModel{script: script},
		now:       time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.tools = newTools(t, inbox)
	planner := NewPlanner(gateway(f.model), "", f.tools, nil, nil)
	worker := NewWorker(f.tools, gateway(f.model), "", nil, nil)
	sessions := &store.SessionResolver{Conversations: f.memory}

	f.scheduler = NewScheduler(f.reminders, f.memory, sessions, planner, worker, f.messenger, nil)
	f.scheduler.Now = func() time.Time { return f.now }
	return f
}

func (f *schedulerFixture) add(t *testing.T, r store.Reminder) store.Reminder {
	t.Helper()
	created, err := f.reminders.Create(r)
	require.NoError(t, err)
	return created
}

func TestScheduler_OneTimeReminder(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.add(t, store.Reminder{UserID: "telegram-3", Title: "Stand-up", Description: "Daily sync", ScheduledTime: f.now.Add(-time.Minute)})
	f.add(t, store.Reminder{UserID: "telegram-3", Title: "Later", ScheduledTime: f.now.Add(time.Hour)})

	assert.Equal(t, 1, f.scheduler.Poll(context.Background()))

	want := "🔔 **Reminder Alert**\n\n**Stand-up**\n\nDaily sync\n\n*Reminder ID: " + r.ID + "*"
	assert.Equal(t, []sentMessage{{"telegram-3", want}}, f.messenger.sent)

	history, err := f.memory.GetHistory("telegram-3", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, want, history[0].Content)

	got, err := f.reminders.Get(r.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, 0, f.scheduler.Poll(context.Background()))
}

func TestScheduler_RecurringReminderAdvances(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.add(t, store.Reminder{
		UserID:            "web-1",
		Title:             "Water plants",
		ScheduledTime:     f.now.Add(-50 * time.Hour),
		TriggerType:       store.TriggerRecurring,
		RecurrencePattern: "daily",
	})

	f.scheduler.Poll(context.Background())

	got, err := f.reminders.Get(r.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.True(t, got.ScheduledTime.After(f.now))
	assert.True(t, got.ScheduledTime.Equal(r.ScheduledTime.AddDate(0, 0, 3)))
}

func TestScheduler_UnknownPatternUsesDaily(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.add(t, store.Reminder{
		UserID:            "web-1",
		Title:             "Odd",
		ScheduledTime:     f.now.Add(-time.Minute),
		TriggerType:       store.TriggerRecurring,
		RecurrencePattern: "fortnightly",
	})

	f.scheduler.Poll(context.Background())

	got, err := f.reminders.Get(r.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledTime.Equal(r.ScheduledTime.AddDate(0, 0, 1)))
}

func TestScheduler_ComplexTaskIsPlannedAndRun(t *testing.T) {
	f := newSchedulerFixture(t,
		planJSON(t, ExecutionPlan{PlanID: "p", Steps: []PlanStep{
			{StepID: "1", Tool: "demo.echo", Args: map[string]any{"text": "{scheduled_task_id}"}},
		}}),
		say("All done."),
	)
	r := f.add(t, store.Reminder{
		UserID:        "web-2",
		Title:         "Scheduled Task",
		Description:   "Echo my id",
		ScheduledTime: f.now,
		Kind:          store.KindPlannerWorker,
	})

	f.scheduler.Poll(context.Background())

	require.Len(t, f.messenger.sent, 1)
	assert.Equal(t, "✅ **Scheduled Task Completed**\n\n**Task**: Echo my id\n\n**Result**: All done.", f.messenger.sent[0].text)
	assert.Equal(t, "web-2", f.messenger.sent[0].chatID)

	got, err := f.reminders.Get(r.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
}

func TestScheduler_StoredPlanSkipsPlanning(t *testing.T) {
	f := newSchedulerFixture(t, say("Sent."))
	f.add(t, store.Reminder{
		UserID:        "web-2",
		Description:   "Echo hello",
		ScheduledTime: f.now,
		Kind:          store.KindPlannerWorker,
		ExecutionPlan: map[string]any{
			"plan_id": "stored",
			"steps":   []any{map[string]any{"step_id": "1", "tool": "demo.echo", "args": map[string]any{"text": "hello"}}},
		},
	})

	f.scheduler.Poll(context.Background())

	assert.Equal(t, 1, f.model.callCount(), "summary only")
	assert.Equal(t, []string{"demo.echo"}, f.tools.called())
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0].text, "**Result**: Sent.")
}

func TestScheduler_ComplexTaskFailure(t *testing.T) {
	f := newSchedulerFixture(t,
		planJSON(t, ExecutionPlan{PlanID: "p", Steps: []PlanStep{{StepID: "1", Tool: "demo.fail", Args: map[string]any{}}}}),
		say("ABORT"),
	)
	f.add(t, store.Reminder{UserID: "web-2", Description: "Break", ScheduledTime: f.now, Kind: store.KindPlannerWorker})

	f.scheduler.Poll(context.Background())

	require.Len(t, f.messenger.sent, 1)
	assert.Equal(t, "❌ **Scheduled Task Failed**\n\n**Task**: Break\n\n**Error**: Tool demo.fail execution failed: boom", f.messenger.sent[0].text)
}

func TestScheduler_StartStopsWithContext(t *testing.T) {
	f := newSchedulerFixture(t)
	f.scheduler.Interval = 5 * time.Millisecond
	f.add(t, store.Reminder{UserID: "web-1", Title: "Tick", ScheduledTime: f.now})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.scheduler.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		f.messenger.mu.Lock()
		defer f.messenger.mu.Unlock()
		return len(f.messenger.sent) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
