package tools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/maestro/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedulerTools(t *testing.T) (*SchedulerTools, *store.ReminderStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rs := store.NewReminderStore(db)
	rs.Now = func() time.Time { return now }
	st := NewSchedulerTools(rs)
	st.Now = func() time.Time { return now }
	return st, rs
}

func TestSchedulerTools_ScheduleTaskIsPlannerWorker(t *testing.T) {
	st, rs := newSchedulerTools(t)

	res, err := st.ScheduleTask(context.Background(), "check my inbox", 5, "web-1", map[string]any{"origin": "chat"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Task scheduled for execution in 5 minutes", res.Message)

	r, err := rs.Get(res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.KindPlannerWorker, r.Kind)
	assert.Equal(t, "Scheduled Task", r.Title)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC), r.ScheduledTime)
	assert.Equal(t, "chat", r.Context["origin"])
}

func TestSchedulerTools_CreateReminderParsesNaturalTime(t *testing.T) {
	st, rs := newSchedulerTools(t)

	res, err := st.CreateReminder(context.Background(), "Standup", "daily sync", "tomorrow at 9am", "web-1", true, "daily")
	require.NoError(t, err)
	assert.Equal(t, "Reminder 'Standup' created for 2025-03-02 09:00:00", res.Message)
	assert.True(t, res.Recurring)

	r, err := rs.Get(res.ReminderID)
	require.NoError(t, err)
	assert.Equal(t, store.TriggerRecurring, r.TriggerType)
	assert.Equal(t, store.KindReminder, r.Kind)

	_, err = st.CreateReminder(context.Background(), "x", "y", "whenever", "web-1", false, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Reminder creation failed: Invalid scheduled time format: whenever.")
}

func TestSchedulerTools_ListCancelUpdate(t *testing.T) {
	st, _ := newSchedulerTools(t)
	ctx := context.Background()

	a, err := st.StoreComplexTask(ctx, "send report", "in 2 hours", "web-1", map[string]any{"steps": []any{}})
	require.NoError(t, err)
	assert.Equal(t, "Complex task stored for execution at 2025-03-01 12:00:00", a.Message)
	_, err = st.CreateReminder(ctx, "Other user", "d", "in 1 hour", "web-2", false, "")
	require.NoError(t, err)

	list, err := st.ListScheduledTasks(ctx, "web-1", false)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Found 1 scheduled tasks", list.Message)
	assert.Equal(t, "2025-03-01 12:00:00", list.Tasks[0].ScheduledTime)

	upd, err := st.UpdateTask(ctx, a.TaskID, "2025-03-05 08:30:00", "send weekly report", "web-1")
	require.NoError(t, err)
	assert.Equal(t, "send weekly report", upd.Updates["description"])

	_, err = st.UpdateTask(ctx, a.TaskID, "", "", "web-1")
	assert.EqualError(t, err, "Task update failed: no updates provided")

	_, err = st.CancelTask(ctx, a.TaskID, "web-2")
	assert.ErrorIs(t, err, store.ErrReminderNotFound)

	c, err := st.CancelTask(ctx, a.TaskID, "web-1")
	require.NoError(t, err)
	assert.Equal(t, "Task "+a.TaskID+" has been cancelled", c.Message)

	list, err = st.ListScheduledTasks(ctx, "web-1", true)
	require.NoError(t, err)
	assert.Zero(t, list.Count)
}

func TestSchedulerTools_RegistryDefaults(t *testing.T) {
	st, _ := newSchedulerTools(t)
	r := NewRegistry()
	require.NoError(t, r.RegisterCategory("scheduler_tool", st.Functions()))

	out, err := r.Call(context.Background(), "scheduler_tool.schedule_task", map[string]any{
		"task_description": "ping",
		"delay_minutes":    float64(1),
	})
	require.NoError(t, err)
	require.IsType(t, ScheduledTask{}, out)

	list, err := st.ListScheduledTasks(context.Background(), store.DefaultSession, false)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
}
