package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/maestro/internal/store"
	"github.com/rahul/maestro/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type conductorFixture struct {
	conductor *Conductor
	model     *scriptedModel
	agents    *scriptedModel
	tools     *recordingTools
	memory    *store.ConversationStore
	messenger *fakeMessenger
}

// newConductor wires a conductor whose own model and planner/worker model
// are scripted separately.
func newConductor(t *testing.T, fetch tools.Handler, conductorScript, agentScript []reply) *conductorFixture {
	t.Helper()
	f := &conductorFixture{
		model:     &scriptedModel{script: conductorScript},
		agents:    &scriptedModel{script: agentScript},
		tools:     newTools(t, fetch),
		memory:    openDB(t),
		messenger: &fakeMessenger{},
	}
	planner := NewPlanner(gateway(f.agents), "", f.tools, nil, nil)
	worker := NewWorker(f.tools, gateway(f.agents), "", nil, nil)
	f.conductor = NewConductor(gateway(f.model), "", f.memory, nil, planner, worker, nil)
	f.conductor.Messenger = f.messenger
	return f
}

func toolMessages(msgs []llms.MessageContent) []llms.ToolCallResponse {
	var out []llms.ToolCallResponse
	for _, m := range msgs {
		if m.Role != llms.ChatMessageTypeTool {
			continue
		}
		for _, p := range m.Parts {
			if r, ok := p.(llms.ToolCallResponse); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func decodeToolResult(t *testing.T, content string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(content), &m))
	return m
}

func TestConductor_SendMessageBecomesReply(t *testing.T) {
	f := newConductor(t, inbox, []reply{
		toolCalls(fnCall("c1", ToolSendMessage, map[string]any{"message": "hi"})),
		say(""),
	}, nil)

	res := f.conductor.Execute(context.Background(), "say hi", "web-1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hi", res.Response)
	assert.Equal(t, 0, res.WorkersUsed)

	history, err := f.memory.GetHistory("web-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, "say hi", history[0].Content)
	assert.Equal(t, "hi", history[1].Content)
}

func TestConductor_PlainTextReply(t *testing.T) {
	f := newConductor(t, inbox, []reply{say("Hello there!")}, nil)

	res := f.conductor.Execute(context.Background(), "hello", "web-1")

	require.True(t, res.Success)
	assert.Equal(t, "Hello there!", res.Response)
	assert.Equal(t, 1, f.model.callCount())

	msgs := f.model.call(0)
	require.Len(t, msgs, 2, "system prompt and new message only")
	assert.Equal(t, "<new_user_message>\nhello\n</new_user_message>", msgs[1].Parts[0].(llms.TextContent).Text)
}

func TestConductor_IncludesEarlierTurns(t *testing.T) {
	f := newConductor(t, inbox, []reply{say("first"), say("second")}, nil)
	ctx := context.Background()

	f.conductor.Execute(ctx, "one", "web-1")
	f.conductor.Execute(ctx, "two", "web-1")

	msgs := f.model.call(1)
	require.Len(t, msgs, 3)
	history := msgs[1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, history, "<conversation_history>")
	assert.Contains(t, history, "one")
	assert.Contains(t, history, "first")
	assert.NotContains(t, history, "two")
}

func TestConductor_InvalidArgumentsStillAnswered(t *testing.T) {
	f := newConductor(t, inbox, []reply{
		toolCalls(fnCall("bad", ToolSendMessage, "{not json"), fnCall("arr", ToolWait, "[1,2]")),
		say("Sorry, let me try again."),
	}, nil)

	res := f.conductor.Execute(context.Background(), "hi", "web-1")
	require.True(t, res.Success)
	assert.Equal(t, "Sorry, let me try again.", res.Response)

	responses := toolMessages(f.model.call(1))
	require.Len(t, responses, 2)

	assert.Equal(t, "bad", responses[0].ToolCallID)
	first := decodeToolResult(t, responses[0].Content)
	assert.Equal(t, "error", first["status"])
	assert.Contains(t, first["error"].(map[string]any)["error"], "invalid json")

	second := decodeToolResult(t, responses[1].Content)
	assert.Equal(t, "decoded arguments were not an object", second["error"].(map[string]any)["error"])
}

func TestConductor_IterationLimit(t *testing.T) {
	wait := toolCalls(fnCall("w", ToolWait, map[string]any{"reason": "thinking"}))
	f := newConductor(t, inbox, nil, nil)
	f.model.fallback = &wait

	res := f.conductor.Execute(context.Background(), "loop forever", "web-1")

	assert.False(t, res.Success)
	assert.Equal(t, ErrIterationLimit.Error(), res.Error)
	assert.Equal(t, DefaultMaxIterations, f.model.callCount())
}

func TestConductor_LLMTimeoutApologizes(t *testing.T) {
	f := newConductor(t, inbox, []reply{block()}, nil)
	f.conductor.LLMTimeout = 20 * time.Millisecond

	res := f.conductor.Execute(context.Background(), "hello", "web-1")

	require.True(t, res.Success)
	assert.Equal(t, TimeoutReply, res.Response)
	assert.Equal(t, 1, f.model.callCount())
}

func TestConductor_ToolTimeout(t *testing.T) {
	f := newConductor(t, inbox, []reply{
		toolCalls(fnCall("p", ToolPlanAndExecute, map[string]any{"task_description": "slow"})),
		say("It took too long."),
	}, []reply{block()})
	f.conductor.PlanTimeout = 20 * time.Millisecond

	res := f.conductor.Execute(context.Background(), "do slow thing", "web-1")
	require.True(t, res.Success)

	responses := toolMessages(f.model.call(1))
	require.Len(t, responses, 1)
	payload := decodeToolResult(t, responses[0].Content)
	assert.Equal(t, toolTimeoutMessage, payload["error"].(map[string]any)["error"])
}

func TestConductor_CheckEmailsFromToday(t *testing.T) {
	f := newConductor(t, inbox, []reply{
		toolCalls(fnCall("c1", ToolPlanAndExecute, map[string]any{"task_description": "Check my emails from today"})),
		say(""),
	}, []reply{
		planJSON(t, ExecutionPlan{PlanID: "check_emails_001", Steps: []PlanStep{{
			StepID:      "1",
			Tool:        "gmail_tool.fetch_emails",
			Args:        map[string]any{"user_id": "web_user", "query": "newer_than:1d", "max_results": 20},
			Description: "Fetch recent emails from today",
		}}}),
		say("You have **2** new emails today."),
	})

	res := f.conductor.Execute(context.Background(), "Check my emails from today", "web-1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "You have **2** new emails today.", res.Response)
	assert.Equal(t, 1, res.WorkersUsed)
	assert.Equal(t, []string{"gmail_tool.fetch_emails"}, f.tools.called())

	responses := toolMessages(f.model.call(1))
	require.Len(t, responses, 1)
	payload := decodeToolResult(t, responses[0].Content)
	assert.Equal(t, "success", payload["status"])
	result := payload["result"].(map[string]any)
	assert.Equal(t, "check_emails_001", result["plan_id"])
	assert.EqualValues(t, 1, result["steps_executed"])
}

func TestConductor_GmailNotConnected(t *testing.T) {
	f := newConductor(t, noMail, []reply{
		toolCalls(fnCall("c1", ToolPlanAndExecute, map[string]any{"task_description": "Check my emails from today"})),
		say("Please connect Gmail."),
	}, []reply{
		planJSON(t, ExecutionPlan{PlanID: "p", Steps: []PlanStep{{
			StepID: "1", Tool: "gmail_tool.fetch_emails", Args: map[string]any{"user_id": "web_user"}, Description: "Fetch recent emails",
		}}}),
	})

	res := f.conductor.Execute(context.Background(), "Check my emails from today", "web-1")

	require.True(t, res.Success)
	assert.Contains(t, res.Response, "Gmail Connection Required")
	assert.Equal(t, 1, f.agents.callCount(), "only the planning call")
}

func TestConductor_ScheduleForLater(t *testing.T) {
	f := newConductor(t, inbox, []reply{
		toolCalls(fnCall("s", ToolScheduleForLater, map[string]any{"task_description": "Summarize inbox", "delay_minutes": 5})),
		say(""),
	}, nil)

	db, err := store.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reminders := store.NewReminderStore(db)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	scheduler := tools.NewSchedulerTools(reminders)
	scheduler.Now = func() time.Time { return now }
	f.conductor.Scheduler = scheduler

	res := f.conductor.Execute(context.Background(), "summarize my inbox in 5 minutes", "web-9")

	require.True(t, res.Success)
	assert.Equal(t, 1, res.WorkersUsed)
	assert.Contains(t, res.Response, "✅ **Task Scheduled**")
	assert.Contains(t, res.Response, "2025-03-01 10:05:00")

	pending, err := reminders.List("web-9", false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, store.KindPlannerWorker, pending[0].Kind)
	assert.Equal(t, "web-9", pending[0].Context["session_id"])
}

func TestConductor_LocalTools(t *testing.T) {
	f := newConductor(t, inbox, []reply{
		toolCalls(
			fnCall("n", ToolSendNotification, map[string]any{"message": "ping"}),
			fnCall("d", ToolSendDraft, map[string]any{"to": "a@b.c", "subject": "Hi", "body": "Hello"}),
			fnCall("x", "launch_rockets", map[string]any{}),
		),
		say(""),
	}, nil)

	res := f.conductor.Execute(context.Background(), "draft it", "telegram-5")

	require.True(t, res.Success)
	assert.Equal(t, "📧 **Email Draft**\n\n**To:** a@b.c\n**Subject:** Hi\n\n**Body:**\nHello", res.Response)
	assert.Equal(t, []sentMessage{{"telegram-5", "ping"}}, f.messenger.sent)

	responses := toolMessages(f.model.call(1))
	require.Len(t, responses, 3)
	notify := decodeToolResult(t, responses[0].Content)["result"].(map[string]any)
	assert.Equal(t, "normal", notify["priority"])
	assert.Equal(t, true, notify["sent"])
	unknown := decodeToolResult(t, responses[2].Content)
	assert.Equal(t, "Unknown tool: launch_rockets", unknown["error"].(map[string]any)["error"])
}

func TestConductor_HandleSpecialistMessage(t *testing.T) {
	f := newConductor(t, inbox, []reply{say("Your report is ready.")}, nil)

	res := f.conductor.HandleSpecialistMessage(context.Background(), "report finished", "web-1")

	require.True(t, res.Success)
	assert.Equal(t, "Your report is ready.", res.Response)
	msgs := f.model.call(0)
	assert.Equal(t, "<specialist_message>\nreport finished\n</specialist_message>", msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text)
}

func TestFormatToolResult(t *testing.T) {
	call := ToolCall{Name: "wait", Arguments: map[string]any{"reason": "x"}}

	ok := decodeToolResult(t, formatToolResult(call, ToolResult{Success: true, Payload: "done"}))
	assert.Equal(t, map[string]any{"tool": "wait", "status": "success", "arguments": map[string]any{"reason": "x"}, "result": "done"}, ok)

	failed := decodeToolResult(t, formatToolResult(call, ToolResult{Payload: "nope"}))
	assert.Equal(t, "nope", failed["error"])
	assert.NotContains(t, failed, "result")

	raw := formatToolResult(call, ToolResult{Success: true, Payload: make(chan int)})
	assert.Contains(t, raw, "map[string]interface {}")
}
