package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/maestro/internal/store"
	"github.com/rahul/maestro/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

// Conductor-facing tool names.
const (
	ToolPlanAndExecute   = "plan_and_execute_task"
	ToolScheduleForLater = "schedule_task_for_later"
	ToolSendMessage      = "send_message_to_user"
	ToolSendDraft        = "send_draft"
	ToolWait             = "wait"
	ToolSendNotification = "send_notification"
)

const toolTimeoutMessage = "Tool execution timed out. Please try again."

// TaskScheduler stores work for later execution. *tools.SchedulerTools
// implements it.
type TaskScheduler interface {
	ScheduleTask(ctx context.Context, description string, delayMinutes int, userID string, taskContext map[string]any) (tools.ScheduledTask, error)
	StoreComplexTask(ctx context.Context, description, executionTime, userID string, plan map[string]any) (tools.StoredTask, error)
}

func function(name, description string, properties map[string]any, required ...string) llms.Tool {
	params := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// ConductorTools is the fixed tool schema offered to the conductor model.
func ConductorTools() []llms.Tool {
	return []llms.Tool{
		function(ToolPlanAndExecute,
			"Create and execute a multi-step plan for complex tasks such as reading, searching, summarizing or sending email.",
			map[string]any{
				"task_description": str("Complete description of the task to accomplish"),
				"user_id":          str("User identifier, defaults to web_user"),
			}, "task_description"),
		function(ToolScheduleForLater,
			"Schedule a task to be planned and executed at a later time.",
			map[string]any{
				"task_description": str("Description of the task to run later"),
				"delay_minutes":    map[string]any{"type": "integer", "description": "Minutes from now"},
				"execution_time":   str("When to run, e.g. 'tomorrow at 9am' or 'in 2 hours'"),
				"user_id":          str("User identifier"),
			}, "task_description"),
		function(ToolSendMessage,
			"Send a message to the user. The last message sent becomes the reply.",
			map[string]any{"message": str("Markdown message for the user")}, "message"),
		function(ToolSendDraft,
			"Show the user an email draft for review before sending.",
			map[string]any{
				"to":      str("Recipient email address"),
				"subject": str("Email subject"),
				"body":    str("Email body"),
			}, "to", "subject", "body"),
		function(ToolWait,
			"Wait without replying, e.g. while a scheduled task is pending.",
			map[string]any{"reason": str("Why the conductor is waiting")}),
		function(ToolSendNotification,
			"Push a notification to the user's session.",
			map[string]any{
				"message":    str("Notification text"),
				"priority":   map[string]any{"type": "string", "enum": []string{"low", "normal", "high"}},
				"session_id": str("Target session, defaults to the current one"),
			}, "message"),
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// executeTool runs one conductor tool under its timeout. Invalid
// arguments are answered with an error result without dispatching.
func (c *Conductor) executeTool(ctx context.Context, call ToolCall, sessionID string) ToolResult {
	log.Printf("[Conductor] Tool call: %s %v", call.Name, call.Arguments)
	c.Logger.LogToolCall(sessionID, "", call.Name, call.Arguments)

	if call.InvalidArguments != "" {
		c.Logger.LogToolResult(sessionID, "", call.Name, false, call.InvalidArguments)
		return ToolResult{Payload: map[string]any{"error": call.InvalidArguments}}
	}

	result, err := runWithTimeout(ctx, c.toolTimeout(call.Name), func(ctx context.Context) (ToolResult, error) {
		return c.dispatch(ctx, call, sessionID), nil
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = toolTimeoutMessage
		}
		log.Printf("[Conductor] Tool %s failed: %s", call.Name, msg)
		result = ToolResult{Payload: map[string]any{"error": msg}}
	}

	c.Logger.LogToolResult(sessionID, "", call.Name, result.Success, fmt.Sprint(result.Payload))
	return result
}

func (c *Conductor) dispatch(ctx context.Context, call ToolCall, sessionID string) ToolResult {
	args := call.Arguments
	switch call.Name {
	case ToolPlanAndExecute:
		return c.planAndExecute(ctx, args, sessionID)
	case ToolScheduleForLater:
		return c.scheduleForLater(ctx, args, sessionID)
	case ToolSendMessage:
		msg := stringArg(args, "message")
		return ToolResult{Success: true, Payload: map[string]any{"message": msg}, UserMessage: msg}
	case ToolSendDraft:
		draft := fmt.Sprintf("📧 **Email Draft**\n\n**To:** %s\n**Subject:** %s\n\n**Body:**\n%s",
			stringArg(args, "to"), stringArg(args, "subject"), stringArg(args, "body"))
		return ToolResult{Success: true, Payload: map[string]any{"draft": draft}, UserMessage: draft}
	case ToolWait:
		return ToolResult{Success: true, Payload: map[string]any{"reason": stringArg(args, "reason"), "action": "wait"}}
	case ToolSendNotification:
		return c.sendNotification(args, sessionID)
	default:
		return ToolResult{Payload: map[string]any{"error": fmt.Sprintf("Unknown tool: %s", call.Name)}}
	}
}

func (c *Conductor) planAndExecute(ctx context.Context, args map[string]any, sessionID string) ToolResult {
	task := stringArg(args, "task_description")
	if task == "" {
		return ToolResult{Payload: map[string]any{"error": "Task description is required"}}
	}
	if c.Planner == nil || c.Worker == nil {
		return ToolResult{Payload: map[string]any{"task": task, "error": "planner is not configured"}}
	}

	userID := stringArg(args, "user_id")
	if userID == "" {
		userID = store.DefaultSession
	}
	vars := map[string]any{"user_id": userID, "session_id": sessionID}

	plan := c.Planner.CreatePlan(ctx, task, vars)
	res := c.Worker.ExecutePlan(ctx, plan, vars)
	if !res.Success {
		return ToolResult{
			Payload:     map[string]any{"task": task, "error": res.Error, "steps_executed": res.StepsExecuted},
			UserMessage: res.FinalResult,
		}
	}
	return ToolResult{
		Success: true,
		Payload: map[string]any{
			"task":           task,
			"plan_id":        plan.PlanID,
			"steps_executed": res.StepsExecuted,
			"result":         res.FinalResult,
		},
		UserMessage: res.FinalResult,
	}
}

func (c *Conductor) scheduleForLater(ctx context.Context, args map[string]any, sessionID string) ToolResult {
	task := stringArg(args, "task_description")
	if task == "" {
		return ToolResult{Payload: map[string]any{"error": "Task description is required"}}
	}
	if c.Scheduler == nil {
		return scheduleError(errors.New("scheduler is not configured"))
	}
	userID := stringArg(args, "user_id")
	if userID == "" {
		userID = sessionID
	}

	var id, when string
	if at := stringArg(args, "execution_time"); at != "" && !tools.Args(args).Has("delay_minutes") {
		stored, err := c.Scheduler.StoreComplexTask(ctx, task, at, userID, nil)
		if err != nil {
			return scheduleError(err)
		}
		id, when = stored.TaskID, stored.ExecutionTime
	} else {
		delay := 1
		if tools.Args(args).Has("delay_minutes") {
			delay = tools.Args(args).Int("delay_minutes")
		}
		scheduled, err := c.Scheduler.ScheduleTask(ctx, task, delay, userID, map[string]any{"session_id": sessionID})
		if err != nil {
			return scheduleError(err)
		}
		id, when = scheduled.TaskID, scheduled.ScheduledTime
	}
	if t, err := time.Parse(time.RFC3339, when); err == nil {
		when = t.Format("2006-01-02 15:04:05")
	}

	msg := fmt.Sprintf("✅ **Task Scheduled**\n\n📝 **Task**: %s\n⏰ **Scheduled for**: %s\n🔢 **ID**: %s", task, when, id)
	return ToolResult{
		Success:     true,
		Payload:     map[string]any{"task_id": id, "task": task, "scheduled_time": when},
		UserMessage: msg,
	}
}

func scheduleError(err error) ToolResult {
	return ToolResult{
		Payload:     map[string]any{"error": err.Error()},
		UserMessage: fmt.Sprintf("❌ **Scheduling Error**: %s", err),
	}
}

func (c *Conductor) sendNotification(args map[string]any, sessionID string) ToolResult {
	msg := stringArg(args, "message")
	priority := stringArg(args, "priority")
	if priority == "" {
		priority = "normal"
	}
	target := stringArg(args, "session_id")
	if target == "" {
		target = sessionID
	}

	// Web clients poll the transcript; push channels get it directly.
	if c.Memory != nil {
		if err := c.Memory.RecordAssistantMessage(target, msg); err != nil {
			log.Printf("[Conductor] Failed to store notification for %s: %v", target, err)
		}
	}
	sent := true
	if c.Messenger != nil {
		if err := c.Messenger.Send(target, msg); err != nil {
			log.Printf("[Conductor] Notification to %s failed: %v", target, err)
			sent = false
		}
	}
	return ToolResult{Success: true, Payload: map[string]any{"message": msg, "priority": priority, "sent": sent}}
}
