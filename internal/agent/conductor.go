package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/maestro/internal/llm"
	"github.com/rahul/maestro/internal/observability"
	"github.com/rahul/maestro/internal/store"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultMaxIterations = 8
	DefaultLLMTimeout    = 20 * time.Second
	DefaultToolTimeout   = 120 * time.Second
	DefaultPlanTimeout   = 180 * time.Second
	DefaultHistoryLimit  = 100
)

// TimeoutReply is the reply when the model does not answer in time.
const TimeoutReply = "I'm sorry, I'm having trouble processing your request right now. Please try again."

var ErrIterationLimit = errors.New("reached tool iteration limit without final response")

// Memory is the conversation store the conductor and summarizer use.
type Memory interface {
	RecordUserMessage(sessionID, content string) error
	RecordAssistantMessage(sessionID, content string) error
	RecordSpecialistMessage(sessionID, specialist, content string) error
	GetHistory(sessionID string, limit int) ([]store.ChatMessage, error)
	Count(sessionID string) (int, error)
}

type ConductorResult struct {
	Success         bool   `json:"success"`
	Response        string `json:"response"`
	Error           string `json:"error,omitempty"`
	SpecialistsUsed int    `json:"specialists_used"`
	WorkersUsed     int    `json:"workers_used"`
}

// ToolCall is a parsed tool invocation. InvalidArguments is set when the
// model's arguments could not be decoded; the call is then rejected but
// still answered.
type ToolCall struct {
	ID               string
	Name             string
	Arguments        map[string]any
	InvalidArguments string
}

// ToolResult is what a conductor tool hands back. A non-empty UserMessage
// becomes the turn's reply.
type ToolResult struct {
	Success     bool
	Payload     any
	UserMessage string
}

// Conductor runs the user-facing tool loop. It keeps no per-call state, so
// one instance serves concurrent requests.
type Conductor struct {
	LLM        ChatModel
	Model      string
	Memory     Memory
	Summarizer *Summarizer
	Prompts    *PromptManager
	Planner    *Planner
	Worker     *Worker
	Scheduler  TaskScheduler
	Messenger  Messenger
	Logger     *observability.Logger

	MaxIterations int
	LLMTimeout    time.Duration
	ToolTimeout   time.Duration
	PlanTimeout   time.Duration
	HistoryLimit  int
}

func NewConductor(model ChatModel, modelName string, memory Memory, prompts *PromptManager, planner *Planner, worker *Worker, logger *observability.Logger) *Conductor {
	return &Conductor{
		LLM:           model,
		Model:         modelName,
		Memory:        memory,
		Prompts:       prompts,
		Planner:       planner,
		Worker:        worker,
		Logger:        logger,
		MaxIterations: DefaultMaxIterations,
		LLMTimeout:    DefaultLLMTimeout,
		ToolTimeout:   DefaultToolTimeout,
		PlanTimeout:   DefaultPlanTimeout,
		HistoryLimit:  DefaultHistoryLimit,
	}
}

type loopSummary struct {
	lastAssistantText string
	userMessages      []string
	toolNames         []string
	workersExecuted   int
}

func (s *loopSummary) reply() string {
	if n := len(s.userMessages); n > 0 {
		return s.userMessages[n-1]
	}
	return s.lastAssistantText
}

// Execute handles one user message for sessionID. Failures are reported in
// the result, never returned or panicked.
func (c *Conductor) Execute(ctx context.Context, userMessage, sessionID string) (res *ConductorResult) {
	done := observability.BeginRequest()
	defer done()
	defer c.recoverInto(&res, "Conductor")

	observability.SetStatus(observability.RoleConductor, userMessage)
	log.Printf("[Conductor] New message from %s: %q", sessionID, userMessage)
	c.Logger.LogMessage(sessionID, store.RoleUser, userMessage)

	if c.Memory != nil {
		if err := c.Memory.RecordUserMessage(sessionID, userMessage); err != nil {
			return failed(err)
		}
	}
	if c.Summarizer != nil {
		c.Summarizer.MaybeSummarize(ctx, sessionID)
	}

	history := c.transcript(sessionID, userMessage)
	messages := buildMessages(history, "new_user_message", userMessage)
	return c.finish(ctx, messages, sessionID)
}

// HandleSpecialistMessage runs the same loop for a message produced by a
// background component instead of the user.
func (c *Conductor) HandleSpecialistMessage(ctx context.Context, message, sessionID string) (res *ConductorResult) {
	done := observability.BeginRequest()
	defer done()
	defer c.recoverInto(&res, "Conductor (specialist message)")

	observability.SetStatus(observability.RoleConductor, message)
	history := c.transcript(sessionID, "")
	if c.Memory != nil {
		if err := c.Memory.RecordSpecialistMessage(sessionID, "Specialist", message); err != nil {
			return failed(err)
		}
	}
	messages := buildMessages(history, "specialist_message", message)
	return c.finish(ctx, messages, sessionID)
}

func (c *Conductor) finish(ctx context.Context, messages []llms.MessageContent, sessionID string) *ConductorResult {
	summary, err := c.runLoop(ctx, messages, sessionID)
	if err != nil {
		log.Printf("[Conductor] Failed: %v", err)
		return failed(err)
	}

	reply := summary.reply()
	if reply == "" {
		log.Printf("[Conductor] Warning: loop exited without assistant content")
	} else {
		c.Logger.LogMessage(sessionID, store.RoleAssistant, reply)
		if c.Memory != nil {
			if err := c.Memory.RecordAssistantMessage(sessionID, reply); err != nil {
				log.Printf("[Conductor] Failed to save reply for %s: %v", sessionID, err)
			}
		}
	}

	log.Printf("[Conductor] Done for %s. Tools: %v, workers used: %d", sessionID, summary.toolNames, summary.workersExecuted)
	return &ConductorResult{Success: true, Response: reply, WorkersUsed: summary.workersExecuted}
}

func failed(err error) *ConductorResult {
	return &ConductorResult{Success: false, Error: err.Error()}
}

func (c *Conductor) recoverInto(res **ConductorResult, where string) {
	if r := recover(); r != nil {
		log.Printf("[%s] panic: %v", where, r)
		*res = &ConductorResult{Success: false, Error: fmt.Sprint(r)}
	}
}

// transcript renders earlier turns, leaving out the message being handled.
func (c *Conductor) transcript(sessionID, current string) string {
	if c.Memory == nil {
		return ""
	}
	limit := c.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	history, err := c.Memory.GetHistory(sessionID, limit)
	if err != nil {
		log.Printf("[Conductor] Failed to load history for %s: %v", sessionID, err)
		return ""
	}
	if n := len(history); current != "" && n > 0 && history[n-1].Role == store.RoleUser && history[n-1].Content == current {
		history = history[:n-1]
	}
	return store.FormatTranscript(history)
}

func buildMessages(history, tag, message string) []llms.MessageContent {
	var messages []llms.MessageContent
	if strings.TrimSpace(history) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman,
			"<conversation_history>\n"+history+"\n</conversation_history>"))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman,
		fmt.Sprintf("<%s>\n%s\n</%s>", tag, message, tag)))
}

func (c *Conductor) runLoop(ctx context.Context, messages []llms.MessageContent, sessionID string) (*loopSummary, error) {
	summary := &loopSummary{}
	system := c.Prompts.ConductorPrompt()

	maxIter := c.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for iteration := 0; iteration < maxIter; iteration++ {
		resp, err := runWithTimeout(ctx, c.llmTimeout(), func(ctx context.Context) (*llms.ContentResponse, error) {
			return c.LLM.Complete(ctx, llm.Request{
				Model:    c.Model,
				System:   system,
				Messages: messages,
				Tools:    ConductorTools(),
			})
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				log.Printf("[Conductor] LLM call timed out on iteration %d", iteration)
				summary.lastAssistantText = TimeoutReply
				return summary, nil
			}
			return summary, err
		}

		choice := resp.Choices[0]
		if content := strings.TrimSpace(choice.Content); content != "" {
			summary.lastAssistantText = content
		}

		calls := parseToolCalls(choice.ToolCalls)
		messages = append(messages, assistantMessage(choice))
		if len(calls) == 0 {
			return summary, nil
		}

		for _, call := range calls {
			summary.toolNames = append(summary.toolNames, call.Name)
			if call.Name == ToolPlanAndExecute || call.Name == ToolScheduleForLater {
				summary.workersExecuted++
			}

			result := c.executeTool(ctx, call, sessionID)
			if result.UserMessage != "" {
				summary.userMessages = append(summary.userMessages, result.UserMessage)
			}
			messages = append(messages, toolMessage(call, result))
		}
	}
	return summary, ErrIterationLimit
}

func (c *Conductor) llmTimeout() time.Duration {
	if c.LLMTimeout > 0 {
		return c.LLMTimeout
	}
	return DefaultLLMTimeout
}

func (c *Conductor) toolTimeout(name string) time.Duration {
	if name == ToolPlanAndExecute {
		if c.PlanTimeout > 0 {
			return c.PlanTimeout
		}
		return DefaultPlanTimeout
	}
	if c.ToolTimeout > 0 {
		return c.ToolTimeout
	}
	return DefaultToolTimeout
}

// runWithTimeout runs fn under a deadline. The result channel is buffered
// so fn's goroutine can always finish after the caller gave up on it.
func runWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func parseToolCalls(raw []llms.ToolCall) []ToolCall {
	calls := make([]ToolCall, 0, len(raw))
	for _, tc := range raw {
		if tc.FunctionCall == nil || tc.FunctionCall.Name == "" {
			log.Printf("[Conductor] Skipping tool call without name (id %q)", tc.ID)
			continue
		}
		call := ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: map[string]any{}}
		args, problem := parseToolArguments(tc.FunctionCall.Arguments)
		if problem != "" {
			log.Printf("[Conductor] Tool call arguments invalid for %s: %s", call.Name, problem)
			call.InvalidArguments = problem
		} else {
			call.Arguments = args
		}
		calls = append(calls, call)
	}
	return calls
}

func parseToolArguments(raw string) (map[string]any, string) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, ""
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, "invalid json: " + err.Error()
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, "decoded arguments were not an object"
	}
	return m, ""
}

func assistantMessage(choice *llms.ContentChoice) llms.MessageContent {
	parts := []llms.ContentPart{llms.TextContent{Text: choice.Content}}
	for _, tc := range choice.ToolCalls {
		parts = append(parts, tc)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func toolMessage(call ToolCall, result ToolResult) llms.MessageContent {
	id := call.ID
	if id == "" {
		id = call.Name
	}
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: id,
			Name:       call.Name,
			Content:    formatToolResult(call, result),
		}},
	}
}

// formatToolResult renders the result fed back to the model.
func formatToolResult(call ToolCall, result ToolResult) string {
	status := "success"
	if !result.Success {
		status = "error"
	}
	payload := map[string]any{
		"tool":      call.Name,
		"status":    status,
		"arguments": call.Arguments,
	}
	if result.Payload != nil {
		if result.Success {
			payload["result"] = result.Payload
		} else {
			payload["error"] = result.Payload
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%#v", payload)
	}
	return string(b)
}
