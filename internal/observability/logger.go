package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeMessage     EventType = "message"
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolResult  EventType = "tool_result"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeCost        EventType = "cost"
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeDecision    EventType = "decision"
	EventTypeSchedule    EventType = "schedule"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	PlanID    string    `json:"plan_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger writes one JSON event per line. LLM exchanges are additionally
// appended to a rotating llm.jsonl file. A nil *Logger discards everything.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewLoggerTo returns a Logger writing events to w. An empty llmLogPath
// disables the LLM transcript file.
func NewLoggerTo(w io.Writer, llmLogPath string) *Logger {
	return &Logger{out: w, llmLogPath: llmLogPath, maxSize: 10 * 1024 * 1024}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": \"failed to marshal event: %v\"}", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

// keeps a single .old generation
func (l *Logger) rotateLogs() {
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogMessage(sessionID, role, content string) {
	l.Log(Event{
		Type:      EventTypeMessage,
		SessionID: sessionID,
		Data:      map[string]string{"role": role, "content": content},
	})
}

func (l *Logger) LogToolCall(sessionID, planID, tool string, args any) {
	l.Log(Event{
		Type:      EventTypeToolCall,
		SessionID: sessionID,
		PlanID:    planID,
		Data: map[string]any{
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogToolResult(sessionID, planID, tool string, success bool, detail string) {
	l.Log(Event{
		Type:      EventTypeToolResult,
		SessionID: sessionID,
		PlanID:    planID,
		Data: map[string]any{
			"tool":    tool,
			"success": success,
			"detail":  detail,
		},
	})
}

func (l *Logger) LogPolicy(sessionID, tool string, allowed bool, reason string) {
	l.Log(Event{
		Type:      EventTypePolicyCheck,
		SessionID: sessionID,
		Data: map[string]any{
			"tool":    tool,
			"allowed": allowed,
			"reason":  reason,
		},
	})
}

func (l *Logger) LogPlan(sessionID, planID, task string, steps int) {
	l.Log(Event{
		Type:      EventTypePlan,
		SessionID: sessionID,
		PlanID:    planID,
		Data: map[string]any{
			"task":  task,
			"steps": steps,
		},
	})
}

func (l *Logger) LogStep(planID, stepID, tool string, attempt int, success bool, errMsg string) {
	l.Log(Event{
		Type:   EventTypeStep,
		PlanID: planID,
		Data: map[string]any{
			"step_id": stepID,
			"tool":    tool,
			"attempt": attempt,
			"success": success,
			"error":   errMsg,
		},
	})
}

func (l *Logger) LogDecision(planID, stepID, decision string) {
	l.Log(Event{
		Type:   EventTypeDecision,
		PlanID: planID,
		Data:   map[string]string{"step_id": stepID, "decision": decision},
	})
}

func (l *Logger) LogSchedule(sessionID, reminderID, action, detail string) {
	l.Log(Event{
		Type:      EventTypeSchedule,
		SessionID: sessionID,
		Data: map[string]string{
			"reminder_id": reminderID,
			"action":      action,
			"detail":      detail,
		},
	})
}

func (l *Logger) LogCost(sessionID string, promptTokens, completionTokens int, model string) {
	l.Log(Event{
		Type:      EventTypeCost,
		SessionID: sessionID,
		Data: map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
			"model":             model,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(sessionID, model string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Data: map[string]any{
			"model":      model,
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
