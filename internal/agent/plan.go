package agent

import (
	"context"

	"github.com/rahul/maestro/internal/llm"
	"github.com/tmc/langchaingo/llms"
)

// ChatModel is the gateway surface the agents use. *llm.Gateway
// implements it.
type ChatModel interface {
	Complete(ctx context.Context, req llm.Request) (*llms.ContentResponse, error)
	Text(ctx context.Context, req llm.Request) (string, error)
}

// PlanStep is one tool invocation of a plan. Args values that are exactly
// "{key}" are resolved at execution time.
type PlanStep struct {
	StepID      string         `json:"step_id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
}

type ExecutionPlan struct {
	PlanID            string     `json:"plan_id"`
	TaskDescription   string     `json:"task_description"`
	Steps             []PlanStep `json:"steps"`
	EstimatedDuration string     `json:"estimated_duration,omitempty"`
}

// StepResult is the outcome of one step after retries.
type StepResult struct {
	Success    bool
	Result     any
	Error      string
	RetryCount int
}

// LogEntry records one executed step.
type LogEntry struct {
	StepID     string         `json:"step_id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Success    bool           `json:"success"`
	RetryCount int            `json:"retry_count"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// WorkerResult is what ExecutePlan hands back. StepsExecuted counts the
// steps that succeeded.
type WorkerResult struct {
	Success       bool       `json:"success"`
	FinalResult   string     `json:"final_result"`
	StepsExecuted int        `json:"steps_executed"`
	ExecutionLog  []LogEntry `json:"execution_log"`
	Error         string     `json:"error,omitempty"`
}

func stepResultKey(stepID string) string {
	return "step_" + stepID + "_result"
}
