package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/rahul/maestro/internal/llm"
	"github.com/rahul/maestro/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

var errEmptyPlan = errors.New("empty response from planner")

// ToolCatalog documents the registry surface for the planning prompt.
type ToolCatalog interface {
	Documentation() string
}

// Planner turns a task description into an ExecutionPlan with one model
// call. It never fails: any problem yields the fallback plan.
type Planner struct {
	LLM     ChatModel
	Model   string
	Tools   ToolCatalog
	Prompts *PromptManager
	Logger  *observability.Logger
}

func NewPlanner(model ChatModel, modelName string, catalog ToolCatalog, prompts *PromptManager, logger *observability.Logger) *Planner {
	return &Planner{LLM: model, Model: modelName, Tools: catalog, Prompts: prompts, Logger: logger}
}

func (p *Planner) systemPrompt() string {
	prompt := p.Prompts.PlannerPrompt()
	if p.Tools != nil {
		prompt += "\n\n**Available Tools:**\n" + p.Tools.Documentation()
	}
	return prompt + "\n\nCreate a plan for the given task now."
}

// CreatePlan asks the model for a plan. vars is optional task context and
// is shown to the model as JSON.
func (p *Planner) CreatePlan(ctx context.Context, task string, vars map[string]any) *ExecutionPlan {
	observability.SetStatus(observability.RolePlanner, task)
	log.Printf("[Planner] Creating plan for task: %q", task)

	plan, err := p.createPlan(ctx, task, vars)
	if err != nil {
		log.Printf("[Planner] Failed to create plan for task %q: %v", task, err)
		plan = FallbackPlan(task)
	}

	p.Logger.LogPlan(sessionOf(vars), plan.PlanID, task, len(plan.Steps))
	for i, s := range plan.Steps {
		log.Printf("[Planner] Step %d: %s - %s", i+1, s.Tool, s.Description)
	}
	return plan
}

func (p *Planner) createPlan(ctx context.Context, task string, vars map[string]any) (*ExecutionPlan, error) {
	user := "Task: " + task
	if len(vars) > 0 {
		b, err := json.Marshal(vars)
		if err != nil {
			b = []byte(fmt.Sprintf("%v", vars))
		}
		user += "\nContext: " + string(b)
	}

	content, err := p.LLM.Text(ctx, llm.Request{
		Model:    p.Model,
		System:   p.systemPrompt(),
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, user)},
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyPlan
	}
	return ParsePlan(content, task)
}

// ParsePlan reads the plan JSON embedded in content. plan_id and steps are
// required; missing step fields default to empty values.
func ParsePlan(content, task string) (*ExecutionPlan, error) {
	var raw map[string]any
	if err := llm.DecodeJSON(content, &raw); err != nil {
		return nil, fmt.Errorf("invalid plan format: %w", err)
	}
	if _, ok := raw["plan_id"]; !ok {
		return nil, errors.New("invalid plan format: missing plan_id")
	}
	rawSteps, ok := raw["steps"].([]any)
	if !ok {
		return nil, errors.New("invalid plan format: missing steps")
	}

	plan := &ExecutionPlan{
		PlanID:            text(raw["plan_id"]),
		TaskDescription:   task,
		EstimatedDuration: text(raw["estimated_duration"]),
	}
	if td := text(raw["task_description"]); td != "" {
		plan.TaskDescription = td
	}
	if plan.PlanID == "" {
		plan.PlanID = planIDFor("plan", task)
	}

	for i, item := range rawSteps {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid plan format: step %d is not an object", i+1)
		}
		args, _ := m["args"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		plan.Steps = append(plan.Steps, PlanStep{
			StepID:      text(m["step_id"]),
			Tool:        text(m["tool"]),
			Args:        args,
			Description: text(m["description"]),
		})
	}
	return plan, nil
}

// text renders scalar JSON values; models sometimes emit numeric step ids.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func planIDFor(prefix, task string) string {
	return prefix + "_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(task)).String()
}

// FallbackPlan routes the raw task into a single generic analysis step.
// The same task always yields the same plan.
func FallbackPlan(task string) *ExecutionPlan {
	return &ExecutionPlan{
		PlanID:          planIDFor("fallback", task),
		TaskDescription: task,
		Steps: []PlanStep{{
			StepID:      "fallback_1",
			Tool:        "llm_tool.analyze",
			Args:        map[string]any{"text": task, "task": "process_user_request"},
			Description: "Process user request with general analysis",
		}},
		EstimatedDuration: "1 minute",
	}
}

func sessionOf(vars map[string]any) string {
	if s, ok := vars["session_id"].(string); ok {
		return s
	}
	s, _ := vars["user_id"].(string)
	return s
}
