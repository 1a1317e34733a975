package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/maestro/internal/governance"
	"github.com/rahul/maestro/internal/llm"
	"github.com/rahul/maestro/internal/observability"
	"github.com/rahul/maestro/internal/store"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultMaxRetries        = 3
	DefaultMaxExecutionSteps = 20
)

// ToolCaller runs a qualified registry tool.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (any, error)
}

// Worker executes plans step by step against the tool registry.
type Worker struct {
	Tools      ToolCaller
	LLM        ChatModel
	Model      string
	Policy     governance.PolicyEngine
	Logger     *observability.Logger
	MaxRetries int
	MaxSteps   int
}

func NewWorker(tools ToolCaller, model ChatModel, modelName string, policy governance.PolicyEngine, logger *observability.Logger) *Worker {
	return &Worker{
		Tools:      tools,
		LLM:        model,
		Model:      modelName,
		Policy:     policy,
		Logger:     logger,
		MaxRetries: DefaultMaxRetries,
		MaxSteps:   DefaultMaxExecutionSteps,
	}
}

// isGmailConnectionError matches the errors no retry or decision can fix.
func isGmailConnectionError(msg string) bool {
	return strings.Contains(msg, "Gmail not connected") || strings.Contains(msg, "No connected account found")
}

// ExecutePlan runs plan with vars as the shared placeholder context. It
// never panics or returns nil.
func (w *Worker) ExecutePlan(ctx context.Context, plan *ExecutionPlan, vars map[string]any) (res *WorkerResult) {
	if plan == nil {
		return &WorkerResult{FinalResult: "Execution failed: no plan", Error: "no plan"}
	}
	var execLog []LogEntry
	succeeded := 0
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] Plan %s crashed: %v", plan.PlanID, r)
			res = &WorkerResult{
				FinalResult:   fmt.Sprintf("Execution failed: %v", r),
				StepsExecuted: succeeded,
				ExecutionLog:  execLog,
				Error:         fmt.Sprint(r),
			}
		}
	}()

	shared := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		shared[k] = v
	}
	if _, ok := shared["user_id"]; !ok {
		shared["user_id"] = store.DefaultSession
	}
	session := sessionOf(shared)
	results := map[string]any{}

	log.Printf("[Worker] Starting plan %s with %d steps", plan.PlanID, len(plan.Steps))

	for i, step := range plan.Steps {
		if i >= w.maxSteps() {
			msg := fmt.Sprintf("exceeded maximum execution steps (%d)", w.maxSteps())
			return &WorkerResult{
				FinalResult:   "Execution failed: " + msg,
				StepsExecuted: succeeded,
				ExecutionLog:  execLog,
				Error:         msg,
			}
		}
		observability.SetStatus(observability.RoleWorker, fmt.Sprintf("step %d/%d: %s", i+1, len(plan.Steps), step.Tool))

		args := resolveArgs(step.Args, results, shared)
		sr := w.executeStep(ctx, plan.PlanID, session, step, args)

		entry := LogEntry{StepID: step.StepID, Tool: step.Tool, Args: args, Success: sr.Success, RetryCount: sr.RetryCount}
		if sr.Success {
			entry.Result = sr.Result
			results[stepResultKey(step.StepID)] = sr.Result
			execLog = append(execLog, entry)
			succeeded++
			continue
		}

		entry.Error = sr.Error
		execLog = append(execLog, entry)
		log.Printf("[Worker] Step %d (%s) failed: %s", i+1, step.StepID, sr.Error)

		if w.shouldContinue(ctx, plan, step, sr.Error, results, i) {
			continue
		}

		log.Printf("[Worker] Aborting plan %s after step %d", plan.PlanID, i+1)
		var final string
		if isGmailConnectionError(sr.Error) {
			final = fmt.Sprintf("📧 **Gmail Connection Required**\n\nI tried to %s, but your Gmail account isn't connected yet.\n\n"+
				"**To connect Gmail:**\n1. Use the Gmail settings in the interface\n2. Follow the connection process\n3. Try your request again\n\n*Task: %s*",
				strings.ToLower(step.Description), plan.TaskDescription)
		} else {
			final = fmt.Sprintf("❌ **Task Failed**\n\n%s\n\nSteps completed: %d/%d", sr.Error, succeeded, len(plan.Steps))
		}
		return &WorkerResult{
			FinalResult:   final,
			StepsExecuted: succeeded,
			ExecutionLog:  execLog,
			Error:         sr.Error,
		}
	}

	final := w.summarize(ctx, plan, results, execLog)
	log.Printf("[Worker] Completed plan %s: %d/%d steps succeeded", plan.PlanID, succeeded, len(plan.Steps))
	return &WorkerResult{
		Success:       true,
		FinalResult:   final,
		StepsExecuted: succeeded,
		ExecutionLog:  execLog,
	}
}

func (w *Worker) maxSteps() int {
	if w.MaxSteps > 0 {
		return w.MaxSteps
	}
	return DefaultMaxExecutionSteps
}

func (w *Worker) maxRetries() int {
	if w.MaxRetries > 0 {
		return w.MaxRetries
	}
	return DefaultMaxRetries
}

// resolveArgs replaces values that are exactly "{key}" with the step result
// or context value named key. Unknown keys stay literal.
func resolveArgs(args, results, shared map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		s, ok := v.(string)
		if !ok || len(s) < 2 || !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
			out[k] = v
			continue
		}
		key := s[1 : len(s)-1]
		if r, ok := results[key]; ok {
			out[k] = r
		} else if c, ok := shared[key]; ok {
			out[k] = c
		} else {
			log.Printf("[Worker] Warning: could not resolve placeholder: %s", key)
			out[k] = v
		}
	}
	return out
}

// executeStep calls the tool up to maxRetries times with identical
// arguments. A policy denial counts as a failed attempt.
func (w *Worker) executeStep(ctx context.Context, planID, session string, step PlanStep, args map[string]any) StepResult {
	var lastErr error
	for attempt := 0; attempt < w.maxRetries(); attempt++ {
		w.Logger.LogToolCall(session, planID, step.Tool, args)

		result, err := w.call(ctx, session, planID, step.Tool, args)
		if err == nil {
			w.Logger.LogStep(planID, step.StepID, step.Tool, attempt+1, true, "")
			return StepResult{Success: true, Result: result, RetryCount: attempt}
		}

		lastErr = err
		w.Logger.LogStep(planID, step.StepID, step.Tool, attempt+1, false, err.Error())
		log.Printf("[Worker] Step %s failed on attempt %d: %v", step.StepID, attempt+1, err)
		if ctx.Err() != nil {
			return StepResult{Error: err.Error(), RetryCount: attempt + 1}
		}
	}
	return StepResult{Error: lastErr.Error(), RetryCount: w.maxRetries()}
}

func (w *Worker) call(ctx context.Context, session, planID, tool string, args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args))
	}
	res, err := governance.Check(ctx, w.Policy, governance.Request{Tool: tool, Arguments: string(raw), SessionID: session, PlanID: planID})
	if w.Policy != nil {
		w.Logger.LogPolicy(session, tool, err == nil, res.Reason)
	}
	if err != nil {
		return nil, err
	}
	return w.Tools.Call(ctx, tool, args)
}

const decisionPrompt = `You are a Task Worker deciding whether to continue executing a plan after a step failed.

Consider:
1. Is the error recoverable?
2. Can remaining steps still be useful?
3. Is the overall task still achievable?

Respond with exactly "CONTINUE" or "ABORT" followed by a brief reason.`

// shouldContinue asks the model whether to go on after a failed step.
// Gmail connection errors abort without asking; any failure to get an
// answer aborts too.
func (w *Worker) shouldContinue(ctx context.Context, plan *ExecutionPlan, step PlanStep, errMsg string, results map[string]any, index int) bool {
	if isGmailConnectionError(errMsg) {
		log.Printf("[Worker] Gmail connection error detected, aborting")
		w.Logger.LogDecision(plan.PlanID, step.StepID, "ABORT")
		return false
	}

	soFar, err := json.Marshal(results)
	if err != nil {
		soFar = []byte(fmt.Sprintf("%v", results))
	}
	user := fmt.Sprintf("Plan: %s\n\nFailed Step: %s - %s\nError: %s\n\nRemaining Steps: %d\nStep Results So Far: %s\n\nShould I continue or abort?",
		plan.TaskDescription, step.StepID, step.Description, errMsg, len(plan.Steps)-index-1, soFar)

	content, err := w.LLM.Text(ctx, llm.Request{
		Model:    w.Model,
		System:   decisionPrompt,
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, user)},
	})
	if err != nil {
		log.Printf("[Worker] Failed to make error recovery decision: %v", err)
		w.Logger.LogDecision(plan.PlanID, step.StepID, "ABORT")
		return false
	}

	cont := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(content)), "CONTINUE")
	decision := "ABORT"
	if cont {
		decision = "CONTINUE"
	}
	log.Printf("[Worker] Error recovery decision: %s", decision)
	w.Logger.LogDecision(plan.PlanID, step.StepID, decision)
	return cont
}

const summaryPrompt = `You are a Task Worker summarizing the results of a completed execution plan.

Create a clear, helpful summary that:
1. Confirms what was accomplished
2. Highlights key results
3. Uses markdown formatting for readability
4. Is user-friendly and informative

Focus on what the user cares about, not technical details.`

func (w *Worker) summarize(ctx context.Context, plan *ExecutionPlan, results map[string]any, execLog []LogEntry) string {
	ok := 0
	for _, e := range execLog {
		if e.Success {
			ok++
		}
	}
	fallback := fmt.Sprintf("✅ **Task Completed**\n\nSuccessfully executed %d out of %d steps for: %s", ok, len(execLog), plan.TaskDescription)

	body, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprintf("%v", results))
	}
	user := fmt.Sprintf("Original Task: %s\n\nStep Results:\n%s\n\nExecution Summary:\n- Total steps: %d\n- Successful steps: %d\n- Failed steps: %d\n\nPlease provide a user-friendly summary of what was accomplished.",
		plan.TaskDescription, body, len(execLog), ok, len(execLog)-ok)

	content, err := w.LLM.Text(ctx, llm.Request{
		Model:    w.Model,
		System:   summaryPrompt,
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, user)},
	})
	if err != nil {
		log.Printf("[Worker] Failed to generate final result: %v", err)
		return fallback
	}
	if strings.TrimSpace(content) == "" {
		return fallback
	}
	return content
}
