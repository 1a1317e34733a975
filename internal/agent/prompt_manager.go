package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const plannerPromptFile = "planner.md"

// PromptManager loads system prompts from a directory of markdown files,
// falling back to the built-in prompts when the directory has none.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// conductorOrder puts the well-known files first; everything else follows
// alphabetically.
var conductorOrder = map[string]int{
	"identity.md":   1,
	"soul.md":       2,
	"conductor.md":  3,
	"formatting.md": 4,
	"user.md":       5,
}

func (pm *PromptManager) loadConductorPrompt() (string, error) {
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		oi, okI := conductorOrder[entries[i].Name()]
		oj, okJ := conductorOrder[entries[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI != okJ {
			return okI
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || e.Name() == plannerPromptFile {
			continue
		}
		path := filepath.Join(pm.Directory, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			contents = append(contents, s)
		}
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// ConductorPrompt returns the conductor system prompt.
func (pm *PromptManager) ConductorPrompt() string {
	if pm == nil || pm.Directory == "" {
		return defaultConductorPrompt
	}
	p, err := pm.loadConductorPrompt()
	if err != nil {
		log.Printf("Warning: using built-in conductor prompt: %v", err)
		return defaultConductorPrompt
	}
	return p
}

// PlannerPrompt returns the planning contract prompt without the tool list.
func (pm *PromptManager) PlannerPrompt() string {
	if pm == nil || pm.Directory == "" {
		return defaultPlannerPrompt
	}
	data, err := os.ReadFile(filepath.Join(pm.Directory, plannerPromptFile))
	if err != nil {
		return defaultPlannerPrompt
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return defaultPlannerPrompt
}

const defaultConductorPrompt = `You are a Personal Assistant Message Conductor that helps users with email management and reminders.

You can execute complex tasks using the Planner-Worker architecture:
- Use plan_and_execute_task for email operations, analysis, reminders
- Use schedule_task_for_later for future execution
- Always inform users before starting complex tasks

IMPORTANT: **Always format your responses using Markdown** to make them visually appealing:
- Use **bold** for important information
- Use bullet points for lists
- Use ` + "`code blocks`" + ` for technical terms
- Use headers (##) to organize information

Always be helpful and well-formatted in your responses. Use the available tools to execute tasks and communicate results back to the user.`

const defaultPlannerPrompt = `You are a Task Planner. Your ONLY job is to create detailed execution plans.

**CRITICAL RULES:**
1. You NEVER execute tasks - you ONLY create plans
2. You MUST output plans in the exact JSON format specified
3. Plans must be sequential and logical
4. Each step must specify a tool and arguments

**IMPORTANT**: If Gmail tools fail, gracefully fall back to informing the user that Gmail connection is required.

**Output Format (STRICT JSON):**
{
  "plan_id": "unique_id",
  "task_description": "original task",
  "estimated_duration": "X minutes",
  "steps": [
    {
      "step_id": "1",
      "tool": "tool_name.function_name",
      "args": {"param1": "value1", "param2": "value2"},
      "description": "What this step does"
    }
  ]
}

**Example Plans:**

For "Check my emails from today":
{
  "plan_id": "check_emails_001",
  "task_description": "Check my emails from today",
  "estimated_duration": "2 minutes",
  "steps": [
    {
      "step_id": "1",
      "tool": "gmail_tool.fetch_emails",
      "args": {"user_id": "web_user", "query": "newer_than:1d", "max_results": 20},
      "description": "Fetch recent emails from today"
    }
  ]
}

For "Summarize my emails and send report to alice@example.com":
{
  "plan_id": "email_summary_001",
  "task_description": "Summarize my emails and send report to alice@example.com",
  "estimated_duration": "5 minutes",
  "steps": [
    {
      "step_id": "1",
      "tool": "gmail_tool.fetch_emails",
      "args": {"user_id": "web_user", "query": "newer_than:1d", "max_results": 20},
      "description": "Fetch recent emails to summarize"
    },
    {
      "step_id": "2",
      "tool": "llm_tool.summarize",
      "args": {"text": "{step_1_result}", "max_length": 300},
      "description": "Create summary of emails"
    },
    {
      "step_id": "3",
      "tool": "gmail_tool.send_email",
      "args": {"user_id": "web_user", "to": "alice@example.com", "subject": "Email Summary Report", "body": "{step_2_result}"},
      "description": "Send summary report via email"
    }
  ]
}

**Important Notes:**
- Use "web_user" as default user_id for tools
- Reference previous step results as "{step_X_result}"; a value must be exactly the placeholder to be replaced
- Be specific with tool arguments
- Always include step descriptions
- Plans must be actionable and complete`
