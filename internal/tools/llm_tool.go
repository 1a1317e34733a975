package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/maestro/internal/llm"
	"github.com/tmc/langchaingo/llms"
)

// Completer is the slice of the LLM gateway the text tools need.
type Completer interface {
	Text(ctx context.Context, req llm.Request) (string, error)
}

// TextTools implements the llm_tool category on top of the gateway.
type TextTools struct {
	LLM   Completer
	Model string
}

func NewTextTools(c Completer, model string) *TextTools {
	return &TextTools{LLM: c, Model: model}
}

var errEmptyResponse = errors.New("empty response from LLM")

func (t *TextTools) ask(ctx context.Context, system, user string) (string, error) {
	content, err := t.LLM.Text(ctx, llm.Request{
		Model:    t.Model,
		System:   system,
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, user)},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errEmptyResponse
	}
	return content, nil
}

func (t *TextTools) Summarize(ctx context.Context, text string, maxLength int) (string, error) {
	system := fmt.Sprintf(`You are a text summarizer. Create a clear, concise summary of the provided text.

Requirements:
- Maximum length: %d characters
- Capture key points and important information
- Use clear, readable language
- Format with markdown if helpful for readability`, maxLength)

	content, err := t.ask(ctx, system, "Please summarize this text:\n\n"+text)
	if err != nil {
		return "", fmt.Errorf("text summarization failed: %w", err)
	}
	if r := []rune(content); maxLength > 3 && len(r) > maxLength {
		content = string(r[:maxLength-3]) + "..."
	}
	return content, nil
}

func (t *TextTools) Analyze(ctx context.Context, text, task string) (string, error) {
	system := fmt.Sprintf(`You are a text analyzer. Analyze the provided text according to the specific task requested.

Task: %s

Provide a clear, helpful analysis that directly addresses the task. Use markdown formatting for better readability.`, task)

	content, err := t.ask(ctx, system, "Please analyze this text:\n\n"+text)
	if err != nil {
		return "", fmt.Errorf("text analysis failed: %w", err)
	}
	return content, nil
}

type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify asks for a JSON verdict. An unusable answer falls back to the
// first category named in the text (confidence 0.5), then to the first
// category overall (confidence 0.1).
func (t *TextTools) Classify(ctx context.Context, text string, categories []string) (Classification, error) {
	system := fmt.Sprintf(`You are a text classifier. Classify the provided text into one of these categories: %s

Respond with JSON in this format:
{
  "category": "selected_category",
  "confidence": 0.95,
  "reasoning": "brief explanation"
}

The category must be exactly one of the provided options.`, strings.Join(categories, ", "))

	content, err := t.ask(ctx, system, "Please classify this text:\n\n"+text)
	if err != nil {
		return Classification{}, fmt.Errorf("text classification failed: %w", err)
	}

	var c Classification
	if err := llm.DecodeJSON(content, &c); err == nil && contains(categories, c.Category) {
		return c, nil
	} else if err != nil {
		log.Printf("failed to parse classification JSON: %v", err)
	}

	lower := strings.ToLower(content)
	for _, cat := range categories {
		if strings.Contains(lower, strings.ToLower(cat)) {
			return Classification{Category: cat, Confidence: 0.5, Reasoning: "Fallback classification based on keyword match"}, nil
		}
	}

	fallback := "unknown"
	if len(categories) > 0 {
		fallback = categories[0]
	}
	return Classification{Category: fallback, Confidence: 0.1, Reasoning: "Classification failed, using default category"}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ExtractInformation returns one value per field; fields the model could
// not find, or every field when the answer is not JSON, are "not_found".
func (t *TextTools) ExtractInformation(ctx context.Context, text string, fields []string) (map[string]any, error) {
	system := fmt.Sprintf(`You are an information extractor. Extract the following fields from the provided text: %s

Respond with JSON in this format:
{
  "field1": "extracted_value_or_not_found",
  "field2": "extracted_value_or_not_found"
}

If a field cannot be found, use "not_found" as the value.`, strings.Join(fields, ", "))

	content, err := t.ask(ctx, system, "Please extract information from this text:\n\n"+text)
	if err != nil {
		return nil, fmt.Errorf("information extraction failed: %w", err)
	}

	out := map[string]any{}
	if err := llm.DecodeJSON(content, &out); err != nil {
		log.Printf("failed to parse extraction JSON: %v", err)
		out = map[string]any{}
		for _, f := range fields {
			out[f] = "not_found"
		}
	}
	return out, nil
}

func (t *TextTools) GenerateResponse(ctx context.Context, prompt, background string) (string, error) {
	system := `You are a helpful assistant. Provide a clear, useful response to the user's prompt.

Use markdown formatting for better readability when appropriate.`

	user := prompt
	if background != "" {
		user = fmt.Sprintf("Context: %s\n\nRequest: %s", background, prompt)
	}
	content, err := t.ask(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("response generation failed: %w", err)
	}
	return content, nil
}

// Functions returns the llm_tool category.
func (t *TextTools) Functions() []Function {
	return []Function{
		{
			Name:        "summarize",
			Description: "Summarize text to at most max_length characters",
			Params: []Param{
				{Name: "text", Description: "Text to summarize", Required: true},
				{Name: "max_length", Type: "integer", Default: 200},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return t.Summarize(ctx, a.String("text"), a.Int("max_length"))
			},
		},
		{
			Name:        "analyze",
			Description: "Analyze text for a specific task",
			Params: []Param{
				{Name: "text", Description: "Text to analyze", Required: true},
				{Name: "task", Type: "string", Description: "What to analyze for", Required: true},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return t.Analyze(ctx, a.String("text"), a.String("task"))
			},
		},
		{
			Name:        "classify",
			Description: "Classify text into one of the given categories",
			Params: []Param{
				{Name: "text", Required: true},
				{Name: "categories", Type: "array", Required: true},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return t.Classify(ctx, a.String("text"), a.StringSlice("categories"))
			},
		},
		{
			Name:        "extract_information",
			Description: "Extract named fields from text",
			Params: []Param{
				{Name: "text", Required: true},
				{Name: "fields", Type: "array", Required: true},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return t.ExtractInformation(ctx, a.String("text"), a.StringSlice("fields"))
			},
		},
		{
			Name:        "generate_response",
			Description: "Generate a response to a prompt, optionally with context",
			Params: []Param{
				{Name: "prompt", Required: true},
				{Name: "context", Default: ""},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return t.GenerateResponse(ctx, a.String("prompt"), a.String("context"))
			},
		},
	}
}
