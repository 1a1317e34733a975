package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultTimeout    = 60 * time.Second
)

// ErrRateLimited is returned once every retry of a 429 answer is spent.
var ErrRateLimited = errors.New("rate limit exceeded")

// OpenRouterClient implements llms.Model against an OpenAI-compatible
// /chat/completions endpoint.
//
// Retry contract: up to MaxRetries additional attempts. A 429 waits
// BaseDelay*2^attempt, any other transport or HTTP failure waits BaseDelay.
// A body that is not JSON fails immediately.
type OpenRouterClient struct {
	baseURL string
	apiKey  string
	model   string
	referer string
	title   string
	client  *http.Client

	MaxRetries int
	BaseDelay  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

var _ llms.Model = (*OpenRouterClient)(nil)

type OpenRouterOption func(*OpenRouterClient)

func WithBaseURL(u string) OpenRouterOption {
	return func(c *OpenRouterClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) OpenRouterOption {
	return func(c *OpenRouterClient) { c.client = h }
}

// WithAppInfo sets the HTTP-Referer and X-Title attribution headers.
func WithAppInfo(referer, title string) OpenRouterOption {
	return func(c *OpenRouterClient) {
		c.referer = referer
		c.title = title
	}
}

func WithRetry(maxRetries int, baseDelay time.Duration) OpenRouterOption {
	return func(c *OpenRouterClient) {
		c.MaxRetries = maxRetries
		c.BaseDelay = baseDelay
	}
}

func NewOpenRouterClient(apiKey, model string, opts ...OpenRouterOption) *OpenRouterClient {
	c := &OpenRouterClient{
		baseURL:    DefaultOpenRouterURL,
		apiKey:     apiKey,
		model:      model,
		client:     &http.Client{Timeout: defaultTimeout},
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolCallFunc `json:"function"`
}

// Arguments is normally a JSON-encoded string, but some upstream models
// return the object itself.
type chatToolCallFunc struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateContent implements llms.Model.
func (c *OpenRouterClient) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	body, err := json.Marshal(c.buildRequest(messages, opts))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	data, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := &llms.ContentResponse{}
	for _, ch := range resp.Choices {
		choice := &llms.ContentChoice{
			Content:    ch.Message.Content,
			StopReason: ch.FinishReason,
			GenerationInfo: map[string]any{
				"PromptTokens":     resp.Usage.PromptTokens,
				"CompletionTokens": resp.Usage.CompletionTokens,
				"TotalTokens":      resp.Usage.TotalTokens,
			},
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: rawArguments(tc.Function.Arguments),
				},
			})
		}
		out.Choices = append(out.Choices, choice)
	}
	return out, nil
}

// Call implements llms.Model.
func (c *OpenRouterClient) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

func rawArguments(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil {
		return s
	}
	return string(trimmed)
}

func (c *OpenRouterClient) buildRequest(messages []llms.MessageContent, opts llms.CallOptions) chatRequest {
	req := chatRequest{
		Model:     c.model,
		Messages:  convertMessages(messages),
		MaxTokens: opts.MaxTokens,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		req.Temperature = &t
	}
	for _, t := range opts.Tools {
		if t.Function == nil {
			continue
		}
		typ := t.Type
		if typ == "" {
			typ = "function"
		}
		req.Tools = append(req.Tools, chatTool{
			Type: typ,
			Function: chatFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
		if opts.ToolChoice != nil {
			req.ToolChoice = opts.ToolChoice
		}
	}
	return req
}

func convertMessages(messages []llms.MessageContent) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		var text []string
		var calls []chatToolCall
		for _, part := range m.Parts {
			switch p := part.(type) {
			case llms.TextContent:
				text = append(text, p.Text)
			case llms.ToolCall:
				if p.FunctionCall == nil {
					continue
				}
				args := p.FunctionCall.Arguments
				if args == "" {
					args = "{}"
				}
				calls = append(calls, chatToolCall{
					ID:   p.ID,
					Type: "function",
					Function: chatToolCallFunc{
						Name:      p.FunctionCall.Name,
						Arguments: mustQuote(args),
					},
				})
			case llms.ToolCallResponse:
				out = append(out, chatMessage{
					Role:       "tool",
					Content:    p.Content,
					ToolCallID: p.ToolCallID,
					Name:       p.Name,
				})
			}
		}

		if m.Role == llms.ChatMessageTypeTool {
			continue
		}
		msg := chatMessage{Role: wireRole(m.Role), Content: strings.Join(text, "\n")}
		if m.Role == llms.ChatMessageTypeAI {
			msg.ToolCalls = calls
		}
		out = append(out, msg)
	}
	return out
}

func mustQuote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func wireRole(r llms.ChatMessageType) string {
	switch r {
	case llms.ChatMessageTypeSystem:
		return "system"
	case llms.ChatMessageTypeAI:
		return "assistant"
	case llms.ChatMessageTypeTool:
		return "tool"
	default:
		return "user"
	}
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("LLM API error %d: %s", e.code, e.body)
}

func (c *OpenRouterClient) post(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		data, err := c.do(ctx, body)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		var statusErr *httpStatusError
		rateLimited := errors.As(err, &statusErr) && statusErr.code == http.StatusTooManyRequests
		if attempt == c.MaxRetries {
			break
		}

		delay := c.BaseDelay
		if rateLimited {
			delay = c.BaseDelay * time.Duration(1<<attempt)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	var statusErr *httpStatusError
	if errors.As(lastErr, &statusErr) && statusErr.code == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w after %d retries", ErrRateLimited, c.MaxRetries)
	}
	return nil, fmt.Errorf("chat completion request failed after %d attempts: %w", c.MaxRetries+1, lastErr)
}

func (c *OpenRouterClient) do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{code: resp.StatusCode, body: string(data)}
	}
	return data, nil
}
