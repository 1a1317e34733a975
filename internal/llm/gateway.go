package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rahul/maestro/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

// ErrNoChoices is returned when a provider answers without any choice.
var ErrNoChoices = errors.New("llm: response contained no choices")

// Request is one chat-completion call. System, when set, is sent as the
// leading system message. Zero MaxTokens and Temperature leave the
// provider defaults in place.
type Request struct {
	Model       string
	System      string
	Messages    []llms.MessageContent
	Tools       []llms.Tool
	MaxTokens   int
	Temperature float64
}

// Gateway is the single entry point every component uses to talk to a
// model. It holds no per-call state and is safe for concurrent use.
type Gateway struct {
	model        llms.Model
	defaultModel string
	logger       *observability.Logger
}

func NewGateway(model llms.Model, defaultModel string, logger *observability.Logger) *Gateway {
	return &Gateway{model: model, defaultModel: defaultModel, logger: logger}
}

// Complete sends req and returns the raw provider response. The response
// always has at least one choice when err is nil.
func (g *Gateway) Complete(ctx context.Context, req Request) (*llms.ContentResponse, error) {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, req.Messages...)

	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	var opts []llms.CallOption
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(req.Tools))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}

	resp, err := g.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	g.logger.LogLLM("", model, messages, choice.Content, choice.ToolCalls)
	if info := choice.GenerationInfo; info != nil {
		prompt, _ := info["PromptTokens"].(int)
		completion, _ := info["CompletionTokens"].(int)
		if prompt+completion > 0 {
			g.logger.LogCost("", prompt, completion, model)
		}
	}
	return resp, nil
}

// Text is Complete for callers that only want the first choice's text.
func (g *Gateway) Text(ctx context.Context, req Request) (string, error) {
	resp, err := g.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}
