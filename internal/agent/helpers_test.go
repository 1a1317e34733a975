package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rahul/maestro/internal/llm"
	"github.com/rahul/maestro/internal/store"
	"github.com/rahul/maestro/internal/tools"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// reply is one scripted model turn. A nil resp with a nil err means
// "block until the context is done".
type reply struct {
	resp *llms.ContentResponse
	err  error
}

// scriptedModel answers GenerateContent calls from a fixed script and
// records every call. Once the script runs out it answers with fallback.
type scriptedModel struct {
	mu       sync.Mutex
	script   []reply
	fallback *reply
	calls    [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	var r reply
	switch {
	case len(m.script) > 0:
		r, m.script = m.script[0], m.script[1:]
	case m.fallback != nil:
		r = *m.fallback
	default:
		r = reply{err: errors.New("script exhausted")}
	}
	m.mu.Unlock()

	if r.resp == nil && r.err == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.resp, r.err
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) call(i int) []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

func gateway(m *scriptedModel) *llm.Gateway {
	return llm.NewGateway(m, "test/model", nil)
}

func say(s string) reply {
	return reply{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}}
}

func block() reply { return reply{} }

func toolCalls(calls ...llms.ToolCall) reply {
	return reply{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: calls}}}}
}

func fnCall(id, name string, args any) llms.ToolCall {
	raw, ok := args.(string)
	if !ok {
		b, _ := json.Marshal(args)
		raw = string(b)
	}
	return llms.ToolCall{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: raw}}
}

func planJSON(t *testing.T, plan ExecutionPlan) reply {
	t.Helper()
	b, err := json.Marshal(plan)
	require.NoError(t, err)
	return say("Here is the plan:\n" + string(b))
}

func openDB(t *testing.T) *store.ConversationStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewConversationStore(db)
}

// recordingTools is a registry with a mail category whose fetch handler
// is supplied by the test, plus an echo tool.
type recordingTools struct {
	*tools.Registry
	mu    sync.Mutex
	calls []string
}

func (r *recordingTools) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
	return r.Registry.Call(ctx, name, args)
}

func newTools(t *testing.T, fetch tools.Handler) *recordingTools {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.RegisterCategory("gmail_tool", []tools.Function{{
		Name:        "fetch_emails",
		Description: "Fetch emails",
		Params: []tools.Param{
			{Name: "user_id", Type: "string", Required: true},
			{Name: "query", Type: "string"},
			{Name: "max_results", Type: "integer", Default: 10},
		},
		Handler: fetch,
	}}))
	require.NoError(t, reg.RegisterCategory("demo", []tools.Function{
		{
			Name:   "echo",
			Params: []tools.Param{{Name: "text", Type: "string", Required: true}},
			Handler: func(_ context.Context, a tools.Args) (any, error) {
				return "echo:" + a.String("text"), nil
			},
		},
		{
			Name: "fail",
			Handler: func(context.Context, tools.Args) (any, error) {
				return nil, errors.New("boom")
			},
		},
	}))
	return &recordingTools{Registry: reg}
}

func (r *recordingTools) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type sentMessage struct{ chatID, text string }

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) Send(chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{chatID, text})
	return nil
}
