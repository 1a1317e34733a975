package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine, err := NewPolicyEngine([]string{"gmail_tool.send_email", "scheduler_tool.*"}, []string{`@competitor\.com`})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want Effect
	}{
		{"allowed by default", Request{Tool: "llm_tool.summarize"}, EffectAllow},
		{"denied tool", Request{Tool: "gmail_tool.send_email"}, EffectDeny},
		{"sibling still allowed", Request{Tool: "gmail_tool.fetch_emails"}, EffectAllow},
		{"denied category", Request{Tool: "scheduler_tool.cancel_task"}, EffectDeny},
		{"denied arguments", Request{Tool: "llm_tool.analyze", Arguments: `{"text":"mail bob@competitor.com"}`}, EffectDeny},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.Evaluate(ctx, tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Effect)
		})
	}
}

func TestNewPolicyEngine_BadPattern(t *testing.T) {
	_, err := NewPolicyEngine(nil, []string{"("})
	assert.ErrorContains(t, err, `invalid denied pattern "("`)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	_, err := Check(ctx, nil, Request{Tool: "anything"})
	assert.NoError(t, err)

	engine := NewDefaultPolicyEngine()
	engine.DenyTool("gmail_tool.send_email")
	_, err = Check(ctx, engine, Request{Tool: "gmail_tool.send_email"})
	assert.ErrorIs(t, err, ErrDenied)
	assert.EqualError(t, err, "denied by policy: Tool 'gmail_tool.send_email' is restricted by system policy")
}
