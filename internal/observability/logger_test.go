package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "")

	l.LogPlan("s1", "p1", "check email", 2)
	l.LogStep("p1", "step_1", "gmail_tool.fetch_emails", 1, true, "")

	sc := bufio.NewScanner(&buf)
	var events []Event
	for sc.Scan() {
		var evt Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		events = append(events, evt)
	}
	require.Len(t, events, 2)
	assert.Equal(t, EventTypePlan, events[0].Type)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "p1", events[1].PlanID)
	assert.False(t, events[1].Timestamp.IsZero())
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, path)

	l.LogLLM("s1", "m", "hi", "hello", nil)
	l.LogHeartbeat()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
	assert.Contains(t, string(data), `"type":"llm"`)
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.LogMessage("s", "user", "hi")
		l.LogDecision("p", "s", "CONTINUE")
	})
}
