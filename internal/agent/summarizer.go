package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/maestro/internal/llm"
	"github.com/rahul/maestro/internal/store"
	"github.com/tmc/langchaingo/llms"
)

const (
	summarizerName   = "ConversationSummarizer"
	summaryMarker    = "CONVERSATION_SUMMARY:"
	summaryMaxTokens = 500
)

const summarizerPrompt = `You summarize conversations between a user and their personal assistant.
Capture the user's goals, decisions made, pending tasks, and any facts worth remembering.
Be concise and use bullet points.`

// Summarizer condenses long sessions into a stored summary message.
type Summarizer struct {
	LLM       ChatModel
	Model     string
	Memory    Memory
	Threshold int
	Now       func() time.Time
}

func NewSummarizer(model ChatModel, modelName string, memory Memory, threshold int) *Summarizer {
	return &Summarizer{LLM: model, Model: modelName, Memory: memory, Threshold: threshold, Now: time.Now}
}

// MaybeSummarize stores a summary once the session reaches Threshold
// messages and none of the last Threshold messages already is one. Errors
// are logged only.
func (s *Summarizer) MaybeSummarize(ctx context.Context, sessionID string) {
	if s == nil || s.Threshold <= 0 || s.Memory == nil {
		return
	}
	count, err := s.Memory.Count(sessionID)
	if err != nil {
		log.Printf("[Summarizer] Count failed for %s: %v", sessionID, err)
		return
	}
	if count < s.Threshold {
		return
	}

	history, err := s.Memory.GetHistory(sessionID, s.Threshold)
	if err != nil {
		log.Printf("[Summarizer] History failed for %s: %v", sessionID, err)
		return
	}
	if LatestSummary(history) != "" {
		return
	}

	if _, err := s.Summarize(ctx, sessionID, history); err != nil {
		log.Printf("[Summarizer] %v", err)
	}
}

// Summarize summarizes history and records it under the session.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, history []store.ChatMessage) (string, error) {
	transcript := store.FormatTranscript(history)
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	content, err := s.LLM.Text(ctx, llm.Request{
		Model:       s.Model,
		System:      summarizerPrompt,
		Messages:    []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "Summarize this conversation:\n\n"+transcript)},
		MaxTokens:   summaryMaxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarization failed for %s: %w", sessionID, err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	summary := fmt.Sprintf("%s\n%s\n\nGenerated at: %s", summaryMarker, content, now().Format(time.RFC3339))
	if err := s.Memory.RecordSpecialistMessage(sessionID, summarizerName, summary); err != nil {
		return "", fmt.Errorf("failed to store summary for %s: %w", sessionID, err)
	}
	log.Printf("[Summarizer] Stored summary for %s (%d messages)", sessionID, len(history))
	return summary, nil
}

// LatestSummary returns the most recent stored summary in history, if any.
func LatestSummary(history []store.ChatMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == store.RoleSpecialist && strings.Contains(m.Content, summaryMarker) {
			return m.Content
		}
	}
	return ""
}
