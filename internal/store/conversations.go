package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConversationStore persists the per-session chat transcript.
type ConversationStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{DB: db, Now: time.Now}
}

func (s *ConversationStore) add(sessionID, role, content string) error {
	query := `INSERT INTO conversations (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`
	_, err := s.DB.Exec(query, sessionID, role, content, formatTime(s.Now()))
	if err != nil {
		return fmt.Errorf("failed to record %s message: %w", role, err)
	}
	return nil
}

func (s *ConversationStore) RecordUserMessage(sessionID, content string) error {
	return s.add(sessionID, RoleUser, content)
}

func (s *ConversationStore) RecordAssistantMessage(sessionID, content string) error {
	return s.add(sessionID, RoleAssistant, content)
}

// RecordSpecialistMessage stores a message produced by a background
// component, prefixed with its name in brackets.
func (s *ConversationStore) RecordSpecialistMessage(sessionID, specialist, content string) error {
	return s.add(sessionID, RoleSpecialist, fmt.Sprintf("[%s] %s", specialist, content))
}

// GetHistory returns the latest limit messages in chronological order.
func (s *ConversationStore) GetHistory(sessionID string, limit int) ([]ChatMessage, error) {
	query := `SELECT id, role, content, timestamp FROM conversations WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.Query(query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var ts string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.SessionID = sessionID
		m.Timestamp = parseTime(ts)
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// GetTranscript renders history as tagged lines for the conductor prompt.
func (s *ConversationStore) GetTranscript(sessionID string, limit int) (string, error) {
	history, err := s.GetHistory(sessionID, limit)
	if err != nil {
		return "", err
	}
	return FormatTranscript(history), nil
}

func FormatTranscript(history []ChatMessage) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		ts := ""
		if !m.Timestamp.IsZero() {
			ts = " (" + m.Timestamp.UTC().Format("2006-01-02 15:04:05") + ")"
		}
		switch m.Role {
		case RoleUser:
			lines = append(lines, "<user_message>"+m.Content+"</user_message>"+ts)
		case RoleAssistant:
			lines = append(lines, "<conductor_reply>"+m.Content+"</conductor_reply>"+ts)
		case RoleSpecialist:
			lines = append(lines, "<specialist_message>"+m.Content+"</specialist_message>"+ts)
		}
	}
	return strings.Join(lines, "\n")
}

// Since returns messages strictly newer than t, oldest first, looking at
// no more than the latest limit entries.
func (s *ConversationStore) Since(sessionID string, t time.Time, limit int) ([]ChatMessage, error) {
	history, err := s.GetHistory(sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := history[:0]
	for _, m := range history {
		if m.Timestamp.After(t) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *ConversationStore) Clear(sessionID string) error {
	_, err := s.DB.Exec(`DELETE FROM conversations WHERE session_id = ?`, sessionID)
	return err
}

func (s *ConversationStore) Count(sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM conversations WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// MostRecentSession returns the session with the newest message whose id
// starts with prefix, or "" when there is none.
func (s *ConversationStore) MostRecentSession(prefix string) (string, error) {
	var id string
	err := s.DB.QueryRow(
		`SELECT session_id FROM conversations WHERE session_id LIKE ? ORDER BY id DESC LIMIT 1`,
		prefix+"%",
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}
