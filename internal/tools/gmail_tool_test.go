package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/rahul/maestro/internal/gmail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	connected map[string]string
	query     string
	max       int
	sent      gmail.OutgoingEmail
}

func (f *fakeMailbox) Connect(_ context.Context, userID string) (string, error) {
	id, ok := f.connected[userID]
	if !ok {
		return "", fmt.Errorf("%w for user %s", gmail.ErrNoAccount, userID)
	}
	return id, nil
}

func (f *fakeMailbox) SearchEmails(_ context.Context, _ string, query string, max int) ([]gmail.Email, error) {
	f.query, f.max = query, max
	return []gmail.Email{{ID: "m1", Subject: "Hi"}}, nil
}

func (f *fakeMailbox) RecentUnread(_ context.Context, _ string, hours int) ([]gmail.Email, error) {
	f.max = hours
	return nil, nil
}

func (f *fakeMailbox) SendEmail(_ context.Context, _ string, e gmail.OutgoingEmail) (map[string]any, error) {
	f.sent = e
	return map[string]any{"id": "sent-1"}, nil
}

func (f *fakeMailbox) GetProfile(context.Context, string) (map[string]any, error) {
	return map[string]any{"emailAddress": "me@example.com"}, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, _ string, id string) (gmail.Email, error) {
	return gmail.Email{ID: id}, nil
}

type mapSessions map[string]string

func (m mapSessions) Resolve(userID string) string {
	if s, ok := m[userID]; ok {
		return s
	}
	return userID
}

func gmailRegistry(t *testing.T, mb *fakeMailbox) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.RegisterCategory("gmail_tool", NewGmailTools(mb, mapSessions{"web_user": "web-42"}).Functions()))
	return r
}

func TestGmailTools_FetchDefaultsToInbox(t *testing.T) {
	mb := &fakeMailbox{connected: map[string]string{"web-42": "acct"}}
	r := gmailRegistry(t, mb)

	out, err := r.Call(context.Background(), "gmail_tool.fetch_emails", map[string]any{"user_id": "web_user"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, "in:inbox", mb.query)
	assert.Equal(t, 10, mb.max)

	_, err = r.Call(context.Background(), "gmail_tool.search_emails", map[string]any{"user_id": "web_user", "query": "from:bob"})
	require.NoError(t, err)
	assert.Equal(t, 20, mb.max)
}

func TestGmailTools_SendEmailBindsLists(t *testing.T) {
	mb := &fakeMailbox{connected: map[string]string{"web-42": "acct"}}
	r := gmailRegistry(t, mb)

	_, err := r.Call(context.Background(), "gmail_tool.send_email", map[string]any{
		"user_id": "web_user",
		"to":      "bob@example.com",
		"subject": "Report",
		"body":    "see attached",
		"cc":      []any{"carol@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, gmail.OutgoingEmail{To: "bob@example.com", Subject: "Report", Body: "see attached", Cc: []string{"carol@example.com"}}, mb.sent)
}

func TestGmailTools_ConnectionErrorKeepsMarker(t *testing.T) {
	mb := &fakeMailbox{connected: map[string]string{}}
	r := gmailRegistry(t, mb)

	_, err := r.Call(context.Background(), "gmail_tool.get_profile", map[string]any{"user_id": "web_user"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gmail.ErrNoAccount)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "No connected account found")
	assert.Contains(t, err.Error(), "resolved to web-42")
}
