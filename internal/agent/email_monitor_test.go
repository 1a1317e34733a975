package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rahul/maestro/internal/gmail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	account    string
	connectErr error
	unread     []gmail.Email
	gotAccount string
	gotHours   int
}

func (f *fakeMailbox) Connect(_ context.Context, userID string) (string, error) {
	if f.connectErr != nil {
		return "", f.connectErr
	}
	return f.account, nil
}

func (f *fakeMailbox) RecentUnread(_ context.Context, composioUserID string, sinceHours int) ([]gmail.Email, error) {
	f.gotAccount, f.gotHours = composioUserID, sinceHours
	return f.unread, nil
}

type staticSessions map[string]string

func (s staticSessions) Resolve(userID string) string {
	if v, ok := s[userID]; ok {
		return v
	}
	return userID
}

func newMonitor(t *testing.T, mail *fakeMailbox) (*EmailMonitor, *fakeMessenger) {
	t.Helper()
	out := &fakeMessenger{}
	m := NewEmailMonitor(mail, openDB(t), staticSessions{"web_user": "web-9"}, out, nil)
	return m, out
}

func TestEmailMonitor_AnnouncesImportantOnce(t *testing.T) {
	mail := &fakeMailbox{account: "composio-1", unread: []gmail.Email{
		{ID: "m1", From: "boss@example.com", Subject: "URGENT: budget", Snippet: "Need numbers today"},
		{ID: "m2", From: "news@example.com", Subject: "Weekly digest", Snippet: "Top stories"},
		{ID: "", From: "x@example.com", Subject: "urgent without id"},
	}}
	m, out := newMonitor(t, mail)

	assert.Equal(t, 1, m.Check(context.Background()))
	assert.Equal(t, "composio-1", mail.gotAccount)
	assert.Equal(t, 1, mail.gotHours)
	require.Len(t, out.sent, 1)
	assert.Equal(t, "web-9", out.sent[0].chatID)
	assert.Equal(t, "📧 **Important Email**\n\n**From:** boss@example.com\n**Subject:** URGENT: budget\n\n**Preview:** Need numbers today...", out.sent[0].text)

	history, err := m.Memory.GetHistory("web-9", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, out.sent[0].text, history[0].Content)

	// Same mail on the next poll is not announced again.
	assert.Zero(t, m.Check(context.Background()))
	assert.Len(t, out.sent, 1)
	assert.Equal(t, 2, m.SeenCount())
}

func TestEmailMonitor_NotConnected(t *testing.T) {
	mail := &fakeMailbox{connectErr: fmt.Errorf("%w for user web_user", gmail.ErrNoAccount)}
	m, out := newMonitor(t, mail)

	assert.Zero(t, m.Check(context.Background()))
	assert.Empty(t, out.sent)
	assert.Empty(t, mail.gotAccount)
}

func TestEmailMonitor_SeenIDsAreCapped(t *testing.T) {
	m := NewEmailMonitor(&fakeMailbox{}, nil, nil, nil, nil)
	m.MaxSeen = 4

	for i := 1; i <= 5; i++ {
		assert.True(t, m.markSeen(fmt.Sprintf("id-%d", i)))
	}
	// Exceeding the cap forgets the oldest half.
	assert.Equal(t, 3, m.SeenCount())
	assert.True(t, m.markSeen("id-1"))
	assert.False(t, m.markSeen("id-5"))
}

func TestIsImportantEmail(t *testing.T) {
	cases := []struct {
		name  string
		email gmail.Email
		vip   []string
		want  bool
	}{
		{"urgent subject", gmail.Email{Subject: "Server down ASAP"}, nil, true},
		{"meeting snippet", gmail.Email{Subject: "Hi", Snippet: "can we set up a Zoom tomorrow?"}, nil, true},
		{"action phrase", gmail.Email{Subject: "Contract", Snippet: "Approval needed by Friday"}, nil, true},
		{"vip sender", gmail.Email{From: "Ann <ann@Client.com>", Subject: "Hello"}, []string{"@client.com"}, true},
		{"keyword only in sender", gmail.Email{From: "urgent@example.com", Subject: "Newsletter"}, nil, false},
		{"plain", gmail.Email{From: "a@example.com", Subject: "Photos", Snippet: "from the trip"}, []string{" "}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsImportantEmail(tc.email, tc.vip))
		})
	}
}

func TestFormatEmailNotification_Defaults(t *testing.T) {
	text := formatEmailNotification(gmail.Email{Snippet: strings.Repeat("é", 150)})
	assert.Contains(t, text, "**From:** Unknown Sender")
	assert.Contains(t, text, "**Subject:** No Subject")
	assert.Contains(t, text, "**Preview:** "+strings.Repeat("é", 100)+"...")
	assert.NotContains(t, text, strings.Repeat("é", 101))
}

func TestEmailMonitor_StartStopsWithContext(t *testing.T) {
	mail := &fakeMailbox{connectErr: errors.New("offline")}
	m := NewEmailMonitor(mail, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	<-done
}
