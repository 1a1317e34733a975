package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type composioStub struct {
	accounts  string
	connected bool
	calls     []string
	lastArgs  map[string]any
	lastUser  string
}

func (s *composioStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") != "key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.URL.Path == "/api/v3/connected_accounts":
		s.calls = append(s.calls, "accounts")
		w.Write([]byte(s.accounts))
	case strings.HasPrefix(r.URL.Path, "/api/v3/tools/execute/"):
		slug := strings.TrimPrefix(r.URL.Path, "/api/v3/tools/execute/")
		s.calls = append(s.calls, slug)
		var req executeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.lastArgs = req.Arguments
		s.lastUser = req.UserID
		if !s.connected {
			w.Write([]byte(`{"successful":false,"error":"no connection","data":{}}`))
			return
		}
		switch slug {
		case SlugGetProfile:
			w.Write([]byte(`{"successful":true,"data":{"emailAddress":"me@example.com"}}`))
		case SlugFetchEmails:
			w.Write([]byte(`{"successful":true,"data":{"messages":[
				{"messageId":"m1","sender":"a@b.c","subject":"Hi","messageText":"<html><body><p>Hello &amp; welcome</p></body></html>","labelIds":["UNREAD"]}
			]}}`))
		default:
			w.Write([]byte(`{"successful":true,"data":{"id":"sent-1"}}`))
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newStubClient(t *testing.T, stub *composioStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewClient("key", WithBaseURL(srv.URL))
}

func TestClient_ConnectDiscoversAndCaches(t *testing.T) {
	stub := &composioStub{accounts: `{"items":[{"id":"ca_1","user_id":"web-123","status":"ACTIVE"}]}`, connected: true}
	c := newStubClient(t, stub)

	id, err := c.Connect(context.Background(), "web_user")
	require.NoError(t, err)
	assert.Equal(t, "web-123", id)
	assert.Equal(t, "web-123", c.Accounts.Active())

	_, err = c.Connect(context.Background(), "web_user")
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", SlugGetProfile, SlugGetProfile}, stub.calls)

	c.Disconnect()
	assert.Empty(t, c.Accounts.Active())
	_, err = c.Connect(context.Background(), "web_user")
	require.NoError(t, err)
	assert.Equal(t, "accounts", stub.calls[3])
}

func TestClient_ConnectErrors(t *testing.T) {
	stub := &composioStub{accounts: `{"items":[]}`}
	c := newStubClient(t, stub)

	_, err := c.Connect(context.Background(), "web_user")
	assert.ErrorIs(t, err, ErrNoAccount)
	assert.Contains(t, err.Error(), "No connected account found for user web_user")

	_, err = c.Connect(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "Gmail not connected for user alice", err.Error())
}

func TestClient_NotOperationalWithoutKey(t *testing.T) {
	c := NewClient("")
	_, err := c.Connect(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_SearchEmailsCleansBodies(t *testing.T) {
	stub := &composioStub{connected: true}
	c := newStubClient(t, stub)

	emails, err := c.SearchEmails(context.Background(), "alice", "in:inbox", 5)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "m1", emails[0].ID)
	assert.Equal(t, "Hello & welcome", emails[0].Body)
	assert.Equal(t, []string{"UNREAD"}, emails[0].Labels)

	assert.Equal(t, "alice", stub.lastUser)
	assert.Equal(t, "in:inbox", stub.lastArgs["query"])
	assert.Equal(t, "me", stub.lastArgs["user_id"])
	assert.EqualValues(t, 5, stub.lastArgs["max_results"])
}

func TestClient_SendEmailArguments(t *testing.T) {
	stub := &composioStub{connected: true}
	c := newStubClient(t, stub)

	_, err := c.SendEmail(context.Background(), "alice", OutgoingEmail{To: "bob@example.com", Subject: "s", Body: "b", Cc: []string{"c@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", stub.lastArgs["recipient_email"])
	assert.Equal(t, false, stub.lastArgs["is_html"])
	assert.Equal(t, []any{"c@example.com"}, stub.lastArgs["cc"])
	assert.NotContains(t, stub.lastArgs, "bcc")
}

func TestCleanBody(t *testing.T) {
	assert.Equal(t, "plain text here", CleanBody("plain   text\n\nhere"))

	long := strings.Repeat("a", maxBodyChars+10)
	assert.True(t, strings.HasSuffix(CleanBody(long), "... (truncated)"))
}

func TestAccountCache(t *testing.T) {
	var nilCache *AccountCache
	assert.Equal(t, "", nilCache.Active())

	c := NewAccountCache()
	c.Set("  web-1 ")
	assert.Equal(t, "web-1", c.Active())
	c.Clear()
	assert.Equal(t, "", c.Active())
}
