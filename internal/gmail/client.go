// Package gmail talks to Gmail through Composio's tool execution REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://backend.composio.dev"

// Composio tool slugs.
const (
	SlugFetchEmails      = "GMAIL_FETCH_EMAILS"
	SlugSendEmail        = "GMAIL_SEND_EMAIL"
	SlugGetProfile       = "GMAIL_GET_PROFILE"
	SlugFetchMessageByID = "GMAIL_FETCH_MESSAGE_BY_MESSAGE_ID"
)

// The worker aborts a plan on these without asking the model; their text
// is what it matches on.
var (
	ErrNoAccount    = errors.New("No connected account found")
	ErrNotConnected = errors.New("Gmail not connected")
	ErrUnavailable  = errors.New("Gmail service is not operational")
)

type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	Accounts *AccountCache
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithAccountCache(a *AccountCache) Option {
	return func(c *Client) { c.Accounts = a }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		Accounts: NewAccountCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Operational reports whether the client has credentials at all.
func (c *Client) Operational() bool {
	return c != nil && c.apiKey != ""
}

type executeRequest struct {
	UserID    string         `json:"user_id"`
	Arguments map[string]any `json:"arguments"`
}

type executeResponse struct {
	Data       json.RawMessage `json:"data"`
	Successful *bool           `json:"successful"`
	Error      any             `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("composio API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse composio response: %w", err)
	}
	return nil
}

// Execute runs a Composio tool for the given connected user. Nil argument
// values are dropped and user_id defaults to "me".
func (c *Client) Execute(ctx context.Context, slug, composioUserID string, args map[string]any) (map[string]any, error) {
	if !c.Operational() {
		return nil, ErrUnavailable
	}
	prepared := map[string]any{}
	for k, v := range args {
		if v != nil {
			prepared[k] = v
		}
	}
	if _, ok := prepared["user_id"]; !ok {
		prepared["user_id"] = "me"
	}

	var resp executeResponse
	err := c.do(ctx, http.MethodPost, "/api/v3/tools/execute/"+url.PathEscape(slug), executeRequest{
		UserID:    composioUserID,
		Arguments: prepared,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s invocation failed: %w", slug, err)
	}
	if resp.Successful != nil && !*resp.Successful {
		return nil, fmt.Errorf("%s invocation failed: %v", slug, resp.Error)
	}

	out := map[string]any{}
	if len(resp.Data) > 0 && json.Unmarshal(resp.Data, &out) != nil {
		var anyData any
		_ = json.Unmarshal(resp.Data, &anyData)
		out = map[string]any{"data": anyData}
	}
	return out, nil
}

type Account struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ConnectedAccounts lists active Gmail connections.
func (c *Client) ConnectedAccounts(ctx context.Context) ([]Account, error) {
	if !c.Operational() {
		return nil, ErrUnavailable
	}
	var resp struct {
		Items []Account `json:"items"`
		Data  []Account `json:"data"`
	}
	q := url.Values{"toolkit_slugs": {"GMAIL"}, "statuses": {"ACTIVE"}}
	if err := c.do(ctx, http.MethodGet, "/api/v3/connected_accounts?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) > 0 {
		return resp.Items, nil
	}
	return resp.Data, nil
}

// ResolveUserID maps a requested id onto a Composio user id. Ids that are
// not web session ids are used as is; otherwise the cached active account
// is used, then the first active connection is discovered and cached.
func (c *Client) ResolveUserID(ctx context.Context, requested string) string {
	if requested != "" && !strings.HasPrefix(requested, "web") {
		return requested
	}
	if id := c.Accounts.Active(); id != "" {
		return id
	}

	accounts, err := c.ConnectedAccounts(ctx)
	if err != nil {
		log.Printf("gmail auto-discovery failed: %v", err)
		return ""
	}
	for _, a := range accounts {
		if a.UserID != "" {
			c.Accounts.Set(a.UserID)
			return a.UserID
		}
	}
	return ""
}

// VerifyConnection checks that a profile can be fetched for composioUserID.
func (c *Client) VerifyConnection(ctx context.Context, composioUserID string) bool {
	if composioUserID == "" {
		return false
	}
	res, err := c.Execute(ctx, SlugGetProfile, composioUserID, nil)
	if err != nil {
		log.Printf("gmail connection verification failed for %s: %v", composioUserID, err)
		return false
	}
	return len(res) > 0
}

// Connect resolves and verifies the account behind userID. Errors wrap
// ErrNoAccount or ErrNotConnected.
func (c *Client) Connect(ctx context.Context, userID string) (string, error) {
	if !c.Operational() {
		return "", ErrUnavailable
	}
	resolved := c.ResolveUserID(ctx, userID)
	if resolved == "" {
		return "", fmt.Errorf("%w for user %s", ErrNoAccount, userID)
	}
	if !c.VerifyConnection(ctx, resolved) {
		return "", fmt.Errorf("%w for user %s", ErrNotConnected, resolved)
	}
	return resolved, nil
}

// Disconnect forgets the cached active account. The Composio connection
// itself is left in place.
func (c *Client) Disconnect() {
	c.Accounts.Clear()
}

// Email is the trimmed-down message shape handed to the model.
type Email struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"thread_id,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Date     string   `json:"date,omitempty"`
	Snippet  string   `json:"snippet,omitempty"`
	Body     string   `json:"body,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func toEmail(m map[string]any) Email {
	e := Email{
		ID:       str(m, "messageId", "message_id", "id"),
		ThreadID: str(m, "threadId", "thread_id"),
		From:     str(m, "sender", "from"),
		To:       str(m, "to", "recipient"),
		Subject:  str(m, "subject"),
		Date:     str(m, "messageTimestamp", "date"),
		Body:     CleanBody(str(m, "messageText", "body", "text")),
	}
	if p, ok := m["preview"].(map[string]any); ok {
		e.Snippet = str(p, "body")
		if e.Subject == "" {
			e.Subject = str(p, "subject")
		}
	} else {
		e.Snippet = str(m, "snippet")
	}
	if labels, ok := m["labelIds"].([]any); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok {
				e.Labels = append(e.Labels, s)
			}
		}
	}
	return e
}

func extractMessages(res map[string]any) []Email {
	var raw []any
	switch {
	case res["messages"] != nil:
		raw, _ = res["messages"].([]any)
	default:
		if d, ok := res["data"].(map[string]any); ok {
			raw, _ = d["messages"].([]any)
		} else if list, ok := res["data"].([]any); ok {
			raw = list
		}
	}
	out := make([]Email, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, toEmail(m))
		}
	}
	return out
}

// SearchEmails runs a Gmail search query for an already resolved user.
func (c *Client) SearchEmails(ctx context.Context, composioUserID, query string, maxResults int) ([]Email, error) {
	res, err := c.Execute(ctx, SlugFetchEmails, composioUserID, map[string]any{
		"query":           query,
		"max_results":     maxResults,
		"include_payload": true,
		"verbose":         true,
	})
	if err != nil {
		return nil, err
	}
	return extractMessages(res), nil
}

func (c *Client) RecentUnread(ctx context.Context, composioUserID string, sinceHours int) ([]Email, error) {
	return c.SearchEmails(ctx, composioUserID, fmt.Sprintf("is:unread newer_than:%dh", sinceHours), 20)
}

type OutgoingEmail struct {
	To      string
	Subject string
	Body    string
	Cc      []string
	Bcc     []string
	IsHTML  bool
}

func (c *Client) SendEmail(ctx context.Context, composioUserID string, e OutgoingEmail) (map[string]any, error) {
	args := map[string]any{
		"recipient_email": e.To,
		"subject":         e.Subject,
		"body":            e.Body,
		"is_html":         e.IsHTML,
	}
	if len(e.Cc) > 0 {
		args["cc"] = e.Cc
	}
	if len(e.Bcc) > 0 {
		args["bcc"] = e.Bcc
	}
	res, err := c.Execute(ctx, SlugSendEmail, composioUserID, args)
	if err != nil {
		return nil, fmt.Errorf("Gmail send failed: %w", err)
	}
	return res, nil
}

func (c *Client) GetProfile(ctx context.Context, composioUserID string) (map[string]any, error) {
	res, err := c.Execute(ctx, SlugGetProfile, composioUserID, nil)
	if err != nil {
		return nil, err
	}
	if d, ok := res["data"].(map[string]any); ok {
		return d, nil
	}
	return res, nil
}

func (c *Client) GetMessage(ctx context.Context, composioUserID, messageID string) (Email, error) {
	res, err := c.Execute(ctx, SlugFetchMessageByID, composioUserID, map[string]any{
		"message_id": messageID,
		"format":     "full",
	})
	if err != nil {
		return Email{}, err
	}
	if d, ok := res["data"].(map[string]any); ok {
		res = d
	}
	e := toEmail(res)
	if e.ID == "" {
		e.ID = messageID
	}
	return e, nil
}
