package tools

import (
	"context"
	"fmt"

	"github.com/rahul/maestro/internal/gmail"
)

// Mailbox is the Gmail surface the gmail_tool category drives.
type Mailbox interface {
	Connect(ctx context.Context, userID string) (string, error)
	SearchEmails(ctx context.Context, composioUserID, query string, maxResults int) ([]gmail.Email, error)
	RecentUnread(ctx context.Context, composioUserID string, sinceHours int) ([]gmail.Email, error)
	SendEmail(ctx context.Context, composioUserID string, e gmail.OutgoingEmail) (map[string]any, error)
	GetProfile(ctx context.Context, composioUserID string) (map[string]any, error)
	GetMessage(ctx context.Context, composioUserID, messageID string) (gmail.Email, error)
}

// SessionMapper turns the generic web_user id into a concrete session.
type SessionMapper interface {
	Resolve(userID string) string
}

type GmailTools struct {
	Mail     Mailbox
	Sessions SessionMapper
}

func NewGmailTools(mail Mailbox, sessions SessionMapper) *GmailTools {
	return &GmailTools{Mail: mail, Sessions: sessions}
}

// connect resolves the session and verifies the mail connection. The
// returned errors keep gmail's "No connected account found" and
// "Gmail not connected" texts.
func (g *GmailTools) connect(ctx context.Context, userID string) (string, error) {
	actual := userID
	if g.Sessions != nil {
		actual = g.Sessions.Resolve(userID)
	}
	id, err := g.Mail.Connect(ctx, actual)
	if err != nil {
		if actual != userID {
			return "", fmt.Errorf("%w (resolved to %s)", err, actual)
		}
		return "", err
	}
	return id, nil
}

func (g *GmailTools) FetchEmails(ctx context.Context, userID, query string, maxResults int) ([]gmail.Email, error) {
	id, err := g.connect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Gmail fetch failed: %w", err)
	}
	if query == "" {
		query = "in:inbox"
	}
	emails, err := g.Mail.SearchEmails(ctx, id, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("Gmail fetch failed: %w", err)
	}
	return emails, nil
}

func (g *GmailTools) SearchEmails(ctx context.Context, userID, query string) ([]gmail.Email, error) {
	id, err := g.connect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Gmail search failed: %w", err)
	}
	emails, err := g.Mail.SearchEmails(ctx, id, query, 20)
	if err != nil {
		return nil, fmt.Errorf("Gmail search failed: %w", err)
	}
	return emails, nil
}

func (g *GmailTools) SendEmail(ctx context.Context, userID string, e gmail.OutgoingEmail) (map[string]any, error) {
	id, err := g.connect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Gmail send failed: %w", err)
	}
	return g.Mail.SendEmail(ctx, id, e)
}

func (g *GmailTools) GetProfile(ctx context.Context, userID string) (map[string]any, error) {
	id, err := g.connect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Gmail profile retrieval failed: %w", err)
	}
	profile, err := g.Mail.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Gmail profile retrieval failed: %w", err)
	}
	return profile, nil
}

func (g *GmailTools) CheckRecentEmails(ctx context.Context, userID string, sinceHours int) ([]gmail.Email, error) {
	id, err := g.connect(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Gmail recent check failed: %w", err)
	}
	emails, err := g.Mail.RecentUnread(ctx, id, sinceHours)
	if err != nil {
		return nil, fmt.Errorf("Gmail recent check failed: %w", err)
	}
	return emails, nil
}

func (g *GmailTools) GetEmailContent(ctx context.Context, userID, emailID string) (gmail.Email, error) {
	id, err := g.connect(ctx, userID)
	if err != nil {
		return gmail.Email{}, fmt.Errorf("Gmail content retrieval failed: %w", err)
	}
	email, err := g.Mail.GetMessage(ctx, id, emailID)
	if err != nil {
		return gmail.Email{}, fmt.Errorf("Gmail content retrieval failed: %w", err)
	}
	return email, nil
}

func userParam() Param {
	return Param{Name: "user_id", Type: "string", Description: "Session or account id", Required: true}
}

// Functions returns the gmail_tool category.
func (g *GmailTools) Functions() []Function {
	return []Function{
		{
			Name:        "fetch_emails",
			Description: "Fetch emails matching a Gmail query (default in:inbox)",
			Params: []Param{
				userParam(),
				{Name: "query", Type: "string", Default: ""},
				{Name: "max_results", Type: "integer", Default: 10},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return g.FetchEmails(ctx, a.String("user_id"), a.String("query"), a.Int("max_results"))
			},
		},
		{
			Name:        "search_emails",
			Description: "Search emails with a Gmail query",
			Params:      []Param{userParam(), {Name: "query", Type: "string", Required: true}},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return g.SearchEmails(ctx, a.String("user_id"), a.String("query"))
			},
		},
		{
			Name:        "send_email",
			Description: "Send an email",
			Params: []Param{
				userParam(),
				{Name: "to", Type: "string", Required: true},
				{Name: "subject", Type: "string", Required: true},
				{Name: "body", Required: true},
				{Name: "cc", Type: "array"},
				{Name: "bcc", Type: "array"},
				{Name: "is_html", Type: "boolean", Default: false},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return g.SendEmail(ctx, a.String("user_id"), gmail.OutgoingEmail{
					To:      a.String("to"),
					Subject: a.String("subject"),
					Body:    a.String("body"),
					Cc:      a.StringSlice("cc"),
					Bcc:     a.StringSlice("bcc"),
					IsHTML:  a.Bool("is_html"),
				})
			},
		},
		{
			Name:        "get_profile",
			Description: "Get the connected Gmail profile",
			Params:      []Param{userParam()},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return g.GetProfile(ctx, a.String("user_id"))
			},
		},
		{
			Name:        "check_recent_emails",
			Description: "List unread emails from the last since_hours hours",
			Params:      []Param{userParam(), {Name: "since_hours", Type: "integer", Default: 24}},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return g.CheckRecentEmails(ctx, a.String("user_id"), a.Int("since_hours"))
			},
		},
		{
			Name:        "get_email_content",
			Description: "Get the full content of one email",
			Params:      []Param{userParam(), {Name: "email_id", Type: "string", Required: true}},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return g.GetEmailContent(ctx, a.String("user_id"), a.String("email_id"))
			},
		},
	}
}
