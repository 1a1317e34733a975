package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rahul/maestro/internal/gmail"
	"github.com/rahul/maestro/internal/observability"
	"github.com/rahul/maestro/internal/store"
)

// UnreadMailbox is the Gmail surface the monitor polls.
type UnreadMailbox interface {
	Connect(ctx context.Context, userID string) (string, error)
	RecentUnread(ctx context.Context, composioUserID string, sinceHours int) ([]gmail.Email, error)
}

const (
	DefaultMonitorInterval = 5 * time.Minute
	DefaultMaxSeenEmails   = 1000
	previewLength          = 100
)

// importantKeywords mark a message as worth interrupting for when they
// appear in its subject or snippet.
var importantKeywords = []string{
	"urgent", "asap", "emergency", "important", "critical",
	"meeting", "call", "zoom", "conference",
	"action required", "please review", "approval needed",
}

// EmailMonitor polls recent unread mail and announces important messages
// to the owning session. Each message id is announced at most once while
// it is remembered; the oldest half of the ids is forgotten when more than
// MaxSeen are held.
type EmailMonitor struct {
	Mail       UnreadMailbox
	Memory     Memory
	Sessions   SessionMapper
	Gateway    Messenger
	Logger     *observability.Logger
	UserID     string
	VIPDomains []string
	Interval   time.Duration
	SinceHours int
	MaxSeen    int

	mu   sync.Mutex
	seen map[string]struct{}
	// order holds seen ids oldest first.
	order []string
}

func NewEmailMonitor(mail UnreadMailbox, memory Memory, sessions SessionMapper, gateway Messenger, logger *observability.Logger) *EmailMonitor {
	return &EmailMonitor{
		Mail:       mail,
		Memory:     memory,
		Sessions:   sessions,
		Gateway:    gateway,
		Logger:     logger,
		UserID:     store.DefaultSession,
		Interval:   DefaultMonitorInterval,
		SinceHours: 1,
		MaxSeen:    DefaultMaxSeenEmails,
	}
}

// Start checks once immediately, then on every tick until ctx is done.
func (m *EmailMonitor) Start(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Email monitor started (every %s)...", interval)
	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check fetches recent unread mail and announces unseen important
// messages. It returns the number announced.
func (m *EmailMonitor) Check(ctx context.Context) int {
	account, err := m.Mail.Connect(ctx, m.UserID)
	if err != nil {
		log.Printf("Email monitor skipped: %v", err)
		return 0
	}
	emails, err := m.Mail.RecentUnread(ctx, account, m.SinceHours)
	if err != nil {
		log.Printf("Error checking for important emails: %v", err)
		return 0
	}

	session := m.UserID
	if m.Sessions != nil {
		session = m.Sessions.Resolve(m.UserID)
	}

	announced := 0
	for _, e := range emails {
		if e.ID == "" || !m.markSeen(e.ID) {
			continue
		}
		if !IsImportantEmail(e, m.VIPDomains) {
			continue
		}
		m.Logger.LogSchedule(session, e.ID, "important_email", e.Subject)
		deliver(m.Memory, m.Gateway, session, formatEmailNotification(e))
		announced++
	}
	return announced
}

// markSeen records id and reports whether it was new.
func (m *EmailMonitor) markSeen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]struct{})
	}
	if _, ok := m.seen[id]; ok {
		return false
	}
	m.seen[id] = struct{}{}
	m.order = append(m.order, id)

	limit := m.MaxSeen
	if limit <= 0 {
		limit = DefaultMaxSeenEmails
	}
	if len(m.order) > limit {
		drop := len(m.order) / 2
		for _, old := range m.order[:drop] {
			delete(m.seen, old)
		}
		m.order = append([]string(nil), m.order[drop:]...)
	}
	return true
}

// SeenCount is the number of message ids currently remembered.
func (m *EmailMonitor) SeenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// IsImportantEmail matches urgency, meeting and action keywords in the
// subject or snippet, and sender addresses containing a VIP domain.
func IsImportantEmail(e gmail.Email, vipDomains []string) bool {
	text := strings.ToLower(e.Subject + " " + e.Snippet)
	for _, kw := range importantKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	sender := strings.ToLower(e.From)
	for _, d := range vipDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" && strings.Contains(sender, d) {
			return true
		}
	}
	return false
}

func formatEmailNotification(e gmail.Email) string {
	subject := e.Subject
	if subject == "" {
		subject = "No Subject"
	}
	from := e.From
	if from == "" {
		from = "Unknown Sender"
	}
	preview := []rune(e.Snippet)
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	return fmt.Sprintf("📧 **Important Email**\n\n**From:** %s\n**Subject:** %s\n\n**Preview:** %s...", from, subject, string(preview))
}
