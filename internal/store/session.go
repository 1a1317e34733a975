package store

import (
	"log"
	"strings"
)

// DefaultSession is the id the web client uses before it has its own.
const DefaultSession = "web_user"

const webSessionPrefix = "web-"

// ActiveAccount exposes the currently connected mail account id.
type ActiveAccount interface {
	Active() string
}

// SessionResolver maps the generic web_user id onto a concrete web
// session: explicit id, then the active mail account, then the most
// recently used web session, then web_user itself.
type SessionResolver struct {
	Accounts      ActiveAccount
	Conversations *ConversationStore
}

func (r *SessionResolver) Resolve(userID string) string {
	if userID != "" && userID != DefaultSession {
		return userID
	}

	if r.Accounts != nil {
		if id := r.Accounts.Active(); strings.HasPrefix(id, webSessionPrefix) {
			return id
		}
	}

	if r.Conversations != nil {
		id, err := r.Conversations.MostRecentSession(webSessionPrefix)
		if err != nil {
			log.Printf("session lookup failed: %v", err)
		} else if id != "" {
			return id
		}
	}

	return DefaultSession
}
