package gateway

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/rahul/maestro/internal/agent"
)

// Messenger defines the interface for communication gateways (Telegram, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start(ctx context.Context) error
	// Send sends a message to a specific session
	Send(sessionID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// ConductorRunner handles one inbound message for a session.
type ConductorRunner interface {
	Execute(ctx context.Context, message, sessionID string) *agent.ConductorResult
}

// Router delivers out-of-band messages to the channel that owns a session,
// chosen by session id prefix. Sessions without a channel (the web client
// polls the transcript) are a no-op.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Messenger
}

func NewRouter() *Router {
	return &Router{channels: map[string]Messenger{}}
}

// Register routes sessions starting with prefix to m.
func (r *Router) Register(prefix string, m Messenger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[prefix] = m
}

func (r *Router) Send(sessionID, text string) error {
	r.mu.RLock()
	var target Messenger
	for prefix, m := range r.channels {
		if strings.HasPrefix(sessionID, prefix) {
			target = m
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		log.Printf("[Gateway] No push channel for %s, message kept in transcript only", sessionID)
		return nil
	}
	return target.Send(sessionID, text)
}

// Stop stops every registered channel.
func (r *Router) Stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, m := range r.channels {
		if err := m.Stop(); err != nil {
			log.Printf("[Gateway] Failed to stop %s channel: %v", prefix, err)
		}
	}
}
