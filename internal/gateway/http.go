package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rahul/maestro/internal/agent"
	"github.com/rahul/maestro/internal/store"
)

const (
	historyLimit       = 100
	notificationWindow = 50
	maxRequestBody     = 1 << 20
)

// ChatHistory is the transcript surface the web API reads and clears.
type ChatHistory interface {
	GetHistory(sessionID string, limit int) ([]store.ChatMessage, error)
	Since(sessionID string, t time.Time, limit int) ([]store.ChatMessage, error)
	Clear(sessionID string) error
}

// SpecialistRunner feeds a background component's message through the
// conductor.
type SpecialistRunner interface {
	HandleSpecialistMessage(ctx context.Context, message, sessionID string) *agent.ConductorResult
}

// HTTPGateway serves the web chat API.
type HTTPGateway struct {
	Addr       string
	Conductor  ConductorRunner
	Specialist SpecialistRunner
	History    ChatHistory
	Gmail      GmailStatus

	srv *http.Server
}

func NewHTTPGateway(addr string, conductor ConductorRunner, history ChatHistory) *HTTPGateway {
	g := &HTTPGateway{Addr: addr, Conductor: conductor, History: history}
	if s, ok := conductor.(SpecialistRunner); ok {
		g.Specialist = s
	}
	return g
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Message         string `json:"message"`
	Success         bool   `json:"success"`
	SpecialistsUsed int    `json:"specialists_used"`
	WorkersUsed     int    `json:"workers_used"`
}

type historyResponse struct {
	SessionID string              `json:"session_id"`
	Messages  []store.ChatMessage `json:"messages"`
}

// Handler returns the routed API.
func (g *HTTPGateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/chat/send", g.handleSend)
	mux.HandleFunc("/chat/specialist", g.handleSpecialist)
	mux.HandleFunc("/chat/history", g.handleHistory)
	mux.HandleFunc("/chat/notifications", g.handleNotifications)
	mux.HandleFunc("/gmail/connect", g.handleGmailConnect)
	mux.HandleFunc("/gmail/status", g.handleGmailStatus)
	mux.HandleFunc("/gmail/disconnect", g.handleGmailDisconnect)
	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (g *HTTPGateway) Start(ctx context.Context) error {
	g.srv = &http.Server{
		Addr:              g.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP gateway listening on %s", g.Addr)
		errCh <- g.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return g.Stop()
	}
}

func (g *HTTPGateway) Stop() error {
	if g.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.srv.Shutdown(ctx)
}

func sessionParam(r *http.Request) string {
	if s := strings.TrimSpace(r.URL.Query().Get("session_id")); s != "" {
		return s
	}
	return store.DefaultSession
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return chatRequest{}, false
	}
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return chatRequest{}, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return chatRequest{}, false
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = store.DefaultSession
	}
	return req, true
}

func respond(w http.ResponseWriter, res *agent.ConductorResult) {
	if res == nil {
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	msg := res.Response
	if !res.Success && msg == "" {
		msg = "Sorry, something went wrong: " + res.Error
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Message:         msg,
		Success:         res.Success,
		SpecialistsUsed: res.SpecialistsUsed,
		WorkersUsed:     res.WorkersUsed,
	})
}

func (g *HTTPGateway) handleSend(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	log.Printf("[HTTP] Message from %s: %q", req.SessionID, req.Message)
	res := g.Conductor.Execute(r.Context(), req.Message, req.SessionID)
	if res != nil {
		log.Printf("[HTTP] Responding to %s (success: %v, workers: %d)", req.SessionID, res.Success, res.WorkersUsed)
	}
	respond(w, res)
}

func (g *HTTPGateway) handleSpecialist(w http.ResponseWriter, r *http.Request) {
	if g.Specialist == nil {
		writeJSONError(w, http.StatusNotImplemented, "specialist messages are not supported")
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	respond(w, g.Specialist.HandleSpecialistMessage(r.Context(), req.Message, req.SessionID))
}

func (g *HTTPGateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	session := sessionParam(r)
	switch r.Method {
	case http.MethodGet:
		limit := historyLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		messages, err := g.History.GetHistory(session, limit)
		if err != nil {
			log.Printf("[HTTP] Error getting chat history: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{SessionID: session, Messages: nonNil(messages)})
	case http.MethodDelete:
		if err := g.History.Clear(session); err != nil {
			log.Printf("[HTTP] Error clearing chat history: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Chat history cleared"})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleNotifications returns recent messages newer than since_timestamp.
// An unparseable timestamp is ignored and the whole window returned.
func (g *HTTPGateway) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	session := sessionParam(r)

	var since time.Time
	if v := strings.TrimSpace(r.URL.Query().Get("since_timestamp")); v != "" {
		t, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			log.Printf("[HTTP] Invalid timestamp format: %s, error: %v", v, err)
		} else {
			since = t
		}
	}

	messages, err := g.History.Since(session, since, notificationWindow)
	if err != nil {
		log.Printf("[HTTP] Error getting notifications: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: session, Messages: nonNil(messages)})
}

func nonNil(m []store.ChatMessage) []store.ChatMessage {
	if m == nil {
		return []store.ChatMessage{}
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
