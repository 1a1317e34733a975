package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/rahul/maestro/internal/gmail"
	"github.com/rahul/maestro/internal/store"
)

// GmailStatus is the account surface behind the /gmail routes.
// *gmail.Client implements it.
type GmailStatus interface {
	Connect(ctx context.Context, userID string) (string, error)
	GetProfile(ctx context.Context, composioUserID string) (map[string]any, error)
	Disconnect()
}

type gmailRequest struct {
	UserID string `json:"user_id"`
	// userId is what the web client sends.
	LegacyUserID string `json:"userId"`
}

type gmailStatusResponse struct {
	OK        bool           `json:"ok"`
	Connected bool           `json:"connected"`
	Status    string         `json:"status"`
	UserID    string         `json:"user_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Profile   map[string]any `json:"profile,omitempty"`
	Message   string         `json:"message"`
}

func decodeGmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	var req gmailRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return "", false
		}
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(req.LegacyUserID)
	}
	if userID == "" {
		userID = store.DefaultSession
	}
	return userID, true
}

func gmailErrorStatus(err error) int {
	switch {
	case errors.Is(err, gmail.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, gmail.ErrNoAccount):
		return http.StatusNotFound
	case errors.Is(err, gmail.ErrNotConnected):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// handleGmailConnect resolves and verifies the account for user_id and
// makes it the active one.
func (g *HTTPGateway) handleGmailConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeGmail(w, r)
	if !ok {
		return
	}
	if g.Gmail == nil {
		writeJSONError(w, http.StatusServiceUnavailable, gmail.ErrUnavailable.Error())
		return
	}
	account, err := g.Gmail.Connect(r.Context(), userID)
	if err != nil {
		log.Printf("[HTTP] Gmail connect failed for %s: %v", userID, err)
		writeJSONError(w, gmailErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"user_id": account,
		"message": "Gmail account connected",
	})
}

// handleGmailStatus always answers 200; failures are reported in the body.
func (g *HTTPGateway) handleGmailStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := decodeGmail(w, r)
	if !ok {
		return
	}
	if g.Gmail == nil {
		writeJSON(w, http.StatusOK, gmailStatusResponse{OK: true, Status: "SERVICE_UNAVAILABLE", Message: "Gmail service not operational"})
		return
	}

	account, err := g.Gmail.Connect(r.Context(), userID)
	if err != nil {
		status := "NOT_CONNECTED"
		if errors.Is(err, gmail.ErrUnavailable) {
			status = "SERVICE_UNAVAILABLE"
		}
		writeJSON(w, http.StatusOK, gmailStatusResponse{OK: true, Status: status, UserID: userID, Message: err.Error()})
		return
	}

	resp := gmailStatusResponse{OK: true, Connected: true, Status: "CONNECTED", UserID: account, Message: "Gmail connected"}
	profile, err := g.Gmail.GetProfile(r.Context(), account)
	if err != nil {
		log.Printf("[HTTP] Gmail profile fetch failed for %s: %v", account, err)
	} else {
		resp.Profile = profile
		if email, _ := profile["emailAddress"].(string); email != "" {
			resp.Email = email
			resp.Message = "Connected as " + email
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *HTTPGateway) handleGmailDisconnect(w http.ResponseWriter, r *http.Request) {
	if _, ok := decodeGmail(w, r); !ok {
		return
	}
	if g.Gmail != nil {
		g.Gmail.Disconnect()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Gmail disconnected successfully"})
}
