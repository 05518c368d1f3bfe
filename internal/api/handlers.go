package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shoaibkh4n/google-agentic/internal/auth"
	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/config"
	"github.com/shoaibkh4n/google-agentic/internal/core"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

const (
	sessionCookieName = "session_token"
	stateCookieName   = "oauth_state"
	maxQueryLength    = 1000
)

// QueryService is the orchestrator surface the handlers depend on.
type QueryService interface {
	ProcessQuery(ctx context.Context, sess auth.Session, query, conversationID string) (*core.QueryResult, error)
}

// ConversationReader serves the conversation browsing endpoints.
type ConversationReader interface {
	ListConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]store.Message, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
}

type APIHandler struct {
	queries QueryService
	convs   ConversationReader
	gate    auth.Gate
}

func NewAPIHandler(queries QueryService, convs ConversationReader, gate auth.Gate) *APIHandler {
	return &APIHandler{queries: queries, convs: convs, gate: gate}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// sessionFromRequest accepts the session cookie or a Bearer token.
func sessionFromRequest(r *http.Request) (auth.Session, bool) {
	token := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		return auth.Session{}, false
	}

	sess, err := auth.ValidateSessionToken(token)
	if err != nil {
		return auth.Session{}, false
	}
	return sess, true
}

// SessionMiddleware rejects requests without a valid session identity.
func (h *APIHandler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionFromRequest(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	})
}

type QueryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId"`
}

func (h *APIHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body: " + err.Error()})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" || len(req.Query) > maxQueryLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Query must be between 1 and 1000 characters"})
		return
	}

	result, err := h.queries.ProcessQuery(r.Context(), sess, req.Query, req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
			return
		}
		log.Printf("Error processing query for user %s: %v", sess.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Error processing query"})
		return
	}

	if result.RequiresAuth {
		// The raw query rides the envelope; it was deliberately not persisted.
		writeJSON(w, http.StatusForbidden, map[string]any{
			"detail": map[string]any{
				"requiresAuth": true,
				"message":      result.Response,
				"query":        result.Query,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type authStatusResponse struct {
	Connected bool            `json:"connected"`
	Services  map[string]bool `json:"services"`
	UserEmail *string         `json:"userEmail"`
}

// AuthStatusHandler works with or without a session: an anonymous caller
// simply sees a disconnected status.
func (h *APIHandler) AuthStatusHandler(w http.ResponseWriter, r *http.Request) {
	resp := authStatusResponse{Services: map[string]bool{}}
	for _, c := range capability.All() {
		resp.Services[c.String()] = false
	}

	sess, ok := sessionFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status, err := h.gate.Status(r.Context(), sess)
	if err != nil {
		log.Printf("Error checking auth status for user %s: %v", sess.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to check authorization status"})
		return
	}

	resp.Connected = status.Connected
	for c, granted := range status.Services {
		resp.Services[c.String()] = granted
	}
	if status.Connected && status.UserEmail != "" {
		resp.UserEmail = &status.UserEmail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.gate.BeginAuthorization(state), http.StatusFound)
}

func (h *APIHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid authorization state"})
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Missing authorization code"})
		return
	}

	sess, _, err := h.gate.CompleteAuthorization(r.Context(), code)
	if err != nil {
		log.Printf("Authorization callback failed: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Authentication failed"})
		return
	}

	token, err := auth.GenerateSessionToken(sess.UserID, sess.Email)
	if err != nil {
		log.Printf("Error generating session token for user %s: %v", sess.Email, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to create session"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, config.AppConfig.FrontendURL, http.StatusFound)
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if sess, ok := sessionFromRequest(r); ok {
		if err := h.gate.Revoke(r.Context(), sess); err != nil {
			log.Printf("Error revoking authorization for user %s: %v", sess.UserID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to log out"})
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())

	convs, err := h.convs.ListConversations(r.Context(), sess.UserID)
	if err != nil {
		log.Printf("Error listing conversations for user %s: %v", sess.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list conversations"})
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	messages, err := h.convs.ListMessages(r.Context(), conversationID, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
			return
		}
		log.Printf("Error listing messages for user %s, conversation %s: %v", sess.UserID, conversationID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list messages"})
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	conversationID := chi.URLParam(r, "conversationID")

	err := h.convs.DeleteConversation(r.Context(), conversationID, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
			return
		}
		log.Printf("Error deleting conversation %s for user %s: %v", conversationID, sess.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to delete conversation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}
