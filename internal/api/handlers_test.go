package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoaibkh4n/google-agentic/internal/auth"
	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/config"
	"github.com/shoaibkh4n/google-agentic/internal/core"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

type mockQueryService struct {
	result *core.QueryResult
	err    error

	gotSess  auth.Session
	gotQuery string
	gotConv  string
}

func (m *mockQueryService) ProcessQuery(ctx context.Context, sess auth.Session, query, conversationID string) (*core.QueryResult, error) {
	m.gotSess = sess
	m.gotQuery = query
	m.gotConv = conversationID
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockConvReader struct {
	convs    []store.Conversation
	messages []store.Message
	err      error
	deleted  []string
}

func (m *mockConvReader) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	return m.convs, m.err
}

func (m *mockConvReader) ListMessages(ctx context.Context, conversationID, userID string) ([]store.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.messages, nil
}

func (m *mockConvReader) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, conversationID)
	return nil
}

type mockGate struct {
	status  auth.AuthStatus
	revoked bool
}

func (g *mockGate) Status(ctx context.Context, sess auth.Session) (auth.AuthStatus, error) {
	return g.status, nil
}

func (g *mockGate) Require(ctx context.Context, sess auth.Session, caps ...capability.Capability) error {
	return nil
}

func (g *mockGate) BeginAuthorization(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (g *mockGate) CompleteAuthorization(ctx context.Context, code string) (auth.Session, auth.AuthStatus, error) {
	return auth.Session{UserID: "user-1", Email: "ava@example.com"}, auth.AuthStatus{Connected: true}, nil
}

func (g *mockGate) Revoke(ctx context.Context, sess auth.Session) error {
	g.revoked = true
	return nil
}

func testServer(t *testing.T, queries QueryService, convs ConversationReader, gate auth.Gate) http.Handler {
	t.Helper()
	config.AppConfig.JWTSecret = "test-secret"
	config.AppConfig.FrontendURL = "http://localhost:3000"
	return NewRouter(NewAPIHandler(queries, convs, gate))
}

func sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	config.AppConfig.JWTSecret = "test-secret"
	token, err := auth.GenerateSessionToken("user-1", "ava@example.com")
	require.NoError(t, err)
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func TestQueryRequiresSession(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueryAcceptsBearerToken(t *testing.T) {
	queries := &mockQueryService{result: &core.QueryResult{Response: "done", ConversationID: "conv-1"}}
	router := testServer(t, queries, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+sessionCookie(t).Value)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", queries.gotSess.UserID)
}

func TestQueryValidation(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	for name, body := range map[string]string{
		"empty query":     `{"query":""}`,
		"whitespace only": `{"query":"   "}`,
		"malformed json":  `{"query":`,
		"over limit":      `{"query":"` + strings.Repeat("x", 1001) + `"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
		req.AddCookie(sessionCookie(t))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestQuerySuccess(t *testing.T) {
	queries := &mockQueryService{result: &core.QueryResult{
		Response:       "You have 2 messages.",
		ActionsTaken:   []string{"mail: found 2 messages"},
		ConversationID: "conv-1",
	}}
	router := testServer(t, queries, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"any mail?","conversationId":"conv-1"}`))
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "any mail?", queries.gotQuery)
	assert.Equal(t, "conv-1", queries.gotConv)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "You have 2 messages.", resp["response"])
	assert.Equal(t, "conv-1", resp["conversationId"])
}

func TestQueryAuthRequired(t *testing.T) {
	queries := &mockQueryService{result: &core.QueryResult{
		RequiresAuth: true,
		Query:        "any mail?",
		Response:     "Please connect your Google account to use this service.",
	}}
	router := testServer(t, queries, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"any mail?"}`))
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp struct {
		Detail struct {
			RequiresAuth bool   `json:"requiresAuth"`
			Message      string `json:"message"`
			Query        string `json:"query"`
		} `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Detail.RequiresAuth)
	assert.Equal(t, "any mail?", resp.Detail.Query)
	assert.NotEmpty(t, resp.Detail.Message)
}

func TestQueryUnknownConversation(t *testing.T) {
	queries := &mockQueryService{err: store.ErrNotFound}
	router := testServer(t, queries, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hi","conversationId":"nope"}`))
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthStatusAnonymous(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp authStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Connected)
	assert.Equal(t, map[string]bool{"mail": false, "calendar": false, "storage": false}, resp.Services)
	assert.Nil(t, resp.UserEmail)
}

func TestAuthStatusConnected(t *testing.T) {
	gate := &mockGate{status: auth.AuthStatus{
		Connected: true,
		UserEmail: "ava@example.com",
		Services: map[capability.Capability]bool{
			capability.Mail:     true,
			capability.Calendar: true,
			capability.Storage:  false,
		},
	}}
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, gate)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/status", nil)
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp authStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Connected)
	require.NotNil(t, resp.UserEmail)
	assert.Equal(t, "ava@example.com", *resp.UserEmail)
	assert.True(t, resp.Services["mail"])
	assert.False(t, resp.Services["storage"])
}

func TestConnectRedirectsWithState(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/connect", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "state=")

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie, "connect must set the state cookie")
	assert.Contains(t, location, "state="+stateCookie.Value)
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=evil&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "expected"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackSetsSessionCookie(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/callback?state=st&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "st"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, config.AppConfig.FrontendURL, rec.Header().Get("Location"))

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	require.NotNil(t, session)
	sess, err := auth.ValidateSessionToken(session.Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID)
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	gate := &mockGate{}
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, gate)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gate.revoked)

	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)
}

func TestListConversations(t *testing.T) {
	name := "find my flight"
	convs := &mockConvReader{convs: []store.Conversation{{ID: "conv-1", Name: &name}}}
	router := testServer(t, &mockQueryService{}, convs, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "conv-1", resp.Conversations[0].ID)
}

func TestListMessagesUnknownConversation(t *testing.T) {
	convs := &mockConvReader{err: store.ErrNotFound}
	router := testServer(t, &mockQueryService{}, convs, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/nope/messages", nil)
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteConversation(t *testing.T) {
	convs := &mockConvReader{}
	router := testServer(t, &mockQueryService{}, convs, &mockGate{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/conversations/conv-1", nil)
	req.AddCookie(sessionCookie(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"conv-1"}, convs.deleted)
}

func TestHealth(t *testing.T) {
	router := testServer(t, &mockQueryService{}, &mockConvReader{}, &mockGate{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
