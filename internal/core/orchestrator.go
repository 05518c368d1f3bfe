package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shoaibkh4n/google-agentic/internal/auth"
	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

// historyWindow bounds how many prior messages feed classification and
// synthesis.
const historyWindow = 20

// ConversationStore is what the orchestrator needs from persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID string) (*store.Conversation, error)
	GetConversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error)
	AppendTurn(ctx context.Context, conversationID, userID string, messages ...*store.Message) error
	LastMessages(ctx context.Context, conversationID, userID string, n int) ([]store.Message, error)
}

// Composer shapes the final assistant reply from dispatch results.
type Composer interface {
	Synthesize(ctx context.Context, query string, results []capability.ActionResult, history []store.Message) (string, error)
}

// Orchestrator coordinates one query end to end: authorization check, intent
// resolution, capability dispatch, ordered persistence, response shaping.
type Orchestrator struct {
	gate           auth.Gate
	resolver       Resolver
	dispatcher     Dispatcher
	composer       Composer
	convs          ConversationStore
	requestTimeout time.Duration
}

func NewOrchestrator(gate auth.Gate, resolver Resolver, dispatcher Dispatcher, composer Composer, convs ConversationStore, requestTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		gate:           gate,
		resolver:       resolver,
		dispatcher:     dispatcher,
		composer:       composer,
		convs:          convs,
		requestTimeout: requestTimeout,
	}
}

// QueryResult is the response envelope for one processed query.
type QueryResult struct {
	Response       string   `json:"response"`
	ActionsTaken   []string `json:"actionsTaken"`
	Intent         *Intent  `json:"intent,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`

	// RequiresAuth marks an auth-required short circuit. Query echoes the raw
	// request back so the client can redisplay it; it was not persisted.
	RequiresAuth bool   `json:"-"`
	Query        string `json:"-"`
}

// ProcessQuery runs the per-request state machine. An auth-required outcome
// short-circuits before any dispatch and persists nothing; once authorization
// is confirmed sufficient, the turn is persisted no matter how dispatch goes.
func (o *Orchestrator) ProcessQuery(ctx context.Context, sess auth.Session, query, conversationID string) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	status, err := o.gate.Status(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to check authorization: %w", err)
	}
	if !status.Connected {
		return &QueryResult{
			RequiresAuth: true,
			Query:        query,
			Response:     "Please connect your Google account to use this service.",
		}, nil
	}

	var history []store.Message
	if conversationID != "" {
		history, err = o.convs.LastMessages(ctx, conversationID, sess.UserID, historyWindow)
		if err != nil {
			return nil, err
		}
	}

	intent, err := o.resolver.Resolve(ctx, query, history)
	if err != nil {
		log.Printf("Intent resolution failed, degrading to unknown: %v", err)
		intent = UnknownIntent()
	}
	intent.Query = query

	if len(intent.Targets) > 0 {
		if err := o.gate.Require(ctx, sess, intent.Targets...); err != nil {
			var required *auth.RequiredError
			if errors.As(err, &required) {
				return &QueryResult{
					RequiresAuth: true,
					Query:        query,
					Response:     fmt.Sprintf("Your Google grant does not cover this request (%s). Please reconnect your account.", required.Error()),
				}, nil
			}
			return nil, fmt.Errorf("failed to check authorization: %w", err)
		}
	}

	if conversationID == "" {
		conv, err := o.convs.CreateConversation(ctx, sess.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = conv.ID
	}

	var results []capability.ActionResult
	var response string
	if len(intent.Targets) == 0 {
		response = clarifyingResponse(intent)
	} else {
		results = o.dispatcher.Dispatch(ctx, sess, intent)
		response, err = o.composer.Synthesize(ctx, query, results, history)
		if err != nil {
			log.Printf("Response synthesis failed for conversation %s, using plain summary: %v", conversationID, err)
			response = plainSummary(results)
		}
	}

	actions := make([]string, 0, len(results))
	for _, r := range results {
		actions = append(actions, r.Describe())
	}

	intentSnapshot, err := json.Marshal(intent)
	if err != nil {
		intentSnapshot = nil
	}
	userMsg := &store.Message{Role: store.RoleUser, Content: query}
	assistantMsg := &store.Message{
		Role:    store.RoleAssistant,
		Content: response,
		Actions: actions,
		Intent:  intentSnapshot,
	}

	// The exchange is recorded even when the client has gone away or the
	// request deadline passed mid-dispatch; the results gathered so far were
	// real. Persistence failure is fatal to the request.
	persistCtx := context.WithoutCancel(ctx)
	if err := o.convs.AppendTurn(persistCtx, conversationID, sess.UserID, userMsg, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	return &QueryResult{
		Response:       response,
		ActionsTaken:   actions,
		Intent:         &intent,
		ConversationID: conversationID,
	}, nil
}

// clarifyingResponse answers turns whose intent targets nothing the
// assistant can act on.
func clarifyingResponse(intent Intent) string {
	switch intent.Name {
	case "greeting":
		return "Hello! How can I help you with your mail, calendar, or files today?"
	case "thanks":
		return "You're welcome! Let me know if you need anything else."
	case "casual_conversation":
		return "I'm here to help with your workspace. What would you like to do?"
	default:
		return "I can help you search and act on your mail, calendar, and file storage. Could you tell me a bit more about what you'd like to do?"
	}
}

// plainSummary is the fallback reply when synthesis is unavailable.
func plainSummary(results []capability.ActionResult) string {
	if len(results) == 0 {
		return "I wasn't able to complete any operations for that request."
	}
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, "Here's what happened:")
	for _, r := range results {
		lines = append(lines, "- "+r.Describe())
	}
	return strings.Join(lines, "\n")
}
