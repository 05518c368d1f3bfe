package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/shoaibkh4n/google-agentic/internal/auth"
	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

// fakeGate is an in-memory auth.Gate whose grants can be flipped mid-test.
type fakeGate struct {
	mu        sync.Mutex
	connected bool
	granted   map[capability.Capability]bool
	statusErr error
}

func newFakeGate(caps ...capability.Capability) *fakeGate {
	granted := make(map[capability.Capability]bool)
	for _, c := range caps {
		granted[c] = true
	}
	return &fakeGate{connected: true, granted: granted}
}

func (g *fakeGate) revoke(c capability.Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted[c] = false
}

func (g *fakeGate) disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
}

func (g *fakeGate) Status(ctx context.Context, sess auth.Session) (auth.AuthStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return auth.AuthStatus{}, g.statusErr
	}
	services := make(map[capability.Capability]bool, len(g.granted))
	for c, ok := range g.granted {
		services[c] = ok
	}
	return auth.AuthStatus{Connected: g.connected, Services: services, UserEmail: sess.Email}, nil
}

func (g *fakeGate) Require(ctx context.Context, sess auth.Session, caps ...capability.Capability) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var missing []capability.Capability
	for _, c := range caps {
		if !g.connected || !g.granted[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &auth.RequiredError{Missing: missing}
	}
	return nil
}

func (g *fakeGate) BeginAuthorization(state string) string { return "https://auth.test/" + state }

func (g *fakeGate) CompleteAuthorization(ctx context.Context, code string) (auth.Session, auth.AuthStatus, error) {
	return auth.Session{}, auth.AuthStatus{}, nil
}

func (g *fakeGate) Revoke(ctx context.Context, sess auth.Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	for c := range g.granted {
		g.granted[c] = false
	}
	return nil
}

// fakeClient executes a canned function for one capability.
type fakeClient struct {
	cap  capability.Capability
	exec func(ctx context.Context, inv capability.Invocation) (string, error)
}

func (c *fakeClient) Capability() capability.Capability { return c.cap }

func (c *fakeClient) Execute(ctx context.Context, inv capability.Invocation) (string, error) {
	return c.exec(ctx, inv)
}

// fakeFactory hands out fakeClients per capability.
type fakeFactory struct {
	clients map[capability.Capability]*fakeClient
	err     error
}

func (f *fakeFactory) ClientFor(ctx context.Context, userID, userEmail string, cap capability.Capability) (capability.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	client, ok := f.clients[cap]
	if !ok {
		return nil, fmt.Errorf("no client for capability %s", cap)
	}
	return client, nil
}

// stubResolver returns a fixed intent.
type stubResolver struct {
	intent Intent
	err    error
	calls  int
}

func (r *stubResolver) Resolve(ctx context.Context, query string, priorTurns []store.Message) (Intent, error) {
	r.calls++
	if r.err != nil {
		return Intent{}, r.err
	}
	return r.intent, nil
}

// stubDispatcher returns fixed results.
type stubDispatcher struct {
	results []capability.ActionResult
	calls   int
}

func (d *stubDispatcher) Dispatch(ctx context.Context, sess auth.Session, intent Intent) []capability.ActionResult {
	d.calls++
	return d.results
}

// stubComposer echoes a canned response.
type stubComposer struct {
	response string
	err      error
}

func (c *stubComposer) Synthesize(ctx context.Context, query string, results []capability.ActionResult, history []store.Message) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

// memConvStore is an in-memory ConversationStore recording every append.
type memConvStore struct {
	mu       sync.Mutex
	nextID   int
	convs    map[string]*store.Conversation
	messages map[string][]store.Message
}

func newMemConvStore() *memConvStore {
	return &memConvStore{
		convs:    make(map[string]*store.Conversation),
		messages: make(map[string][]store.Message),
	}
}

func (s *memConvStore) CreateConversation(ctx context.Context, userID string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	conv := &store.Conversation{ID: fmt.Sprintf("conv-%d", s.nextID), UserID: userID}
	s.convs[conv.ID] = conv
	return conv, nil
}

func (s *memConvStore) GetConversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok || conv.UserID != userID {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (s *memConvStore) AppendTurn(ctx context.Context, conversationID, userID string, messages ...*store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok || conv.UserID != userID {
		return store.ErrNotFound
	}
	for _, msg := range messages {
		msg.ConversationID = conversationID
		msg.Seq = int64(len(s.messages[conversationID]) + 1)
		s.messages[conversationID] = append(s.messages[conversationID], *msg)
	}
	return nil
}

func (s *memConvStore) LastMessages(ctx context.Context, conversationID, userID string, n int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok || conv.UserID != userID {
		return nil, store.ErrNotFound
	}
	messages := s.messages[conversationID]
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return append([]store.Message(nil), messages...), nil
}
