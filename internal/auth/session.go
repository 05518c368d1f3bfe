package auth

import "context"

// Session identifies the authenticated caller for one request. It is threaded
// explicitly through the gate, dispatcher and orchestrator instead of living
// in ambient global state, so simulated sessions work in tests.
type Session struct {
	UserID string
	Email  string
}

type contextKey struct{ name string }

var sessionKey = &contextKey{"session"}

// WithSession returns a context carrying the session.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext extracts the session placed by the middleware.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionKey).(Session)
	return sess, ok
}
