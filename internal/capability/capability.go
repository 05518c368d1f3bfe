package capability

import (
	"context"
	"fmt"
	"strings"
)

// Capability is one workspace service domain the assistant can act on.
// The set is closed: anything a classifier returns outside of it is
// rejected at parse time instead of being silently ignored.
type Capability int

const (
	Mail Capability = iota
	Calendar
	Storage
)

// All lists every known capability.
func All() []Capability {
	return []Capability{Mail, Calendar, Storage}
}

func (c Capability) String() string {
	switch c {
	case Mail:
		return "mail"
	case Calendar:
		return "calendar"
	case Storage:
		return "storage"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Parse maps a service name to a Capability. Aliases cover the names the
// classifier and the Google APIs use for the same domains.
func Parse(name string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mail", "gmail", "email":
		return Mail, nil
	case "calendar", "gcal":
		return Calendar, nil
	case "storage", "drive", "files":
		return Storage, nil
	default:
		return 0, fmt.Errorf("unknown capability %q", name)
	}
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ActionResult is the per-capability outcome of one dispatched call.
type ActionResult struct {
	Capability  Capability `json:"capability"`
	OK          bool       `json:"ok"`
	Detail      string     `json:"detail,omitempty"`
	Error       string     `json:"error,omitempty"`
	AuthExpired bool       `json:"auth_expired,omitempty"`
}

// Describe renders the result as a single action-list entry.
func (r ActionResult) Describe() string {
	if r.OK {
		return fmt.Sprintf("%s: %s", r.Capability, r.Detail)
	}
	if r.AuthExpired {
		return fmt.Sprintf("%s: failed - authorization expired, please reconnect", r.Capability)
	}
	return fmt.Sprintf("%s: failed - %s", r.Capability, r.Error)
}

// Invocation carries everything a client needs to execute one capability call.
type Invocation struct {
	// Action is the classified intent name, e.g. "send_email" or "search_events".
	Action string
	// Query is the user's request, possibly rewritten with conversation context.
	Query string
	// Params are the entities the classifier extracted (recipient, subject, ...).
	Params map[string]any
	// Prior holds results from capabilities that already ran in this dispatch,
	// for calls whose inputs depend on them.
	Prior []ActionResult
}

// Client executes actions against one external workspace service.
// Execute returns a human-readable description of what was done.
type Client interface {
	Capability() Capability
	Execute(ctx context.Context, inv Invocation) (string, error)
}

// ClientFactory builds a per-session client for a capability.
type ClientFactory interface {
	ClientFor(ctx context.Context, userID, userEmail string, cap Capability) (Client, error)
}

// SemanticIndex provides best-effort recall over workspace items the clients
// have already seen. Implementations must tolerate concurrent use; Index is
// fire-and-forget and never blocks a capability call on failure.
type SemanticIndex interface {
	Index(ctx context.Context, userID, kind, refID, content string)
	Search(ctx context.Context, userID, query string, limit int) ([]MemoryHit, error)
}

// MemoryHit is one semantic recall match.
type MemoryHit struct {
	Kind    string
	RefID   string
	Content string
	Score   float32
}
