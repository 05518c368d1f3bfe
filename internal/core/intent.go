package core

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

// IntentUnknown is the degraded classification used when the resolver timed
// out, errored or produced nothing usable.
const IntentUnknown = "unknown"

// Intent is the structured interpretation of one query.
type Intent struct {
	Name       string                  `json:"intent"`
	Targets    []capability.Capability `json:"services"`
	Sequential []capability.Capability `json:"sequential,omitempty"`
	Parameters map[string]any          `json:"entities,omitempty"`
	Confidence float64                 `json:"confidence"`

	// Query is the raw user request the intent was resolved from; carried for
	// the capability clients, not part of the persisted snapshot.
	Query string `json:"-"`
}

func UnknownIntent() Intent {
	return Intent{Name: IntentUnknown, Targets: []capability.Capability{}}
}

// Resolver maps a query plus prior turns to exactly one Intent. It must not
// block indefinitely: on timeout it degrades to UnknownIntent instead of
// failing, and it never mutates the prior turns.
type Resolver interface {
	Resolve(ctx context.Context, query string, priorTurns []store.Message) (Intent, error)
}

// Classifier produces the raw intent JSON for a query. *LLMService is the
// production implementation.
type Classifier interface {
	ClassifyIntent(ctx context.Context, query string, history []store.Message) (string, error)
}

// LLMResolver classifies queries under an internal deadline.
type LLMResolver struct {
	llm     Classifier
	timeout time.Duration
}

func NewLLMResolver(llm Classifier, timeout time.Duration) *LLMResolver {
	return &LLMResolver{llm: llm, timeout: timeout}
}

func (r *LLMResolver) Resolve(ctx context.Context, query string, priorTurns []store.Message) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.llm.ClassifyIntent(ctx, query, priorTurns)
	if err != nil {
		log.Printf("Intent classification degraded to unknown: %v", err)
		return UnknownIntent(), nil
	}
	return parseIntent(raw), nil
}

// intentWire is the JSON shape the classifier is asked to produce.
type intentWire struct {
	Intent     string         `json:"intent"`
	Services   []string       `json:"services"`
	Sequential []string       `json:"sequential"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence"`
}

func parseIntent(raw string) Intent {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var wire intentWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		log.Printf("Failed to parse intent JSON, degrading to unknown: %v", err)
		return UnknownIntent()
	}

	intent := Intent{
		Name:       wire.Intent,
		Targets:    parseCapabilities(wire.Services),
		Sequential: parseCapabilities(wire.Sequential),
		Parameters: wire.Entities,
		Confidence: clamp01(wire.Confidence),
	}
	if intent.Name == "" {
		intent.Name = IntentUnknown
	}

	// A sequential entry names a target as well.
	for _, c := range intent.Sequential {
		if !containsCapability(intent.Targets, c) {
			intent.Targets = append(intent.Targets, c)
		}
	}
	return intent
}

func parseCapabilities(names []string) []capability.Capability {
	caps := make([]capability.Capability, 0, len(names))
	for _, name := range names {
		parsed, err := capability.Parse(name)
		if err != nil {
			log.Printf("Classifier named unknown service %q, skipping", name)
			continue
		}
		if !containsCapability(caps, parsed) {
			caps = append(caps, parsed)
		}
	}
	return caps
}

func containsCapability(caps []capability.Capability, c capability.Capability) bool {
	for _, existing := range caps {
		if existing == c {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
