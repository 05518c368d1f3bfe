package core

import (
	"context"
	"log"
	"sync"

	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/store"
	"github.com/shoaibkh4n/google-agentic/internal/utils"
)

// recallSimilarityThreshold is the minimum cosine similarity for a memory
// item to count as relevant.
const recallSimilarityThreshold = 0.7

// MemoryStore is what recall needs from persistence.
type MemoryStore interface {
	UpsertMemoryItem(ctx context.Context, item *store.MemoryItem) error
	ListMemoryItems(ctx context.Context, userID string) ([]store.MemoryItem, error)
}

// Embedder produces an embedding vector for a piece of text.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Recall is an in-memory semantic index over workspace items the capability
// clients have seen, backed by the store for restarts. It implements
// capability.SemanticIndex.
type Recall struct {
	store    MemoryStore
	embedder Embedder

	mu    sync.RWMutex
	cache map[string][]store.MemoryItem // keyed by user id, loaded lazily
}

func NewRecall(memStore MemoryStore, embedder Embedder) *Recall {
	return &Recall{
		store:    memStore,
		embedder: embedder,
		cache:    make(map[string][]store.MemoryItem),
	}
}

// Index embeds and stores one workspace item. Best-effort: failures are
// logged, never propagated to the capability call that produced the item.
func (r *Recall) Index(ctx context.Context, userID, kind, refID, content string) {
	if content == "" {
		return
	}

	embedding, err := r.embedder.GetEmbedding(ctx, content)
	if err != nil {
		log.Printf("Failed to embed %s item %s for recall: %v", kind, refID, err)
		return
	}

	item := store.MemoryItem{
		UserID:    userID,
		Kind:      kind,
		RefID:     refID,
		Content:   content,
		Embedding: embedding,
	}
	if err := r.store.UpsertMemoryItem(ctx, &item); err != nil {
		log.Printf("Failed to store %s item %s for recall: %v", kind, refID, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if items, loaded := r.cache[userID]; loaded {
		for i := range items {
			if items[i].Kind == kind && items[i].RefID == refID {
				items[i] = item
				return
			}
		}
		r.cache[userID] = append(items, item)
	}
}

// Search returns the user's most similar indexed items for a query.
func (r *Recall) Search(ctx context.Context, userID, query string, limit int) ([]capability.MemoryHit, error) {
	items, err := r.userItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	queryEmbedding, err := r.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(items))
	for i := range items {
		embeddings[i] = items[i].Embedding
	}

	var hits []capability.MemoryHit
	for _, scored := range utils.RankBySimilarity(queryEmbedding, embeddings, limit) {
		if scored.Score < recallSimilarityThreshold {
			continue
		}
		item := items[scored.Index]
		hits = append(hits, capability.MemoryHit{
			Kind:    item.Kind,
			RefID:   item.RefID,
			Content: item.Content,
			Score:   scored.Score,
		})
	}
	return hits, nil
}

// userItems returns a snapshot of the user's indexed items. Callers always
// get their own copy: Index mutates the cached slice in place under the lock,
// so the shared backing array must never leave the critical section.
func (r *Recall) userItems(ctx context.Context, userID string) ([]store.MemoryItem, error) {
	r.mu.RLock()
	if items, loaded := r.cache[userID]; loaded {
		copied := append([]store.MemoryItem(nil), items...)
		r.mu.RUnlock()
		return copied, nil
	}
	r.mu.RUnlock()

	items, err := r.store.ListMemoryItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, loaded := r.cache[userID]; loaded {
		// Another goroutine loaded first; its copy wins.
		items = append([]store.MemoryItem(nil), cached...)
	} else {
		r.cache[userID] = items
		items = append([]store.MemoryItem(nil), items...)
	}
	r.mu.Unlock()
	return items, nil
}
