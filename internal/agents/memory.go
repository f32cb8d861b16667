package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/talgya/aitown/internal/store"
)

// TableMemories holds agent memory documents. Memories live outside the
// engine's game tables: the agent side writes them directly.
const TableMemories = "memories"

// Memory records a notable experience, usually a conversation summary,
// with an optional embedding for relevance retrieval.
type Memory struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agentId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Description    string    `json:"description"`
	Created        int64     `json:"created"`
	Embedding      []float64 `json:"embedding,omitempty"`
}

// rememberConversation stores a summary memory for an agent. The embedding
// is optional; without one the memory still ranks by recency.
func rememberConversation(ctx context.Context, s store.Store, m Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return s.RunTransaction(ctx, func(tx store.Tx) error {
		return tx.Insert(TableMemories, m.ID, m)
	})
}

// hasConversationMemory reports whether the agent already remembered a
// conversation.
func hasConversationMemory(ctx context.Context, s store.Store, agentID, conversationID string) (bool, error) {
	found := false
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		rows, err := tx.Query(TableMemories,
			store.Eq{Field: "agentId", Value: agentID},
			store.Eq{Field: "conversationId", Value: conversationID},
		)
		if err != nil {
			return err
		}
		found = len(rows) > 0
		return nil
	})
	return found, err
}

// loadMemories returns all of an agent's memories.
func loadMemories(ctx context.Context, s store.Store, agentID string) ([]Memory, error) {
	var memories []Memory
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		rows, err := tx.Query(TableMemories, store.Eq{Field: "agentId", Value: agentID})
		if err != nil {
			return err
		}
		memories = memories[:0]
		for _, raw := range rows {
			var m Memory
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("decode memory: %w", err)
			}
			memories = append(memories, m)
		}
		return nil
	})
	return memories, err
}

// rankMemories orders memories by relevance to the query embedding, most
// relevant first. With no query embedding (or unembedded memories) it
// falls back to recency.
func rankMemories(memories []Memory, query []float64, limit int) []Memory {
	ranked := make([]Memory, len(memories))
	copy(ranked, memories)
	sort.SliceStable(ranked, func(i, j int) bool {
		if len(query) > 0 && len(ranked[i].Embedding) > 0 && len(ranked[j].Embedding) > 0 {
			return cosineSimilarity(query, ranked[i].Embedding) > cosineSimilarity(query, ranked[j].Embedding)
		}
		return ranked[i].Created > ranked[j].Created
	})
	if limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
