// Package convstate tracks each contact's position in a chatbot's flow graph.
//
// States live in memory for fast routing but every mutation is written
// through to the persistent store before it becomes visible to the next read
// of the same key. A crash between "decided reply" and "recorded state" must
// not leave the next redelivery matching against a stale node.
package convstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatlift/chatlift/internal/flow"
	"github.com/chatlift/chatlift/internal/storage"
)

// ErrInvalidNode is returned by Advance when the target node does not exist
// in the chatbot's current flow graph.
var ErrInvalidNode = flow.ErrInvalidNode

// Store caches conversation states with synchronous write-through.
type Store struct {
	backend storage.Store
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[key]storage.ConversationState
}

type key struct {
	tenantID  string
	contactID string
	chatbotID string
}

// NewStore creates a Store over the persistent backend.
func NewStore(log *slog.Logger, backend storage.Store) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  log.With(slog.String("component", "convstate")),
		cache:   map[key]storage.ConversationState{},
	}
}

// GetOrCreate returns the existing state for (tenant, contact, chatbot) or
// creates one pointing at the flow graph's entry node. A saved state whose
// node no longer exists in the current graph is reset to the entry node
// rather than returned dangling.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, contactID, chatbotID string, graph *flow.Graph) (storage.ConversationState, error) {
	k := key{tenantID, contactID, chatbotID}

	s.mu.Lock()
	state, ok := s.cache[k]
	s.mu.Unlock()

	if !ok {
		var err error
		state, err = s.backend.GetConversationState(ctx, tenantID, contactID, chatbotID)
		if errors.Is(err, storage.ErrNotFound) {
			return s.write(ctx, k, storage.ConversationState{
				TenantID:      tenantID,
				ContactID:     contactID,
				ChatbotID:     chatbotID,
				CurrentNodeID: graph.EntryNodeID,
			})
		}
		if err != nil {
			return storage.ConversationState{}, fmt.Errorf("load conversation state: %w", err)
		}
	}

	if !graph.Has(state.CurrentNodeID) {
		// Flow edited underneath a live conversation: reset to entry.
		s.logger.Warn("conversation node removed from flow, resetting",
			slog.String("tenant_id", tenantID),
			slog.String("contact_id", contactID),
			slog.String("node_id", state.CurrentNodeID))
		state.CurrentNodeID = graph.EntryNodeID
		return s.write(ctx, k, state)
	}

	s.mu.Lock()
	s.cache[k] = state
	s.mu.Unlock()
	return state, nil
}

// Peek returns the existing state without creating one. Returns
// storage.ErrNotFound when the contact has never entered this chatbot's flow.
func (s *Store) Peek(ctx context.Context, tenantID, contactID, chatbotID string) (storage.ConversationState, error) {
	k := key{tenantID, contactID, chatbotID}

	s.mu.Lock()
	state, ok := s.cache[k]
	s.mu.Unlock()
	if ok {
		return state, nil
	}

	state, err := s.backend.GetConversationState(ctx, tenantID, contactID, chatbotID)
	if err != nil {
		return storage.ConversationState{}, err
	}
	s.mu.Lock()
	s.cache[k] = state
	s.mu.Unlock()
	return state, nil
}

// Advance moves the state to nextNodeID after validating it against the
// current flow graph. Returns ErrInvalidNode when the node is gone; callers
// recover by Reset.
func (s *Store) Advance(ctx context.Context, state storage.ConversationState, nextNodeID string, graph *flow.Graph) (storage.ConversationState, error) {
	if !graph.Has(nextNodeID) {
		return state, fmt.Errorf("advance to %s: %w", nextNodeID, ErrInvalidNode)
	}
	state.CurrentNodeID = nextNodeID
	return s.write(ctx, key{state.TenantID, state.ContactID, state.ChatbotID}, state)
}

// Reset returns the conversation to the flow's entry node.
func (s *Store) Reset(ctx context.Context, tenantID, contactID, chatbotID string, graph *flow.Graph) (storage.ConversationState, error) {
	return s.write(ctx, key{tenantID, contactID, chatbotID}, storage.ConversationState{
		TenantID:      tenantID,
		ContactID:     contactID,
		ChatbotID:     chatbotID,
		CurrentNodeID: graph.EntryNodeID,
	})
}

// Forget drops the cached entry and deletes the persisted row. Used when a
// conversation finishes its flow; absent rows are not an error.
func (s *Store) Forget(ctx context.Context, tenantID, contactID, chatbotID string) error {
	s.mu.Lock()
	delete(s.cache, key{tenantID, contactID, chatbotID})
	s.mu.Unlock()
	return s.backend.DeleteConversationState(ctx, tenantID, contactID, chatbotID)
}

// write persists the state and only then publishes it to the cache.
func (s *Store) write(ctx context.Context, k key, state storage.ConversationState) (storage.ConversationState, error) {
	state.UpdatedAt = time.Now().UTC()
	if err := s.backend.PutConversationState(ctx, state); err != nil {
		return storage.ConversationState{}, fmt.Errorf("write-through conversation state: %w", err)
	}
	s.mu.Lock()
	s.cache[k] = state
	s.mu.Unlock()
	return state, nil
}
