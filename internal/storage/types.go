// Package storage defines the engine's view of the persistent store.
//
// The engine treats every call as a fallible remote operation: callers must
// handle timeouts and ErrNotFound, and must fail closed (no reply) when the
// store is unreachable mid-routing.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chatlift/chatlift/internal/flow"
	"github.com/chatlift/chatlift/internal/trigger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// FallbackPolicy is what a chatbot does when no trigger matches.
type FallbackPolicy string

const (
	// FallbackSilence sends nothing. The safe default: internal uncertainty
	// must never leak into a chat reply.
	FallbackSilence FallbackPolicy = "silence"
	// FallbackReply sends the chatbot's configured default reply.
	FallbackReply FallbackPolicy = "reply"
)

// Chatbot is the routing-relevant slice of a chatbot definition. The full
// definition (flow builder layout, analytics, billing) lives in the dashboard
// and is not the engine's concern.
type Chatbot struct {
	ID            string
	TenantID      string
	Name          string
	EntryNodeID   string
	Fallback      FallbackPolicy
	FallbackReply string
	AIEnabled     bool
	Active        bool
}

// ConversationState is a contact's cursor into a chatbot's flow graph.
type ConversationState struct {
	TenantID      string
	ContactID     string
	ChatbotID     string
	CurrentNodeID string
	UpdatedAt     time.Time
}

// LogDirection marks a message log entry as inbound or outbound.
type LogDirection string

const (
	LogInbound  LogDirection = "inbound"
	LogOutbound LogDirection = "outbound"
)

// LogEntry is one persisted line of the per-tenant message log.
type LogEntry struct {
	TenantID  string
	ContactID string
	Direction LogDirection
	MessageID string
	InReplyTo string
	Body      string
	LoggedAt  time.Time
}

// Store is the persistence boundary consumed by the routing engine.
type Store interface {
	// ListActiveChatbots returns the tenant's active chatbots ordered by name.
	ListActiveChatbots(ctx context.Context, tenantID string) ([]Chatbot, error)
	// LoadTriggerRules returns the chatbot's rules in declaration order.
	LoadTriggerRules(ctx context.Context, chatbotID string) ([]trigger.Rule, error)
	// LoadFlowGraph returns the chatbot's current flow graph.
	LoadFlowGraph(ctx context.Context, chatbotID string) (*flow.Graph, error)
	// GetConversationState returns the saved cursor or ErrNotFound.
	GetConversationState(ctx context.Context, tenantID, contactID, chatbotID string) (ConversationState, error)
	// PutConversationState upserts the cursor.
	PutConversationState(ctx context.Context, state ConversationState) error
	// DeleteConversationState removes the cursor; absent rows are not an error.
	DeleteConversationState(ctx context.Context, tenantID, contactID, chatbotID string) error
	// AppendMessageLog appends one delivery log entry.
	AppendMessageLog(ctx context.Context, entry LogEntry) error
	// PruneMessageLog deletes log entries older than the cutoff and reports
	// how many rows were removed.
	PruneMessageLog(ctx context.Context, olderThan time.Time) (int64, error)
}
