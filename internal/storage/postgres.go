package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlift/chatlift/internal/db"
	"github.com/chatlift/chatlift/internal/flow"
	"github.com/chatlift/chatlift/internal/trigger"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) ListActiveChatbots(ctx context.Context, tenantID string) ([]Chatbot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, entry_node_id, fallback_policy, fallback_reply, ai_enabled, active
		FROM chatbots
		WHERE tenant_id = $1 AND active
		ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer rows.Close()

	var bots []Chatbot
	for rows.Next() {
		bot, err := scanChatbot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

func scanChatbot(row pgx.Row) (Chatbot, error) {
	var bot Chatbot
	var policy string
	if err := row.Scan(&bot.ID, &bot.TenantID, &bot.Name, &bot.EntryNodeID, &policy, &bot.FallbackReply, &bot.AIEnabled, &bot.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chatbot{}, err
		}
		return Chatbot{}, fmt.Errorf("scan chatbot: %w", err)
	}
	if policy == string(FallbackReply) {
		bot.Fallback = FallbackReply
	} else {
		bot.Fallback = FallbackSilence
	}
	return bot, nil
}

func (s *Postgres) LoadTriggerRules(ctx context.Context, chatbotID string) ([]trigger.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chatbot_id, position, keywords, match_mode, target_node_id
		FROM trigger_rules
		WHERE chatbot_id = $1
		ORDER BY position`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("load trigger rules: %w", err)
	}
	defer rows.Close()

	var rules []trigger.Rule
	for rows.Next() {
		var rule trigger.Rule
		var mode string
		if err := rows.Scan(&rule.ID, &rule.ChatbotID, &rule.Position, &rule.Keywords, &mode, &rule.TargetNodeID); err != nil {
			return nil, fmt.Errorf("scan trigger rule: %w", err)
		}
		rule.Mode = trigger.ParseMatchMode(mode)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Postgres) LoadFlowGraph(ctx context.Context, chatbotID string) (*flow.Graph, error) {
	var entryNodeID string
	err := s.pool.QueryRow(ctx, `SELECT entry_node_id FROM chatbots WHERE id = $1`, chatbotID).Scan(&entryNodeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chatbot %s: %w", chatbotID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load flow entry: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT node_id, kind, reply_text, awaits_input, next_node_id, intent
		FROM flow_nodes
		WHERE chatbot_id = $1`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("load flow nodes: %w", err)
	}
	defer rows.Close()

	var nodes []flow.Node
	for rows.Next() {
		var n flow.Node
		var kind string
		var awaitsInput bool
		if err := rows.Scan(&n.ID, &kind, &n.ReplyText, &awaitsInput, &n.NextNodeID, &n.Intent); err != nil {
			return nil, fmt.Errorf("scan flow node: %w", err)
		}
		if awaitsInput || kind == string(flow.KindInput) {
			n.Kind = flow.KindInput
		} else {
			n.Kind = flow.KindReply
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return flow.NewGraph(chatbotID, entryNodeID, nodes)
}

func (s *Postgres) GetConversationState(ctx context.Context, tenantID, contactID, chatbotID string) (ConversationState, error) {
	var state ConversationState
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, contact_id, chatbot_id, current_node_id, updated_at
		FROM conversation_states
		WHERE tenant_id = $1 AND contact_id = $2 AND chatbot_id = $3`,
		tenantID, contactID, chatbotID,
	).Scan(&state.TenantID, &state.ContactID, &state.ChatbotID, &state.CurrentNodeID, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConversationState{}, ErrNotFound
	}
	if err != nil {
		return ConversationState{}, fmt.Errorf("get conversation state: %w", err)
	}
	return state, nil
}

func (s *Postgres) PutConversationState(ctx context.Context, state ConversationState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_states (tenant_id, contact_id, chatbot_id, current_node_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, contact_id, chatbot_id)
		DO UPDATE SET current_node_id = EXCLUDED.current_node_id, updated_at = EXCLUDED.updated_at`,
		state.TenantID, state.ContactID, state.ChatbotID, state.CurrentNodeID, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put conversation state: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteConversationState(ctx context.Context, tenantID, contactID, chatbotID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM conversation_states
		WHERE tenant_id = $1 AND contact_id = $2 AND chatbot_id = $3`,
		tenantID, contactID, chatbotID)
	if err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}

func (s *Postgres) AppendMessageLog(ctx context.Context, entry LogEntry) error {
	loggedAt := entry.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_log (tenant_id, contact_id, direction, message_id, in_reply_to, body, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.TenantID, entry.ContactID, string(entry.Direction), entry.MessageID, entry.InReplyTo, entry.Body, loggedAt)
	if db.IsUniqueViolation(err) {
		// Redelivered inbound message already logged; not an error.
		return nil
	}
	if err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}

func (s *Postgres) PruneMessageLog(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM message_log WHERE logged_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune message log: %w", err)
	}
	return tag.RowsAffected(), nil
}
