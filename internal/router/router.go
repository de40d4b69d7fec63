// Package router decides whether and how an inbound message produces a reply.
//
// Messages flow in from a Session, are serialized per (tenant, contact) to
// keep conversation state transitions coherent, matched against the owning
// chatbot's triggers and flow position, and any reply is handed back to the
// Session for delivery.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatlift/chatlift/internal/ai"
	"github.com/chatlift/chatlift/internal/convstate"
	"github.com/chatlift/chatlift/internal/flow"
	"github.com/chatlift/chatlift/internal/session"
	"github.com/chatlift/chatlift/internal/storage"
	"github.com/chatlift/chatlift/internal/trigger"
)

// ErrQueueFull is returned when a worker queue is saturated; the transport's
// own redelivery retries the message and the dedup window keeps the retry
// idempotent.
var ErrQueueFull = errors.New("router queue full")

// Options tunes the router's worker pool and dedup window.
type Options struct {
	Workers     int
	QueueSize   int
	DedupWindow int
	DedupTTL    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	return o
}

// Router consumes inbound messages and produces replies. It implements
// session.InboundHandler.
type Router struct {
	store    storage.Store
	states   *convstate.Store
	analyzer ai.Analyzer
	logger   *slog.Logger
	dedup    *dedupWindow
	opts     Options

	queues    []chan task
	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

type task struct {
	ctx    context.Context
	msg    session.InboundMessage
	sender session.ReplySender
}

// NewRouter creates a Router. analyzer may be nil; chatbots with AI-assisted
// routing enabled then fall straight through to their fallback policy.
func NewRouter(log *slog.Logger, store storage.Store, states *convstate.Store, analyzer ai.Analyzer, opts Options) *Router {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Router{
		store:    store,
		states:   states,
		analyzer: analyzer,
		logger:   log.With(slog.String("component", "router")),
		dedup:    newDedupWindow(opts.DedupWindow, opts.DedupTTL),
		opts:     opts,
	}
}

// Start launches the worker pool. Safe to call more than once.
func (r *Router) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		r.ctx, r.cancel = context.WithCancel(ctx)
		r.queues = make([]chan task, r.opts.Workers)
		for i := range r.queues {
			r.queues[i] = make(chan task, r.opts.QueueSize)
			go r.runWorker(r.ctx, r.queues[i])
		}
	})
}

// Shutdown stops the workers. In-flight messages are abandoned; the
// transport's redelivery plus the dedup window make that safe.
func (r *Router) Shutdown(context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// HandleInbound enqueues the message on the worker owning its contact key.
// Messages from one contact always land on the same worker, preserving
// receipt order; different contacts proceed in parallel.
func (r *Router) HandleInbound(ctx context.Context, msg session.InboundMessage, sender session.ReplySender) error {
	r.Start(ctx)
	if r.ctx.Err() != nil {
		return errors.New("router stopped")
	}
	t := task{
		ctx:    context.WithoutCancel(ctx),
		msg:    msg,
		sender: sender,
	}
	queue := r.queues[contactShard(msg.TenantID, msg.ContactID, len(r.queues))]
	select {
	case queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func contactShard(tenantID, contactID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(contactID))
	return int(h.Sum32() % uint32(n))
}

func (r *Router) runWorker(ctx context.Context, queue <-chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			if err := r.process(t.ctx, t.msg, t.sender); err != nil {
				r.logger.Error("message processing failed",
					slog.String("tenant_id", t.msg.TenantID),
					slog.String("contact_id", t.msg.ContactID),
					slog.Any("error", err))
			}
		}
	}
}

// process runs the routing decision for one message. Storage failures fail
// closed: no reply is sent and the error is surfaced to operators only.
func (r *Router) process(ctx context.Context, msg session.InboundMessage, sender session.ReplySender) error {
	if r.dedup.Seen(msg.TenantID, msg.MessageID) {
		r.logger.Info("duplicate message dropped",
			slog.String("tenant_id", msg.TenantID),
			slog.String("message_id", msg.MessageID))
		return nil
	}

	r.logMessage(ctx, storage.LogEntry{
		TenantID:  msg.TenantID,
		ContactID: msg.ContactID,
		Direction: storage.LogInbound,
		MessageID: msg.MessageID,
		Body:      msg.Text,
		LoggedAt:  msg.ReceivedAt,
	})

	bots, err := r.store.ListActiveChatbots(ctx, msg.TenantID)
	if err != nil {
		// Nothing was committed for this message; forget the dedup entry so
		// the transport's redelivery gets a fresh attempt once storage is back.
		r.dedup.Forget(msg.TenantID, msg.MessageID)
		return fmt.Errorf("resolve chatbots: %w", err)
	}
	if len(bots) == 0 {
		return nil
	}

	reply, err := r.decide(ctx, msg, bots)
	if err != nil {
		r.dedup.Forget(msg.TenantID, msg.MessageID)
		return err
	}
	if reply == "" {
		return nil
	}

	// The state advance is already committed; a delivery failure must not
	// roll it back, and the dedup entry stays so a redelivery cannot advance
	// the conversation a second time.
	if err := sender.Reply(ctx, msg.ContactID, reply, msg.MessageID); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	r.logMessage(ctx, storage.LogEntry{
		TenantID:  msg.TenantID,
		ContactID: msg.ContactID,
		Direction: storage.LogOutbound,
		InReplyTo: msg.MessageID,
		Body:      reply,
	})
	return nil
}

// decide picks the reply text, advancing conversation state as a side effect.
// An empty reply means silence.
func (r *Router) decide(ctx context.Context, msg session.InboundMessage, bots []storage.Chatbot) (string, error) {
	// A contact parked on an input node is pinned to that chatbot: the text
	// is the answer to the node, not a fresh trigger.
	for _, bot := range bots {
		reply, handled, err := r.continueFlow(ctx, msg, bot)
		if err != nil {
			return "", err
		}
		if handled {
			return reply, nil
		}
	}

	// Trigger matching, first chatbot (by name) with a matching rule wins.
	for _, bot := range bots {
		rules, err := r.store.LoadTriggerRules(ctx, bot.ID)
		if err != nil {
			return "", fmt.Errorf("load trigger rules: %w", err)
		}
		rule, ok := trigger.Match(rules, msg.Text)
		if !ok {
			continue
		}
		return r.enterNode(ctx, msg, bot, rule.TargetNodeID)
	}

	// No trigger matched anywhere: the first chatbot's fallback policy
	// applies, optionally preceded by AI-assisted routing.
	return r.fallback(ctx, msg, bots[0])
}

// continueFlow answers a pending input node. handled is false when the
// contact is not mid-flow for this chatbot.
func (r *Router) continueFlow(ctx context.Context, msg session.InboundMessage, bot storage.Chatbot) (string, bool, error) {
	state, err := r.states.Peek(ctx, msg.TenantID, msg.ContactID, bot.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("peek conversation state: %w", err)
	}

	graph, err := r.store.LoadFlowGraph(ctx, bot.ID)
	if err != nil {
		return "", false, fmt.Errorf("load flow graph: %w", err)
	}

	node, err := graph.Node(state.CurrentNodeID)
	if err != nil {
		// Flow edited underneath the conversation; reset and fall back to
		// trigger matching for this message.
		if _, resetErr := r.states.Reset(ctx, msg.TenantID, msg.ContactID, bot.ID, graph); resetErr != nil {
			return "", false, resetErr
		}
		return "", false, nil
	}
	if !node.AwaitsInput() {
		return "", false, nil
	}

	// The node consumed its answer. With no successor the flow is complete:
	// drop the cursor so the contact's next message starts fresh at trigger
	// matching instead of staying pinned to a finished conversation.
	if node.NextNodeID == "" {
		if err := r.states.Forget(ctx, msg.TenantID, msg.ContactID, bot.ID); err != nil {
			return "", false, err
		}
		return "", true, nil
	}
	next, err := r.advanceOrReset(ctx, msg, bot, graph, node.NextNodeID)
	if err != nil {
		return "", false, err
	}
	return next.ReplyText, true, nil
}

// enterNode advances the conversation to the trigger rule's target node and
// returns that node's reply content.
func (r *Router) enterNode(ctx context.Context, msg session.InboundMessage, bot storage.Chatbot, nodeID string) (string, error) {
	graph, err := r.store.LoadFlowGraph(ctx, bot.ID)
	if err != nil {
		return "", fmt.Errorf("load flow graph: %w", err)
	}
	node, err := r.advanceOrReset(ctx, msg, bot, graph, nodeID)
	if err != nil {
		return "", err
	}
	return node.ReplyText, nil
}

// advanceOrReset advances the state, recovering from a dangling node id by
// resetting to the entry node (the dangling-reference invariant).
func (r *Router) advanceOrReset(ctx context.Context, msg session.InboundMessage, bot storage.Chatbot, graph *flow.Graph, nodeID string) (flow.Node, error) {
	state, err := r.states.GetOrCreate(ctx, msg.TenantID, msg.ContactID, bot.ID, graph)
	if err != nil {
		return flow.Node{}, err
	}
	state, err = r.states.Advance(ctx, state, nodeID, graph)
	if errors.Is(err, convstate.ErrInvalidNode) {
		r.logger.Warn("target node missing from flow, resetting to entry",
			slog.String("chatbot_id", bot.ID),
			slog.String("node_id", nodeID))
		state, err = r.states.Reset(ctx, msg.TenantID, msg.ContactID, bot.ID, graph)
		if err != nil {
			return flow.Node{}, err
		}
		return graph.Entry(), nil
	}
	if err != nil {
		return flow.Node{}, err
	}
	return graph.Node(state.CurrentNodeID)
}

// fallback applies the chatbot's configured no-match policy, trying
// AI-assisted routing first when the chatbot opts in. Analyzer failure
// degrades to the plain policy; internal errors never become reply text.
func (r *Router) fallback(ctx context.Context, msg session.InboundMessage, bot storage.Chatbot) (string, error) {
	if bot.AIEnabled && r.analyzer != nil {
		analysis, err := r.analyzer.Analyze(ctx, msg.Text)
		if err != nil {
			r.logger.Warn("analyzer unavailable, applying plain fallback",
				slog.String("chatbot_id", bot.ID),
				slog.Any("error", err))
		} else if intent := strings.TrimSpace(analysis.Intent); intent != "" {
			graph, err := r.store.LoadFlowGraph(ctx, bot.ID)
			if err != nil {
				return "", fmt.Errorf("load flow graph: %w", err)
			}
			if node, ok := graph.NodeByIntent(intent); ok {
				n, err := r.advanceOrReset(ctx, msg, bot, graph, node.ID)
				if err != nil {
					return "", err
				}
				return n.ReplyText, nil
			}
		}
	}

	if bot.Fallback == storage.FallbackReply && strings.TrimSpace(bot.FallbackReply) != "" {
		return bot.FallbackReply, nil
	}
	return "", nil
}

// logMessage appends to the delivery log; failures are observability loss,
// not routing failures.
func (r *Router) logMessage(ctx context.Context, entry storage.LogEntry) {
	if err := r.store.AppendMessageLog(ctx, entry); err != nil {
		r.logger.Warn("message log append failed",
			slog.String("tenant_id", entry.TenantID),
			slog.Any("error", err))
	}
}
