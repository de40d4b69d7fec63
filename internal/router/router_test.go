package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/chatlift/internal/ai"
	"github.com/chatlift/chatlift/internal/convstate"
	"github.com/chatlift/chatlift/internal/flow"
	"github.com/chatlift/chatlift/internal/session"
	"github.com/chatlift/chatlift/internal/storage"
	"github.com/chatlift/chatlift/internal/trigger"
)

type fakeStore struct {
	mu      sync.Mutex
	bots    []storage.Chatbot
	rules   map[string][]trigger.Rule
	graphs  map[string]*flow.Graph
	states  map[string]storage.ConversationState
	log     []storage.LogEntry
	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:  make(map[string][]trigger.Rule),
		graphs: make(map[string]*flow.Graph),
		states: make(map[string]storage.ConversationState),
	}
}

func stateKey(tenantID, contactID, chatbotID string) string {
	return tenantID + "/" + contactID + "/" + chatbotID
}

func (f *fakeStore) ListActiveChatbots(_ context.Context, tenantID string) ([]storage.Chatbot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []storage.Chatbot
	for _, b := range f.bots {
		if b.TenantID == tenantID && b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) LoadTriggerRules(_ context.Context, chatbotID string) ([]trigger.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules[chatbotID], nil
}

func (f *fakeStore) LoadFlowGraph(_ context.Context, chatbotID string) (*flow.Graph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.graphs[chatbotID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) GetConversationState(_ context.Context, tenantID, contactID, chatbotID string) (storage.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[stateKey(tenantID, contactID, chatbotID)]
	if !ok {
		return storage.ConversationState{}, storage.ErrNotFound
	}
	return st, nil
}

func (f *fakeStore) PutConversationState(_ context.Context, state storage.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[stateKey(state.TenantID, state.ContactID, state.ChatbotID)] = state
	return nil
}

func (f *fakeStore) DeleteConversationState(_ context.Context, tenantID, contactID, chatbotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, stateKey(tenantID, contactID, chatbotID))
	return nil
}

func (f *fakeStore) AppendMessageLog(_ context.Context, entry storage.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
	return nil
}

func (f *fakeStore) PruneMessageLog(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type sentReply struct {
	contactID string
	text      string
	inReplyTo string
}

type fakeSender struct {
	mu      sync.Mutex
	replies []sentReply
	err     error
}

func (f *fakeSender) Reply(_ context.Context, contactID, text, inReplyTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replies = append(f.replies, sentReply{contactID: contactID, text: text, inReplyTo: inReplyTo})
	return nil
}

func (f *fakeSender) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentReply, len(f.replies))
	copy(out, f.replies)
	return out
}

type fakeAnalyzer struct {
	analysis ai.Analysis
	err      error
}

func (f *fakeAnalyzer) Analyze(context.Context, string) (ai.Analysis, error) {
	return f.analysis, f.err
}

func salesGraph(t *testing.T) *flow.Graph {
	t.Helper()
	g, err := flow.NewGraph("bot-sales", "welcome", []flow.Node{
		{ID: "welcome", Kind: flow.KindReply, ReplyText: "Hola, bienvenido"},
		{ID: "pricing", Kind: flow.KindReply, ReplyText: "Nuestros planes empiezan en $10"},
		{ID: "ask_name", Kind: flow.KindInput, ReplyText: "Como te llamas?", NextNodeID: "thanks"},
		{ID: "thanks", Kind: flow.KindReply, ReplyText: "Gracias, te contactamos pronto"},
		{ID: "human", Kind: flow.KindReply, ReplyText: "Te paso con un agente", Intent: "handoff"},
	})
	require.NoError(t, err)
	return g
}

func newTestRouter(t *testing.T, store *fakeStore, analyzer ai.Analyzer) *Router {
	t.Helper()
	states := convstate.NewStore(nil, store)
	r := NewRouter(nil, store, states, analyzer, Options{
		Workers:     2,
		QueueSize:   32,
		DedupWindow: 64,
		DedupTTL:    time.Minute,
	})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func inbound(id, text string) session.InboundMessage {
	return session.InboundMessage{
		TenantID:   "tenant-1",
		ContactID:  "+5215550001",
		MessageID:  id,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

func salesBot() storage.Chatbot {
	return storage.Chatbot{
		ID:          "bot-sales",
		TenantID:    "tenant-1",
		Name:        "sales",
		EntryNodeID: "welcome",
		Fallback:    storage.FallbackSilence,
		Active:      true,
	}
}

func TestTriggerMatchAdvancesAndReplies(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	store.graphs["bot-sales"] = salesGraph(t)
	store.rules["bot-sales"] = []trigger.Rule{
		{ID: "r1", ChatbotID: "bot-sales", Position: 0, Keywords: []string{"hola"}, Mode: trigger.MatchExact, TargetNodeID: "welcome"},
		{ID: "r2", ChatbotID: "bot-sales", Position: 1, Keywords: []string{"precio"}, Mode: trigger.MatchContains, TargetNodeID: "pricing"},
	}
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{}

	require.NoError(t, r.process(t.Context(), inbound("m1", "Hola"), sender))
	require.NoError(t, r.process(t.Context(), inbound("m2", "cual es el precio?"), sender))

	replies := sender.sent()
	require.Len(t, replies, 2)
	assert.Equal(t, "Hola, bienvenido", replies[0].text)
	assert.Equal(t, "m1", replies[0].inReplyTo)
	assert.Equal(t, "Nuestros planes empiezan en $10", replies[1].text)

	st, err := store.GetConversationState(t.Context(), "tenant-1", "+5215550001", "bot-sales")
	require.NoError(t, err)
	assert.Equal(t, "pricing", st.CurrentNodeID)
}

func TestDuplicateMessageRepliesOnce(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	store.graphs["bot-sales"] = salesGraph(t)
	store.rules["bot-sales"] = []trigger.Rule{
		{ID: "r1", Keywords: []string{"hola"}, Mode: trigger.MatchExact, TargetNodeID: "welcome"},
	}
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{}

	msg := inbound("dup-1", "hola")
	require.NoError(t, r.process(t.Context(), msg, sender))
	require.NoError(t, r.process(t.Context(), msg, sender))

	assert.Len(t, sender.sent(), 1)
}

func TestMidFlowInputBypassesTriggers(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	store.graphs["bot-sales"] = salesGraph(t)
	store.rules["bot-sales"] = []trigger.Rule{
		{ID: "r1", Keywords: []string{"hola"}, Mode: trigger.MatchContains, TargetNodeID: "welcome"},
	}
	store.states[stateKey("tenant-1", "+5215550001", "bot-sales")] = storage.ConversationState{
		TenantID:      "tenant-1",
		ContactID:     "+5215550001",
		ChatbotID:     "bot-sales",
		CurrentNodeID: "ask_name",
	}
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{}

	// "hola" would match a trigger, but the contact is answering ask_name.
	require.NoError(t, r.process(t.Context(), inbound("m1", "hola, soy Ana"), sender))

	replies := sender.sent()
	require.Len(t, replies, 1)
	assert.Equal(t, "Gracias, te contactamos pronto", replies[0].text)

	st, err := store.GetConversationState(t.Context(), "tenant-1", "+5215550001", "bot-sales")
	require.NoError(t, err)
	assert.Equal(t, "thanks", st.CurrentNodeID)
}

func TestFallbackPolicies(t *testing.T) {
	t.Run("silence", func(t *testing.T) {
		store := newFakeStore()
		store.bots = []storage.Chatbot{salesBot()}
		store.graphs["bot-sales"] = salesGraph(t)
		r := newTestRouter(t, store, nil)
		sender := &fakeSender{}

		require.NoError(t, r.process(t.Context(), inbound("m1", "asdfgh"), sender))
		assert.Empty(t, sender.sent())
	})

	t.Run("default reply", func(t *testing.T) {
		store := newFakeStore()
		bot := salesBot()
		bot.Fallback = storage.FallbackReply
		bot.FallbackReply = "No te entendi, escribe 'hola'"
		store.bots = []storage.Chatbot{bot}
		store.graphs["bot-sales"] = salesGraph(t)
		r := newTestRouter(t, store, nil)
		sender := &fakeSender{}

		require.NoError(t, r.process(t.Context(), inbound("m1", "asdfgh"), sender))
		replies := sender.sent()
		require.Len(t, replies, 1)
		assert.Equal(t, "No te entendi, escribe 'hola'", replies[0].text)
	})
}

func TestStorageFailureSendsNothing(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{}

	err := r.process(t.Context(), inbound("m1", "hola"), sender)
	require.Error(t, err)
	assert.Empty(t, sender.sent())
}

func TestRedeliveryAnsweredAfterStorageOutage(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	store.graphs["bot-sales"] = salesGraph(t)
	store.rules["bot-sales"] = []trigger.Rule{
		{ID: "r1", Keywords: []string{"hola"}, Mode: trigger.MatchContains, TargetNodeID: "welcome"},
	}
	store.listErr = errors.New("connection refused")
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{}

	msg := inbound("m1", "hola")
	require.Error(t, r.process(t.Context(), msg, sender))
	assert.Empty(t, sender.sent())

	// Storage recovers and the transport redelivers the unacked message. The
	// failed attempt must not count against the dedup window.
	store.mu.Lock()
	store.listErr = nil
	store.mu.Unlock()
	require.NoError(t, r.process(t.Context(), msg, sender))

	replies := sender.sent()
	require.Len(t, replies, 1)
	assert.Equal(t, "Hola, bienvenido", replies[0].text)
}

func TestFlowCompletionClearsState(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	g, err := flow.NewGraph("bot-sales", "welcome", []flow.Node{
		{ID: "welcome", Kind: flow.KindReply, ReplyText: "Hola, bienvenido"},
		{ID: "ask_email", Kind: flow.KindInput, ReplyText: "Cual es tu correo?"},
	})
	require.NoError(t, err)
	store.graphs["bot-sales"] = g
	store.states[stateKey("tenant-1", "+5215550001", "bot-sales")] = storage.ConversationState{
		TenantID:      "tenant-1",
		ContactID:     "+5215550001",
		ChatbotID:     "bot-sales",
		CurrentNodeID: "ask_email",
	}
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{}

	// The input node has no successor: its answer ends the flow silently and
	// the cursor is deleted, so the next message hits trigger matching fresh.
	require.NoError(t, r.process(t.Context(), inbound("m1", "ana@example.com"), sender))
	assert.Empty(t, sender.sent())

	_, err = store.GetConversationState(t.Context(), "tenant-1", "+5215550001", "bot-sales")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAIIntentRouting(t *testing.T) {
	t.Run("intent routes to node", func(t *testing.T) {
		store := newFakeStore()
		bot := salesBot()
		bot.AIEnabled = true
		bot.Fallback = storage.FallbackReply
		bot.FallbackReply = "No te entendi"
		store.bots = []storage.Chatbot{bot}
		store.graphs["bot-sales"] = salesGraph(t)
		r := newTestRouter(t, store, &fakeAnalyzer{analysis: ai.Analysis{Intent: "handoff", Score: 0.92}})
		sender := &fakeSender{}

		require.NoError(t, r.process(t.Context(), inbound("m1", "quiero hablar con alguien"), sender))
		replies := sender.sent()
		require.Len(t, replies, 1)
		assert.Equal(t, "Te paso con un agente", replies[0].text)
	})

	t.Run("analyzer failure degrades to fallback", func(t *testing.T) {
		store := newFakeStore()
		bot := salesBot()
		bot.AIEnabled = true
		bot.Fallback = storage.FallbackReply
		bot.FallbackReply = "No te entendi"
		store.bots = []storage.Chatbot{bot}
		store.graphs["bot-sales"] = salesGraph(t)
		r := newTestRouter(t, store, &fakeAnalyzer{err: errors.New("timeout")})
		sender := &fakeSender{}

		require.NoError(t, r.process(t.Context(), inbound("m1", "quiero hablar con alguien"), sender))
		replies := sender.sent()
		require.Len(t, replies, 1)
		assert.Equal(t, "No te entendi", replies[0].text)
	})
}

func TestDeliveryFailureKeepsState(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	store.graphs["bot-sales"] = salesGraph(t)
	store.rules["bot-sales"] = []trigger.Rule{
		{ID: "r1", Keywords: []string{"hola"}, Mode: trigger.MatchExact, TargetNodeID: "welcome"},
	}
	r := newTestRouter(t, store, nil)
	sender := &fakeSender{err: errors.New("socket closed")}

	require.Error(t, r.process(t.Context(), inbound("m1", "hola"), sender))

	st, err := store.GetConversationState(t.Context(), "tenant-1", "+5215550001", "bot-sales")
	require.NoError(t, err)
	assert.Equal(t, "welcome", st.CurrentNodeID)
}

func TestPerContactOrdering(t *testing.T) {
	store := newFakeStore()
	store.bots = []storage.Chatbot{salesBot()}
	store.graphs["bot-sales"] = salesGraph(t)
	store.rules["bot-sales"] = []trigger.Rule{
		{ID: "r1", Keywords: []string{"hola"}, Mode: trigger.MatchContains, TargetNodeID: "welcome"},
	}
	r := newTestRouter(t, store, nil)
	r.Start(t.Context())
	sender := &fakeSender{}

	const n = 20
	for i := 0; i < n; i++ {
		msg := inbound(fmt.Sprintf("seq-%03d", i), fmt.Sprintf("hola %d", i))
		require.NoError(t, r.HandleInbound(t.Context(), msg, sender))
	}

	require.Eventually(t, func() bool {
		return len(sender.sent()) == n
	}, 2*time.Second, 10*time.Millisecond)

	replies := sender.sent()
	for i, rep := range replies {
		assert.Equal(t, fmt.Sprintf("seq-%03d", i), rep.inReplyTo)
	}
}
