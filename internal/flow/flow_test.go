package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph("bot-1", "entry", []Node{
		{ID: "entry", Kind: KindReply, ReplyText: "Hola!"},
		{ID: "ask-name", Kind: KindInput, ReplyText: "¿Cómo te llamas?", NextNodeID: "greet"},
		{ID: "greet", Kind: KindReply, ReplyText: "Un gusto", Intent: "greeting"},
	})
	require.NoError(t, err)
	return g
}

func TestNewGraphValidation(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		_, err := NewGraph("bot-1", "nope", []Node{{ID: "a"}})
		assert.Error(t, err)
	})

	t.Run("duplicate node id", func(t *testing.T) {
		_, err := NewGraph("bot-1", "a", []Node{{ID: "a"}, {ID: "a"}})
		assert.Error(t, err)
	})

	t.Run("empty node id", func(t *testing.T) {
		_, err := NewGraph("bot-1", "a", []Node{{ID: "  "}})
		assert.Error(t, err)
	})
}

func TestNodeLookup(t *testing.T) {
	g := testGraph(t)

	n, err := g.Node("ask-name")
	require.NoError(t, err)
	assert.True(t, n.AwaitsInput())
	assert.Equal(t, "greet", n.NextNodeID)

	_, err = g.Node("deleted-node")
	assert.ErrorIs(t, err, ErrInvalidNode)

	assert.True(t, g.Has("entry"))
	assert.False(t, g.Has("deleted-node"))
	assert.Equal(t, "entry", g.Entry().ID)
	assert.Equal(t, 3, g.Len())
}

func TestNodeByIntent(t *testing.T) {
	g := testGraph(t)

	n, ok := g.NodeByIntent("Greeting")
	require.True(t, ok)
	assert.Equal(t, "greet", n.ID)

	_, ok = g.NodeByIntent("refund")
	assert.False(t, ok)

	_, ok = g.NodeByIntent("")
	assert.False(t, ok)
}
