// Package flow models a chatbot's conversation flow graph.
//
// Nodes are kept in an arena keyed by stable string ids and every reference
// is validated at read time: the dashboard can edit a flow while
// conversations are mid-flight, so a saved node id may no longer exist.
package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidNode is returned when a node id does not exist in the graph.
var ErrInvalidNode = errors.New("flow node does not exist")

// NodeKind describes how a node participates in a conversation.
type NodeKind string

const (
	// KindReply sends the node's reply text and waits for the next trigger.
	KindReply NodeKind = "reply"
	// KindInput sends the reply text and then consumes the contact's next
	// message as free-form input, bypassing trigger matching.
	KindInput NodeKind = "input"
)

// Node is a single conversation step.
type Node struct {
	ID         string
	Kind       NodeKind
	ReplyText  string
	NextNodeID string
	// Intent names the analyzer intent that routes to this node when the
	// chatbot has AI-assisted routing enabled. Empty for most nodes.
	Intent string
}

// AwaitsInput reports whether the node consumes the next message as free-form input.
func (n Node) AwaitsInput() bool {
	return n.Kind == KindInput
}

// Graph is the directed graph of conversation nodes for one chatbot.
type Graph struct {
	ChatbotID   string
	EntryNodeID string
	nodes       map[string]Node
}

// NewGraph builds a graph from its nodes. The entry node must be present.
func NewGraph(chatbotID, entryNodeID string, nodes []Node) (*Graph, error) {
	arena := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return nil, fmt.Errorf("flow graph %s: node with empty id", chatbotID)
		}
		if _, dup := arena[id]; dup {
			return nil, fmt.Errorf("flow graph %s: duplicate node id %s", chatbotID, id)
		}
		n.ID = id
		arena[id] = n
	}
	if _, ok := arena[entryNodeID]; !ok {
		return nil, fmt.Errorf("flow graph %s: entry node %s missing", chatbotID, entryNodeID)
	}
	return &Graph{
		ChatbotID:   chatbotID,
		EntryNodeID: entryNodeID,
		nodes:       arena,
	}, nil
}

// Node returns the node with the given id, or ErrInvalidNode.
func (g *Graph) Node(id string) (Node, error) {
	n, ok := g.nodes[strings.TrimSpace(id)]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrInvalidNode, id)
	}
	return n, nil
}

// Has reports whether a node id exists in the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[strings.TrimSpace(id)]
	return ok
}

// Entry returns the entry node.
func (g *Graph) Entry() Node {
	return g.nodes[g.EntryNodeID]
}

// NodeByIntent returns the first node carrying the given analyzer intent.
// Lookup order is unspecified across nodes sharing an intent; flows are
// expected to assign each intent to at most one node.
func (g *Graph) NodeByIntent(intent string) (Node, bool) {
	intent = strings.ToLower(strings.TrimSpace(intent))
	if intent == "" {
		return Node{}, false
	}
	for _, n := range g.nodes {
		if strings.ToLower(strings.TrimSpace(n.Intent)) == intent {
			return n, true
		}
	}
	return Node{}, false
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}
