package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// normalizeLabel converts a label to lowercase for case-insensitive matching.
func normalizeLabel(label string) string {
	return strings.ToLower(label)
}

// MemoryEngine is a thread-safe, in-memory graph store.
//
// All data lives in maps guarded by a single RWMutex and is lost when the
// process exits. Writes only happen through a Transaction, which buffers its
// operations and applies them atomically on Commit.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	tx := engine.BeginTransaction()
//	_ = tx.CreateNode(&storage.Node{ID: "nl", Labels: []string{"Country"}})
//	_ = tx.Commit()
//
//	n, _ := engine.NodeCount()
//	fmt.Println(n) // 1
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Indexes for efficient lookups
	nodesByLabel  map[string]map[NodeID]struct{}
	outgoingEdges map[NodeID]map[EdgeID]struct{}
	incomingEdges map[NodeID]map[EdgeID]struct{}

	seq atomic.Uint64

	closed bool
}

var _ Store = (*MemoryEngine)(nil)

// NewMemoryEngine creates a new in-memory storage engine with empty indexes.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		nodesByLabel:  make(map[string]map[NodeID]struct{}),
		outgoingEdges: make(map[NodeID]map[EdgeID]struct{}),
		incomingEdges: make(map[NodeID]map[EdgeID]struct{}),
	}
}

// Begin implements Store.
func (m *MemoryEngine) Begin(_ context.Context) (Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	return NewTransaction(m), nil
}

// BeginTransaction starts a buffered transaction.
func (m *MemoryEngine) BeginTransaction() *Transaction {
	return NewTransaction(m)
}

// GetNode retrieves a committed node by id. The result is a deep copy.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// GetOutgoingEdges returns committed edges starting at nodeID ordered by Seq.
func (m *MemoryEngine) GetOutgoingEdges(nodeID NodeID) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var out []*Edge
	for edgeID := range m.outgoingEdges[nodeID] {
		if e := m.edges[edgeID]; e != nil {
			out = append(out, copyEdge(e))
		}
	}
	sortEdges(out)
	return out, nil
}

// GetNodesByLabel returns the ids of committed nodes carrying label.
func (m *MemoryEngine) GetNodesByLabel(label string) ([]NodeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := make([]NodeID, 0, len(m.nodesByLabel[normalizeLabel(label)]))
	for id := range m.nodesByLabel[normalizeLabel(label)] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// NodeCount returns the number of committed nodes.
func (m *MemoryEngine) NodeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// EdgeCount returns the number of committed edges.
func (m *MemoryEngine) EdgeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// Close marks the engine closed and drops its data.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.nodesByLabel = nil
	m.outgoingEdges = nil
	m.incomingEdges = nil
	return nil
}

func (m *MemoryEngine) nextSeq() uint64 {
	return m.seq.Add(1)
}

// Internal methods used by Transaction.Commit. Caller holds m.mu.

func (m *MemoryEngine) createNodeUnlocked(node *Node) {
	m.nodes[node.ID] = copyNode(node)
	m.indexLabelsUnlocked(node)
}

func (m *MemoryEngine) updateNodeUnlocked(node *Node) {
	if existing, ok := m.nodes[node.ID]; ok {
		m.unindexLabelsUnlocked(existing)
	}
	m.nodes[node.ID] = copyNode(node)
	m.indexLabelsUnlocked(node)
}

func (m *MemoryEngine) indexLabelsUnlocked(node *Node) {
	for _, label := range node.Labels {
		normalLabel := normalizeLabel(label)
		if m.nodesByLabel[normalLabel] == nil {
			m.nodesByLabel[normalLabel] = make(map[NodeID]struct{})
		}
		m.nodesByLabel[normalLabel][node.ID] = struct{}{}
	}
}

func (m *MemoryEngine) unindexLabelsUnlocked(node *Node) {
	for _, label := range node.Labels {
		if idx := m.nodesByLabel[normalizeLabel(label)]; idx != nil {
			delete(idx, node.ID)
		}
	}
}

func (m *MemoryEngine) deleteNodeUnlocked(id NodeID) {
	node, exists := m.nodes[id]
	if !exists {
		return
	}
	m.unindexLabelsUnlocked(node)

	for edgeID := range m.outgoingEdges[id] {
		m.deleteEdgeUnlocked(edgeID)
	}
	for edgeID := range m.incomingEdges[id] {
		m.deleteEdgeUnlocked(edgeID)
	}
	delete(m.outgoingEdges, id)
	delete(m.incomingEdges, id)
	delete(m.nodes, id)
}

func (m *MemoryEngine) createEdgeUnlocked(edge *Edge) {
	m.edges[edge.ID] = copyEdge(edge)

	if m.outgoingEdges[edge.StartNode] == nil {
		m.outgoingEdges[edge.StartNode] = make(map[EdgeID]struct{})
	}
	m.outgoingEdges[edge.StartNode][edge.ID] = struct{}{}

	if m.incomingEdges[edge.EndNode] == nil {
		m.incomingEdges[edge.EndNode] = make(map[EdgeID]struct{})
	}
	m.incomingEdges[edge.EndNode][edge.ID] = struct{}{}
}

func (m *MemoryEngine) deleteEdgeUnlocked(id EdgeID) {
	edge, exists := m.edges[id]
	if !exists {
		return
	}
	if out := m.outgoingEdges[edge.StartNode]; out != nil {
		delete(out, id)
	}
	if in := m.incomingEdges[edge.EndNode]; in != nil {
		delete(in, id)
	}
	delete(m.edges, id)
}
