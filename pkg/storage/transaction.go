package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Transaction errors
var (
	ErrTransactionClosed = errors.New("transaction already closed")
)

// TransactionStatus represents the current state of a transaction.
type TransactionStatus string

const (
	TxStatusActive     TransactionStatus = "active"
	TxStatusCommitted  TransactionStatus = "committed"
	TxStatusRolledBack TransactionStatus = "rolled_back"
)

// OperationType identifies the type of operation in a transaction.
type OperationType string

const (
	OpCreateNode OperationType = "create_node"
	OpUpdateNode OperationType = "update_node"
	OpDeleteNode OperationType = "delete_node"
	OpCreateEdge OperationType = "create_edge"
	OpDeleteEdge OperationType = "delete_edge"
)

// Operation is one buffered write, replayed in order on Commit.
type Operation struct {
	Type      OperationType
	Timestamp time.Time

	NodeID NodeID
	Node   *Node

	EdgeID EdgeID
	Edge   *Edge
}

// Transaction buffers writes against a MemoryEngine.
//
// Reads see the engine's committed state overlaid with the transaction's own
// pending writes. Commit re-checks create operations against the engine
// under its write lock, so two transactions racing to create the same node
// cannot both succeed: the loser gets ErrAlreadyExists. Rollback simply
// discards the buffer.
//
// Example:
//
//	tx := engine.BeginTransaction()
//	defer tx.Rollback()
//
//	if err := tx.CreateNode(node); err != nil {
//		return err
//	}
//	if err := tx.CreateEdge(storage.NewEdge(node.ID, "nl", "hasPermissionScope")); err != nil {
//		return err
//	}
//	return tx.Commit()
type Transaction struct {
	mu sync.Mutex

	ID        string
	StartTime time.Time
	Status    TransactionStatus

	operations []Operation

	engine *MemoryEngine

	pendingNodes map[NodeID]*Node
	pendingEdges map[EdgeID]*Edge
	deletedNodes map[NodeID]struct{}
	deletedEdges map[EdgeID]struct{}
}

var _ Tx = (*Transaction)(nil)

// NewTransaction creates a new transaction for the given engine.
func NewTransaction(engine *MemoryEngine) *Transaction {
	return &Transaction{
		ID:           generateTxID(),
		StartTime:    time.Now(),
		Status:       TxStatusActive,
		engine:       engine,
		pendingNodes: make(map[NodeID]*Node),
		pendingEdges: make(map[EdgeID]*Edge),
		deletedNodes: make(map[NodeID]struct{}),
		deletedEdges: make(map[EdgeID]struct{}),
	}
}

func generateTxID() string {
	return "tx-" + time.Now().Format("20060102150405.000000")
}

// IsActive returns true if the transaction is still active.
func (tx *Transaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.Status == TxStatusActive
}

// OperationCount returns the number of buffered operations.
func (tx *Transaction) OperationCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.operations)
}

func (tx *Transaction) record(op Operation) {
	op.Timestamp = time.Now()
	tx.operations = append(tx.operations, op)
}

// committedNode reads the engine's committed copy of a node.
func (tx *Transaction) committedNode(id NodeID) (*Node, bool) {
	tx.engine.mu.RLock()
	defer tx.engine.mu.RUnlock()
	n, ok := tx.engine.nodes[id]
	return n, ok
}

// nodeExists checks visibility within the transaction. Caller holds tx.mu.
func (tx *Transaction) nodeExists(id NodeID) bool {
	if _, deleted := tx.deletedNodes[id]; deleted {
		return false
	}
	if _, pending := tx.pendingNodes[id]; pending {
		return true
	}
	_, ok := tx.committedNode(id)
	return ok
}

// Exists implements Tx.
func (tx *Transaction) Exists(id NodeID) (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.Status != TxStatusActive {
		return false, ErrTransactionClosed
	}
	return tx.nodeExists(id), nil
}

// GetNode implements Tx.
func (tx *Transaction) GetNode(id NodeID) (*Node, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return nil, ErrTransactionClosed
	}
	if id == "" {
		return nil, ErrInvalidID
	}
	if _, deleted := tx.deletedNodes[id]; deleted {
		return nil, ErrNotFound
	}
	if pending, exists := tx.pendingNodes[id]; exists {
		return copyNode(pending), nil
	}
	tx.engine.mu.RLock()
	defer tx.engine.mu.RUnlock()
	node, exists := tx.engine.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// CreateNode implements Tx.
func (tx *Transaction) CreateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	if tx.nodeExists(node.ID) {
		return ErrAlreadyExists
	}

	nodeCopy := copyNode(node)
	now := time.Now()
	nodeCopy.CreatedAt = now
	nodeCopy.UpdatedAt = now
	tx.pendingNodes[node.ID] = nodeCopy
	delete(tx.deletedNodes, node.ID) // In case it was previously deleted in this tx

	tx.record(Operation{Type: OpCreateNode, NodeID: node.ID, Node: nodeCopy})
	return nil
}

// UpdateNode implements Tx.
func (tx *Transaction) UpdateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	var createdAt time.Time
	if pending, exists := tx.pendingNodes[node.ID]; exists {
		createdAt = pending.CreatedAt
	} else if !tx.nodeExists(node.ID) {
		return ErrNotFound
	} else if committed, ok := tx.committedNode(node.ID); ok {
		createdAt = committed.CreatedAt
	}

	nodeCopy := copyNode(node)
	nodeCopy.CreatedAt = createdAt
	nodeCopy.UpdatedAt = time.Now()
	tx.pendingNodes[node.ID] = nodeCopy

	tx.record(Operation{Type: OpUpdateNode, NodeID: node.ID, Node: nodeCopy})
	return nil
}

// DeleteNode implements Tx. Edges touching the node are deleted with it.
func (tx *Transaction) DeleteNode(id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	if !tx.nodeExists(id) {
		return ErrNotFound
	}

	for _, e := range tx.incidentEdgesLocked(id) {
		tx.deleteEdgeLocked(e.ID)
	}

	delete(tx.pendingNodes, id)
	tx.deletedNodes[id] = struct{}{}
	tx.record(Operation{Type: OpDeleteNode, NodeID: id})
	return nil
}

// CreateEdge implements Tx. Both endpoints must be visible.
func (tx *Transaction) CreateEdge(edge *Edge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	if tx.edgeExistsLocked(edge.ID) {
		return ErrAlreadyExists
	}
	if !tx.nodeExists(edge.StartNode) || !tx.nodeExists(edge.EndNode) {
		return ErrInvalidEdge
	}

	edgeCopy := copyEdge(edge)
	edgeCopy.Seq = tx.engine.nextSeq()
	edgeCopy.CreatedAt = time.Now()
	tx.pendingEdges[edge.ID] = edgeCopy
	delete(tx.deletedEdges, edge.ID)

	tx.record(Operation{Type: OpCreateEdge, EdgeID: edge.ID, Edge: edgeCopy})
	return nil
}

// DeleteEdge implements Tx.
func (tx *Transaction) DeleteEdge(id EdgeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	if !tx.edgeExistsLocked(id) {
		return ErrNotFound
	}
	tx.deleteEdgeLocked(id)
	return nil
}

func (tx *Transaction) deleteEdgeLocked(id EdgeID) {
	delete(tx.pendingEdges, id)
	tx.deletedEdges[id] = struct{}{}
	tx.record(Operation{Type: OpDeleteEdge, EdgeID: id})
}

func (tx *Transaction) edgeExistsLocked(id EdgeID) bool {
	if _, ok := tx.pendingEdges[id]; ok {
		return true
	}
	if _, deleted := tx.deletedEdges[id]; deleted {
		return false
	}
	tx.engine.mu.RLock()
	defer tx.engine.mu.RUnlock()
	_, ok := tx.engine.edges[id]
	return ok
}

// visibleEdgesLocked returns every edge visible to the transaction that
// matches keep.
func (tx *Transaction) visibleEdgesLocked(index map[NodeID]map[EdgeID]struct{}, id NodeID, keep func(*Edge) bool) []*Edge {
	var out []*Edge
	tx.engine.mu.RLock()
	for edgeID := range index[id] {
		if _, deleted := tx.deletedEdges[edgeID]; deleted {
			continue
		}
		if _, shadowed := tx.pendingEdges[edgeID]; shadowed {
			continue
		}
		if e := tx.engine.edges[edgeID]; e != nil {
			out = append(out, copyEdge(e))
		}
	}
	tx.engine.mu.RUnlock()
	for _, e := range tx.pendingEdges {
		if keep(e) {
			out = append(out, copyEdge(e))
		}
	}
	sortEdges(out)
	return out
}

func (tx *Transaction) incidentEdgesLocked(id NodeID) []*Edge {
	touches := func(e *Edge) bool { return e.StartNode == id || e.EndNode == id }
	out := tx.visibleEdgesLocked(tx.engine.outgoingEdges, id, touches)
	seen := make(map[EdgeID]struct{}, len(out))
	for _, e := range out {
		seen[e.ID] = struct{}{}
	}
	for _, e := range tx.visibleEdgesLocked(tx.engine.incomingEdges, id, touches) {
		if _, dup := seen[e.ID]; !dup {
			out = append(out, e)
		}
	}
	return out
}

// GetOutgoingEdges implements Tx.
func (tx *Transaction) GetOutgoingEdges(id NodeID) ([]*Edge, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return nil, ErrTransactionClosed
	}
	return tx.visibleEdgesLocked(tx.engine.outgoingEdges, id, func(e *Edge) bool {
		return e.StartNode == id
	}), nil
}

// NodesByLabel implements Tx.
func (tx *Transaction) NodesByLabel(label string) ([]NodeID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return nil, ErrTransactionClosed
	}

	normal := normalizeLabel(label)
	set := make(map[NodeID]struct{})
	tx.engine.mu.RLock()
	for id := range tx.engine.nodesByLabel[normal] {
		if _, pending := tx.pendingNodes[id]; pending {
			continue
		}
		if _, deleted := tx.deletedNodes[id]; deleted {
			continue
		}
		set[id] = struct{}{}
	}
	tx.engine.mu.RUnlock()
	for id, n := range tx.pendingNodes {
		for _, l := range n.Labels {
			if normalizeLabel(l) == normal {
				set[id] = struct{}{}
			}
		}
	}

	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Commit applies all buffered operations atomically.
//
// Create operations are validated against the committed state first. A node
// or edge created by a concurrent transaction since this one read it makes
// the whole commit fail with ErrAlreadyExists and nothing is applied.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	tx.engine.mu.Lock()
	defer tx.engine.mu.Unlock()

	if tx.engine.closed {
		return ErrStorageClosed
	}

	if err := tx.validateUnlocked(); err != nil {
		return err
	}

	for _, op := range tx.operations {
		switch op.Type {
		case OpCreateNode:
			tx.engine.createNodeUnlocked(op.Node)
		case OpUpdateNode:
			tx.engine.updateNodeUnlocked(op.Node)
		case OpDeleteNode:
			tx.engine.deleteNodeUnlocked(op.NodeID)
		case OpCreateEdge:
			tx.engine.createEdgeUnlocked(op.Edge)
		case OpDeleteEdge:
			tx.engine.deleteEdgeUnlocked(op.EdgeID)
		}
	}

	tx.Status = TxStatusCommitted
	return nil
}

// validateUnlocked replays the buffered operations against the committed
// state before anything is applied. Creates must not hit an id that is taken.
// Updates and new edges must not touch a node that another transaction has
// deleted since it was read. Caller must hold the engine lock.
func (tx *Transaction) validateUnlocked() error {
	nodes := make(map[NodeID]bool)
	edges := make(map[EdgeID]bool)
	nodeAlive := func(id NodeID) bool {
		if alive, ok := nodes[id]; ok {
			return alive
		}
		_, exists := tx.engine.nodes[id]
		return exists
	}
	edgeAlive := func(id EdgeID) bool {
		if alive, ok := edges[id]; ok {
			return alive
		}
		_, exists := tx.engine.edges[id]
		return exists
	}

	for _, op := range tx.operations {
		switch op.Type {
		case OpCreateNode:
			if nodeAlive(op.NodeID) {
				return ErrAlreadyExists
			}
			nodes[op.NodeID] = true
		case OpUpdateNode:
			if !nodeAlive(op.NodeID) {
				return fmt.Errorf("%w: node %q was deleted", ErrConflict, op.NodeID)
			}
		case OpDeleteNode:
			nodes[op.NodeID] = false
		case OpCreateEdge:
			if edgeAlive(op.EdgeID) {
				return ErrAlreadyExists
			}
			for _, end := range []NodeID{op.Edge.StartNode, op.Edge.EndNode} {
				if !nodeAlive(end) {
					return fmt.Errorf("%w: edge %q endpoint %q was deleted", ErrConflict, op.EdgeID, end)
				}
			}
			edges[op.EdgeID] = true
		case OpDeleteEdge:
			edges[op.EdgeID] = false
		}
	}
	return nil
}

// Rollback discards all buffered operations. Rolling back a finished
// transaction is a no-op, so it is safe to defer.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.Status != TxStatusActive {
		return nil
	}

	tx.operations = nil
	tx.pendingNodes = nil
	tx.pendingEdges = nil
	tx.deletedNodes = nil
	tx.deletedEdges = nil

	tx.Status = TxStatusRolledBack
	return nil
}
