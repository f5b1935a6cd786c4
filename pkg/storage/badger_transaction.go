package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerTransaction wraps a read-write badger.Txn.
//
// Writes go straight into the native transaction, which keeps them private
// until Commit. Badger detects write conflicts at commit time; those are
// reported as ErrConflict.
type BadgerTransaction struct {
	mu sync.Mutex

	ID        string
	StartTime time.Time
	Status    TransactionStatus

	badgerTx *badger.Txn
	engine   *BadgerEngine

	operations int
}

var _ Tx = (*BadgerTransaction)(nil)

// BeginTransaction starts a new read-write Badger transaction.
func (b *BadgerEngine) BeginTransaction() (*BadgerTransaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	return &BadgerTransaction{
		ID:        generateTxID(),
		StartTime: time.Now(),
		Status:    TxStatusActive,
		badgerTx:  b.db.NewTransaction(true),
		engine:    b,
	}, nil
}

// IsActive returns true if the transaction is still active.
func (tx *BadgerTransaction) IsActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.Status == TxStatusActive
}

// OperationCount returns the number of writes issued so far.
func (tx *BadgerTransaction) OperationCount() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.operations
}

func (tx *BadgerTransaction) active() error {
	if tx.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	return nil
}

// Exists implements Tx.
func (tx *BadgerTransaction) Exists(id NodeID) (bool, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return false, err
	}
	return keyExists(tx.badgerTx, nodeKey(id))
}

// GetNode implements Tx.
func (tx *BadgerTransaction) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return nil, err
	}
	return readNode(tx.badgerTx, id)
}

// CreateNode implements Tx.
func (tx *BadgerTransaction) CreateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}

	exists, err := keyExists(tx.badgerTx, nodeKey(node.ID))
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}

	stored := copyNode(node)
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := tx.putNode(stored); err != nil {
		return err
	}
	for _, label := range stored.Labels {
		if err := tx.badgerTx.Set(labelIndexKey(label, stored.ID), []byte{}); err != nil {
			return fmt.Errorf("indexing label %q: %w", label, err)
		}
	}
	tx.operations++
	return nil
}

func (tx *BadgerTransaction) putNode(n *Node) error {
	data, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("encoding node %s: %w", n.ID, err)
	}
	return tx.badgerTx.Set(nodeKey(n.ID), data)
}

// UpdateNode implements Tx.
func (tx *BadgerTransaction) UpdateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}

	existing, err := readNode(tx.badgerTx, node.ID)
	if err != nil {
		return err
	}
	for _, label := range existing.Labels {
		if err := tx.badgerTx.Delete(labelIndexKey(label, existing.ID)); err != nil {
			return err
		}
	}

	stored := copyNode(node)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	if err := tx.putNode(stored); err != nil {
		return err
	}
	for _, label := range stored.Labels {
		if err := tx.badgerTx.Set(labelIndexKey(label, stored.ID), []byte{}); err != nil {
			return err
		}
	}
	tx.operations++
	return nil
}

// DeleteNode implements Tx. Edges touching the node are deleted with it.
func (tx *BadgerTransaction) DeleteNode(id NodeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}

	node, err := readNode(tx.badgerTx, id)
	if err != nil {
		return err
	}

	for _, prefix := range [][]byte{outgoingIndexPrefix(id), incomingIndexPrefix(id)} {
		for _, key := range scanKeys(tx.badgerTx, prefix) {
			if err := tx.deleteEdge(extractEdgeIDFromIndexKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
	}
	for _, label := range node.Labels {
		if err := tx.badgerTx.Delete(labelIndexKey(label, id)); err != nil {
			return err
		}
	}
	if err := tx.badgerTx.Delete(nodeKey(id)); err != nil {
		return err
	}
	tx.operations++
	return nil
}

// CreateEdge implements Tx. Both endpoints must exist.
func (tx *BadgerTransaction) CreateEdge(edge *Edge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}

	exists, err := keyExists(tx.badgerTx, edgeKey(edge.ID))
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	for _, end := range []NodeID{edge.StartNode, edge.EndNode} {
		ok, err := keyExists(tx.badgerTx, nodeKey(end))
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidEdge
		}
	}

	stored := copyEdge(edge)
	if stored.Seq, err = tx.engine.nextSeq(); err != nil {
		return fmt.Errorf("allocating edge sequence: %w", err)
	}
	stored.CreatedAt = time.Now()

	data, err := encodeEdge(stored)
	if err != nil {
		return fmt.Errorf("encoding edge %s: %w", stored.ID, err)
	}
	if err := tx.badgerTx.Set(edgeKey(stored.ID), data); err != nil {
		return err
	}
	if err := tx.badgerTx.Set(outgoingIndexKey(stored.StartNode, stored.ID), []byte{}); err != nil {
		return err
	}
	if err := tx.badgerTx.Set(incomingIndexKey(stored.EndNode, stored.ID), []byte{}); err != nil {
		return err
	}
	tx.operations++
	return nil
}

// DeleteEdge implements Tx.
func (tx *BadgerTransaction) DeleteEdge(id EdgeID) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}
	return tx.deleteEdge(id)
}

func (tx *BadgerTransaction) deleteEdge(id EdgeID) error {
	edge, err := readEdge(tx.badgerTx, id)
	if err != nil {
		return err
	}
	for _, key := range [][]byte{
		outgoingIndexKey(edge.StartNode, id),
		incomingIndexKey(edge.EndNode, id),
		edgeKey(id),
	} {
		if err := tx.badgerTx.Delete(key); err != nil {
			return err
		}
	}
	tx.operations++
	return nil
}

// GetOutgoingEdges implements Tx.
func (tx *BadgerTransaction) GetOutgoingEdges(id NodeID) ([]*Edge, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return nil, err
	}
	return scanEdges(tx.badgerTx, outgoingIndexPrefix(id))
}

// NodesByLabel implements Tx.
func (tx *BadgerTransaction) NodesByLabel(label string) ([]NodeID, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return nil, err
	}
	return scanLabel(tx.badgerTx, label), nil
}

// Commit applies all writes atomically.
func (tx *BadgerTransaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.active(); err != nil {
		return err
	}

	err := tx.badgerTx.Commit()
	if err != nil {
		tx.Status = TxStatusRolledBack
		if errors.Is(err, badger.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("badger commit failed: %w", err)
	}
	tx.Status = TxStatusCommitted
	return nil
}

// Rollback discards all writes. Rolling back a finished transaction is a
// no-op.
func (tx *BadgerTransaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.Status != TxStatusActive {
		return nil
	}
	tx.badgerTx.Discard()
	tx.Status = TxStatusRolledBack
	return nil
}
