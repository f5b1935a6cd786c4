// Package storage provides the graph store the bundle engine persists into.
//
// The store is a plain labeled property graph: nodes carry an id, labels and
// a property map, edges are directed and labeled. All writes go through a Tx
// obtained from a Store; nothing is visible to other transactions until
// Commit succeeds.
//
// Implementations:
//   - MemoryEngine: in-process maps, buffered transactions. Tests and tooling.
//   - BadgerEngine: persistent, backed by BadgerDB transactions.
//   - sqlstore.Store: SQLite or PostgreSQL through database/sql.
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	tx, err := engine.Begin(ctx)
//	if err != nil {
//		return err
//	}
//	defer tx.Rollback()
//
//	err = tx.CreateNode(&storage.Node{
//		ID:         "nl-r1",
//		Labels:     []string{"Repository"},
//		Properties: map[string]any{"identifier": "r1"},
//	})
//	if err != nil {
//		return err
//	}
//	return tx.Commit()
package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrInvalidEdge   = errors.New("invalid edge: start or end node not found")
	ErrStorageClosed = errors.New("storage closed")
	// ErrConflict is returned by Commit when a concurrent transaction wrote
	// the same keys first.
	ErrConflict = errors.New("transaction conflict")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
type NodeID string

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID string

// Node is a vertex of the graph. The first label is the entity type tag.
//
// Thread Safety:
//
//	Node structs are NOT thread-safe. Engines hand out copies.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Type returns the node's primary label, or "" for an unlabeled node.
func (n *Node) Type() string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// Edge is a directed, labeled relationship. Seq orders the outgoing edges of
// a node by creation; engines assign it.
type Edge struct {
	ID        EdgeID `json:"id"`
	StartNode NodeID `json:"startNode"`
	EndNode   NodeID `json:"endNode"`
	Type      string `json:"type"`
	Seq       uint64 `json:"seq"`

	CreatedAt time.Time `json:"-"`
}

// EdgeIDFor returns the id of the edge labeled label from start to end. There
// is at most one such edge.
func EdgeIDFor(start, end NodeID, label string) EdgeID {
	return EdgeID(string(start) + "|" + label + "|" + string(end))
}

// NewEdge returns an edge with its id derived from its endpoints and label.
func NewEdge(start, end NodeID, label string) *Edge {
	return &Edge{
		ID:        EdgeIDFor(start, end, label),
		StartNode: start,
		EndNode:   end,
		Type:      label,
	}
}

// Tx is a unit of work against a Store. Reads observe the transaction's own
// writes. A Tx is used by one goroutine at a time.
type Tx interface {
	// Exists reports whether a node with id is visible to the transaction.
	Exists(id NodeID) (bool, error)
	GetNode(id NodeID) (*Node, error)
	CreateNode(node *Node) error
	// UpdateNode replaces the labels and properties of an existing node.
	UpdateNode(node *Node) error
	// DeleteNode removes the node and every edge touching it.
	DeleteNode(id NodeID) error

	CreateEdge(edge *Edge) error
	DeleteEdge(id EdgeID) error
	// GetOutgoingEdges returns the edges starting at id ordered by Seq.
	GetOutgoingEdges(id NodeID) ([]*Edge, error)

	// NodesByLabel returns the ids of nodes carrying label, sorted.
	NodesByLabel(label string) ([]NodeID, error)

	Commit() error
	Rollback() error
}

// Store opens transactions against a graph backend.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// copyNode creates a deep copy of a node.
func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{
		ID:         n.ID,
		Labels:     slices.Clone(n.Labels),
		Properties: copyProperties(n.Properties),
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

// copyEdge creates a copy of an edge.
func copyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// copyProperties deep-copies the slice and map values a property map can hold.
func copyProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case map[string]any:
		return copyProperties(t)
	case map[string]string:
		return maps.Clone(t)
	}
	return v
}

func validateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}
	return nil
}

func validateEdge(edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID == "" || edge.StartNode == "" || edge.EndNode == "" || edge.Type == "" {
		return ErrInvalidID
	}
	return nil
}

func sortEdges(edges []*Edge) {
	slices.SortFunc(edges, func(a, b *Edge) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
