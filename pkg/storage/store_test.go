package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engines returns one fresh instance of every Store implementation in this
// package.
func engines(t *testing.T) map[string]Store {
	t.Helper()
	badgerEngine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { badgerEngine.Close() })

	memory := NewMemoryEngine()
	t.Cleanup(func() { memory.Close() })

	return map[string]Store{
		"memory": memory,
		"badger": badgerEngine,
	}
}

func begin(t *testing.T, s Store) Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func node(id NodeID, label string, props map[string]any) *Node {
	return &Node{ID: id, Labels: []string{label}, Properties: props}
}

func TestStore_NodeLifecycle(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx := begin(t, s)
			require.NoError(t, tx.CreateNode(node("nl", "Country", map[string]any{"identifier": "nl"})))
			assert.ErrorIs(t, tx.CreateNode(node("nl", "Country", nil)), ErrAlreadyExists)

			ok, err := tx.Exists("nl")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := tx.GetNode("nl")
			require.NoError(t, err)
			assert.Equal(t, "Country", got.Type())
			assert.Equal(t, "nl", got.Properties["identifier"])
			require.NoError(t, tx.Commit())

			tx = begin(t, s)
			require.NoError(t, tx.UpdateNode(node("nl", "Country", map[string]any{"identifier": "nl", "name": "Netherlands"})))
			got, err = tx.GetNode("nl")
			require.NoError(t, err)
			assert.Equal(t, "Netherlands", got.Properties["name"])
			require.NoError(t, tx.Commit())

			tx = begin(t, s)
			require.NoError(t, tx.DeleteNode("nl"))
			_, err = tx.GetNode("nl")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, tx.DeleteNode("nl"), ErrNotFound)
			assert.ErrorIs(t, tx.UpdateNode(node("nl", "Country", nil)), ErrNotFound)
			require.NoError(t, tx.Commit())
		})
	}
}

func TestStore_EdgesOrderedByCreation(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx := begin(t, s)
			for _, id := range []NodeID{"c1", "z", "a", "m"} {
				require.NoError(t, tx.CreateNode(node(id, "Thing", nil)))
			}
			for _, end := range []NodeID{"z", "a", "m"} {
				require.NoError(t, tx.CreateEdge(NewEdge("c1", end, "describes")))
			}
			assert.ErrorIs(t, tx.CreateEdge(NewEdge("c1", "a", "describes")), ErrAlreadyExists)
			assert.ErrorIs(t, tx.CreateEdge(NewEdge("c1", "missing", "describes")), ErrInvalidEdge)
			require.NoError(t, tx.Commit())

			tx = begin(t, s)
			edges, err := tx.GetOutgoingEdges("c1")
			require.NoError(t, err)
			var ends []NodeID
			for _, e := range edges {
				ends = append(ends, e.EndNode)
				assert.Equal(t, "describes", e.Type)
			}
			assert.Equal(t, []NodeID{"z", "a", "m"}, ends)

			require.NoError(t, tx.DeleteEdge(EdgeIDFor("c1", "a", "describes")))
			require.NoError(t, tx.CreateEdge(NewEdge("c1", "a", "describes")))
			edges, err = tx.GetOutgoingEdges("c1")
			require.NoError(t, err)
			require.Len(t, edges, 3)
			assert.Equal(t, NodeID("a"), edges[2].EndNode)
			require.NoError(t, tx.Commit())
		})
	}
}

func TestStore_DeleteNodeRemovesIncidentEdges(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx := begin(t, s)
			for _, id := range []NodeID{"r1", "c1", "c2"} {
				require.NoError(t, tx.CreateNode(node(id, "DocumentaryUnit", nil)))
			}
			require.NoError(t, tx.CreateEdge(NewEdge("c1", "r1", "heldBy")))
			require.NoError(t, tx.CreateEdge(NewEdge("c2", "c1", "childOf")))
			require.NoError(t, tx.Commit())

			tx = begin(t, s)
			require.NoError(t, tx.DeleteNode("c1"))
			out, err := tx.GetOutgoingEdges("c2")
			require.NoError(t, err)
			assert.Empty(t, out)
			require.NoError(t, tx.Commit())

			tx = begin(t, s)
			out, err = tx.GetOutgoingEdges("c2")
			require.NoError(t, err)
			assert.Empty(t, out)
			assert.ErrorIs(t, tx.DeleteEdge(EdgeIDFor("c1", "r1", "heldBy")), ErrNotFound)
		})
	}
}

func TestStore_NodesByLabel(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx := begin(t, s)
			require.NoError(t, tx.CreateNode(node("b", "Repository", nil)))
			require.NoError(t, tx.CreateNode(node("a", "Repository", nil)))
			require.NoError(t, tx.CreateNode(node("x", "Country", nil)))
			require.NoError(t, tx.Commit())

			tx = begin(t, s)
			require.NoError(t, tx.CreateNode(node("c", "Repository", nil)))
			require.NoError(t, tx.DeleteNode("b"))

			ids, err := tx.NodesByLabel("repository")
			require.NoError(t, err)
			assert.Equal(t, []NodeID{"a", "c"}, ids)
		})
	}
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx := begin(t, s)
			require.NoError(t, tx.CreateNode(node("nl", "Country", nil)))
			require.NoError(t, tx.Rollback())
			require.NoError(t, tx.Rollback(), "second rollback is a no-op")

			tx = begin(t, s)
			ok, err := tx.Exists("nl")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_ClosedTransaction(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx := begin(t, s)
			require.NoError(t, tx.Commit())
			assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
			assert.ErrorIs(t, tx.CreateNode(node("nl", "Country", nil)), ErrTransactionClosed)
		})
	}
}

func TestStore_ConcurrentCreateConflicts(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			tx1 := begin(t, s)
			tx2 := begin(t, s)
			require.NoError(t, tx1.CreateNode(node("nl", "Country", nil)))
			require.NoError(t, tx2.CreateNode(node("nl", "Country", nil)))

			require.NoError(t, tx1.Commit())
			err := tx2.Commit()
			require.Error(t, err)
			assert.True(t, err == ErrAlreadyExists || err == ErrConflict, "got %v", err)
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			_, err := s.Begin(context.Background())
			assert.ErrorIs(t, err, ErrStorageClosed)
		})
	}
}
