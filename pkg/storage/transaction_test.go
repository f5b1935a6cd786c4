package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_WritesInvisibleUntilCommit(t *testing.T) {
	engine := NewMemoryEngine()
	tx := engine.BeginTransaction()

	require.NoError(t, tx.CreateNode(node("nl", "Country", nil)))
	_, err := engine.GetNode("nl")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, tx.OperationCount())

	require.NoError(t, tx.Commit())
	assert.False(t, tx.IsActive())

	got, err := engine.GetNode("nl")
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestTransaction_DeleteThenRecreate(t *testing.T) {
	engine := NewMemoryEngine()
	tx := engine.BeginTransaction()
	require.NoError(t, tx.CreateNode(node("a", "Thing", nil)))
	require.NoError(t, tx.CreateNode(node("b", "Thing", nil)))
	require.NoError(t, tx.CreateEdge(NewEdge("a", "b", "describes")))
	require.NoError(t, tx.Commit())

	tx = engine.BeginTransaction()
	require.NoError(t, tx.DeleteNode("b"))
	require.NoError(t, tx.CreateNode(node("b", "Other", map[string]any{"k": "v"})))
	require.NoError(t, tx.CreateEdge(NewEdge("a", "b", "describes")))
	require.NoError(t, tx.Commit())

	got, err := engine.GetNode("b")
	require.NoError(t, err)
	assert.Equal(t, "Other", got.Type())

	edges, err := engine.GetOutgoingEdges("a")
	require.NoError(t, err)
	require.Len(t, edges, 1)

	ids, err := engine.GetNodesByLabel("thing")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"a"}, ids)

	count, err := engine.EdgeCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestTransaction_PendingEdgesDroppedWithNode(t *testing.T) {
	engine := NewMemoryEngine()
	tx := engine.BeginTransaction()
	require.NoError(t, tx.CreateNode(node("a", "Thing", nil)))
	require.NoError(t, tx.CreateNode(node("b", "Thing", nil)))
	require.NoError(t, tx.CreateEdge(NewEdge("a", "b", "describes")))
	require.NoError(t, tx.DeleteNode("b"))

	edges, err := tx.GetOutgoingEdges("a")
	require.NoError(t, err)
	assert.Empty(t, edges)
	require.NoError(t, tx.Commit())

	count, err := engine.EdgeCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTransaction_ReturnsCopies(t *testing.T) {
	engine := NewMemoryEngine()
	tx := engine.BeginTransaction()
	props := map[string]any{"languages": []any{"en"}}
	require.NoError(t, tx.CreateNode(node("a", "Thing", props)))
	props["languages"].([]any)[0] = "fr"

	got, err := tx.GetNode("a")
	require.NoError(t, err)
	assert.Equal(t, []any{"en"}, got.Properties["languages"])
}

func TestTransaction_ConcurrentDeleteConflicts(t *testing.T) {
	setup := func(t *testing.T) *MemoryEngine {
		engine := NewMemoryEngine()
		tx := engine.BeginTransaction()
		require.NoError(t, tx.CreateNode(node("a", "Thing", nil)))
		require.NoError(t, tx.CreateNode(node("b", "Thing", nil)))
		require.NoError(t, tx.Commit())
		return engine
	}
	deleteB := func(t *testing.T, engine *MemoryEngine) {
		tx := engine.BeginTransaction()
		require.NoError(t, tx.DeleteNode("b"))
		require.NoError(t, tx.Commit())
	}

	t.Run("update of deleted node", func(t *testing.T) {
		engine := setup(t)
		tx := engine.BeginTransaction()
		require.NoError(t, tx.UpdateNode(node("b", "Thing", map[string]any{"k": "v"})))

		deleteB(t, engine)

		assert.ErrorIs(t, tx.Commit(), ErrConflict)
		_, err := engine.GetNode("b")
		assert.ErrorIs(t, err, ErrNotFound)
		count, err := engine.NodeCount()
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})

	t.Run("edge to deleted node", func(t *testing.T) {
		engine := setup(t)
		tx := engine.BeginTransaction()
		require.NoError(t, tx.CreateEdge(NewEdge("a", "b", "describes")))

		deleteB(t, engine)

		assert.ErrorIs(t, tx.Commit(), ErrConflict)
		count, err := engine.EdgeCount()
		require.NoError(t, err)
		assert.EqualValues(t, 0, count)
	})

	t.Run("node recreated in the same transaction", func(t *testing.T) {
		engine := setup(t)
		tx := engine.BeginTransaction()
		require.NoError(t, tx.DeleteNode("b"))
		require.NoError(t, tx.CreateNode(node("b", "Other", nil)))
		require.NoError(t, tx.UpdateNode(node("b", "Other", map[string]any{"k": "v"})))
		require.NoError(t, tx.CreateEdge(NewEdge("a", "b", "describes")))
		require.NoError(t, tx.Commit())

		got, err := engine.GetNode("b")
		require.NoError(t, err)
		assert.Equal(t, "v", got.Properties["k"])
	})
}
