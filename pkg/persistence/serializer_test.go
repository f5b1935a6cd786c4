package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/storage"
)

func TestSerializer_Load(t *testing.T) {
	store := newStore(t)
	upsert(t, store, unit(description("en", "Fonds", datePeriod("1939"))))

	tx := store.BeginTransaction()
	defer tx.Rollback()

	b, err := Serializer{}.Load(tx, "nl-r1-c1")
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentaryUnit, b.Type())
	assert.Equal(t, 2, b.Depth())

	held := b.Relations(entity.HeldBy)
	require.Len(t, held, 1)
	assert.Equal(t, entity.Repository, held[0].Type())
	assert.Empty(t, held[0].Data(), "referential targets are loaded shallow")

	t.Run("depth cap", func(t *testing.T) {
		_, err := Serializer{MaxDepth: 1}.Load(tx, "nl-r1-c1")
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Serializer{}.Load(tx, "nope")
		assert.ErrorIs(t, err, ErrItemNotFound)
	})
}

func TestSerializer_CorruptStore(t *testing.T) {
	store := storage.NewMemoryEngine()
	tx := store.BeginTransaction()
	require.NoError(t, tx.CreateNode(&storage.Node{ID: "x", Labels: []string{"Spaceship"}}))
	require.NoError(t, tx.CreateNode(&storage.Node{ID: "a", Labels: []string{"DocumentaryUnitDescription"}}))
	require.NoError(t, tx.CreateNode(&storage.Node{ID: "b", Labels: []string{"DatePeriod"}}))
	require.NoError(t, tx.CreateNode(&storage.Node{ID: "c", Labels: []string{"Link"},
		Properties: map[string]any{"bad": []any{1, 2}}}))
	require.NoError(t, tx.CreateEdge(storage.NewEdge("a", "x", entity.HasDate)))

	_, err := Serializer{}.Load(tx, "x")
	assert.ErrorIs(t, err, ErrIntegrity, "unknown type")

	_, err = Serializer{}.Load(tx, "a")
	assert.ErrorIs(t, err, ErrIntegrity, "dependent child of unknown type")

	_, err = Serializer{}.Load(tx, "c")
	assert.ErrorIs(t, err, ErrIntegrity, "property outside the value model")

	_, err = Serializer{}.Load(tx, "b")
	assert.NoError(t, err)
}
