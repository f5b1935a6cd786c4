package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/storage"
	"github.com/orneryd/bundledb/pkg/storage/sqlstore"
)

var unitScope = []string{"nl", "r1"}

func datePeriod(start string) bundle.Bundle {
	return bundle.NewBuilder(entity.DatePeriod).String(entity.StartDateKey, start).Build()
}

func description(lang, name string, children ...bundle.Bundle) bundle.Bundle {
	return bundle.NewBuilder(entity.DocumentaryUnitDescription).
		String(entity.LanguageCodeKey, lang).
		String(entity.NameKey, name).
		Relation(entity.HasDate, children...).
		Build()
}

func unit(descs ...bundle.Bundle) bundle.Bundle {
	return bundle.NewBuilder(entity.DocumentaryUnit).
		String(entity.IdentifierKey, "c1").
		Number("extentItems", 12).
		Relation(entity.Describes, descs...).
		Relation(entity.HeldBy, bundle.NewWithID("nl-r1", entity.Repository)).
		Build()
}

// newStore returns a memory store holding country nl and repository nl-r1.
func newStore(t *testing.T) *storage.MemoryEngine {
	t.Helper()
	store := storage.NewMemoryEngine()
	t.Cleanup(func() { store.Close() })
	seed(t, store)
	return store
}

// seed stores country nl and repository nl-r1.
func seed(t *testing.T, store storage.Store) {
	t.Helper()
	err := RunInTransaction(context.Background(), store, func(tx storage.Tx) error {
		p := New(tx)
		if _, err := p.Create(bundle.NewBuilder(entity.Country).String(entity.IdentifierKey, "nl").Build(), nil); err != nil {
			return err
		}
		repo := bundle.NewBuilder(entity.Repository).
			String(entity.IdentifierKey, "r1").
			Relation(entity.HasPermissionScope, bundle.NewWithID("nl", entity.Country)).
			Build()
		_, err := p.Create(repo, []string{"nl"})
		return err
	})
	require.NoError(t, err)
}

func run(t *testing.T, store storage.Store, fn func(p *Persister) error, opts ...Option) error {
	t.Helper()
	return RunInTransaction(context.Background(), store, func(tx storage.Tx) error {
		return fn(New(tx, opts...))
	})
}

func upsert(t *testing.T, store storage.Store, b bundle.Bundle) Mutation[bundle.Bundle] {
	t.Helper()
	var m Mutation[bundle.Bundle]
	require.NoError(t, run(t, store, func(p *Persister) error {
		var err error
		m, err = p.CreateOrUpdate(b, unitScope)
		return err
	}))
	return m
}

func load(t *testing.T, store storage.Store, id string) bundle.Bundle {
	t.Helper()
	var b bundle.Bundle
	require.NoError(t, run(t, store, func(p *Persister) error {
		var err error
		b, err = p.Load(id)
		return err
	}))
	return b
}

func nodeCount(t *testing.T, store *storage.MemoryEngine) int64 {
	t.Helper()
	n, err := store.NodeCount()
	require.NoError(t, err)
	return n
}

func TestPersister_CreateThenUnchanged(t *testing.T) {
	store := newStore(t)
	b := unit(description("en", "Fonds", datePeriod("1939"), datePeriod("1945")))

	first := upsert(t, store, b)
	assert.Equal(t, Created, first.State())
	assert.Equal(t, "nl-r1-c1", first.Entity().ID())

	desc := first.Entity().Relations(entity.Describes)[0]
	assert.Equal(t, "nl-r1-c1.en", desc.ID())
	for _, d := range desc.Relations(entity.HasDate) {
		assert.True(t, strings.HasPrefix(d.ID(), "nl-r1-c1.en.dp-"), d.ID())
	}
	count := nodeCount(t, store)
	assert.EqualValues(t, 2+4, count)

	second := upsert(t, store, b)
	assert.Equal(t, Unchanged, second.State())
	assert.False(t, second.HasChanged())
	assert.Equal(t, count, nodeCount(t, store))

	stored := load(t, store, "nl-r1-c1")
	assert.True(t, stored.Equal(first.Entity()), "stored %v", stored)
}

func TestPersister_EncodedStoresUnchanged(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.Store{
		"badger": func(t *testing.T) storage.Store {
			engine, err := storage.NewBadgerEngineInMemory()
			require.NoError(t, err)
			return engine
		},
		"sqlite": func(t *testing.T) storage.Store {
			s, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			return s
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { store.Close() })
			seed(t, store)

			b := unit(description("en", "Fonds")).
				WithDataValue("otherIdentifiers", bundle.ListValue()).
				WithDataValue("notes", bundle.MapValue(nil))

			assert.Equal(t, Created, upsert(t, store, b).State())
			assert.Equal(t, Unchanged, upsert(t, store, b).State())

			v, ok := load(t, store, "nl-r1-c1").DataValue("otherIdentifiers")
			require.True(t, ok)
			assert.Equal(t, bundle.KindList, v.Kind())
		})
	}
}

func TestPersister_ReimportWithNewLanguage(t *testing.T) {
	store := newStore(t)
	en := description("en", "Fonds", datePeriod("1939"))
	upsert(t, store, unit(en))

	before, err := store.GetNode("nl-r1-c1.en")
	require.NoError(t, err)

	m := upsert(t, store, unit(en, description("fr", "Fonds d'archives")))
	assert.Equal(t, Updated, m.State())

	after, err := store.GetNode("nl-r1-c1.en")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "prior-language description must not be rewritten")

	stored := load(t, store, "nl-r1-c1")
	descs := stored.Relations(entity.Describes)
	require.Len(t, descs, 2)
	assert.Equal(t, "nl-r1-c1.en", descs[0].ID())
	assert.Equal(t, "nl-r1-c1.fr", descs[1].ID())
	assert.Len(t, descs[0].Relations(entity.HasDate), 1)
}

func TestPersister_Delete(t *testing.T) {
	store := newStore(t)
	upsert(t, store, unit(description("en", "Fonds", datePeriod("1939"), datePeriod("1945"))))

	var n int
	require.NoError(t, run(t, store, func(p *Persister) error {
		var err error
		n, err = p.DeleteByID("nl-r1-c1")
		return err
	}))
	assert.Equal(t, 4, n)
	assert.EqualValues(t, 2, nodeCount(t, store), "referenced repository is left alone")

	_, err := store.GetNode("nl-r1")
	assert.NoError(t, err)

	err = run(t, store, func(p *Persister) error {
		_, err := p.DeleteByID("nl-r1-c1")
		return err
	})
	assert.ErrorIs(t, err, ErrItemNotFound)

	err = run(t, store, func(p *Persister) error {
		_, err := p.Delete(unit())
		return err
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPersister_CreateCollision(t *testing.T) {
	store := newStore(t)
	b := unit(description("en", "Fonds"))

	require.NoError(t, run(t, store, func(p *Persister) error {
		_, err := p.Create(b, unitScope)
		return err
	}))
	count := nodeCount(t, store)

	err := run(t, store, func(p *Persister) error {
		_, err := p.Create(b, unitScope)
		return err
	})
	require.ErrorIs(t, err, ErrIDCollision)
	var collision *IDCollisionError
	require.True(t, errors.As(err, &collision))
	assert.Equal(t, "nl-r1-c1", collision.ID)
	assert.Equal(t, unitScope, collision.Scope)
	assert.Equal(t, "c1", collision.Identifier)
	assert.Equal(t, count, nodeCount(t, store))
}

func TestPersister_DuplicateIDWithinTree(t *testing.T) {
	store := newStore(t)
	b := unit(description("en", "Fonds"), description("en", "Other"))

	err := run(t, store, func(p *Persister) error {
		_, err := p.Create(b, unitScope)
		return err
	})
	require.ErrorIs(t, err, ErrIDCollision)
	assert.Contains(t, err.Error(), "nl-r1-c1.en")
	assert.EqualValues(t, 2, nodeCount(t, store))
}

func TestPersister_CreateValidation(t *testing.T) {
	store := newStore(t)
	b := bundle.NewBuilder(entity.DocumentaryUnit).
		Relation(entity.Describes, bundle.NewBuilder(entity.DocumentaryUnitDescription).
			String(entity.LanguageCodeKey, "en").
			Build()).
		Build()

	err := run(t, store, func(p *Persister) error {
		_, err := p.Create(b, unitScope)
		return err
	})
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := verr.Errors()
	require.Len(t, fields, 2)
	assert.Equal(t, "identifier", fields[0].Field)
	assert.Equal(t, "describes[0]", fields[1].Path)
	assert.Equal(t, "name", fields[1].Field)
	assert.EqualValues(t, 2, nodeCount(t, store))
}

func TestPersister_MissingReference(t *testing.T) {
	store := newStore(t)
	b := unit().WithRelation(entity.ChildOf, bundle.NewWithID("nl-r1-c0", entity.DocumentaryUnit))

	err := run(t, store, func(p *Persister) error {
		_, err := p.Create(b, unitScope)
		return err
	})
	require.ErrorIs(t, err, ErrItemNotFound)
	assert.Contains(t, err.Error(), "nl-r1-c0")
}

func TestPersister_Update(t *testing.T) {
	store := newStore(t)
	created := upsert(t, store, unit(description("en", "Fonds", datePeriod("1939")), description("nl", "Archief")))
	id := created.Entity().ID()

	t.Run("missing target", func(t *testing.T) {
		err := run(t, store, func(p *Persister) error {
			_, err := p.Update(unit().WithID("nl-r1-c9"))
			return err
		})
		assert.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("requires id", func(t *testing.T) {
		err := run(t, store, func(p *Persister) error {
			_, err := p.Update(unit())
			return err
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("type mismatch", func(t *testing.T) {
		err := run(t, store, func(p *Persister) error {
			_, err := p.Update(bundle.NewBuilder(entity.HistoricalAgent).ID(id).String(entity.IdentifierKey, "c1").Build())
			return err
		})
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("replaces data and dependents", func(t *testing.T) {
		// Drops extentItems and the en description.
		next := bundle.NewBuilder(entity.DocumentaryUnit).
			ID(id).
			String(entity.IdentifierKey, "c1").
			String("scopeAndContent", "Letters").
			Relation(entity.Describes, description("nl", "Archief")).
			Relation(entity.HeldBy, bundle.NewWithID("nl-r1", entity.Repository)).
			Build()

		var m Mutation[bundle.Bundle]
		require.NoError(t, run(t, store, func(p *Persister) error {
			var err error
			m, err = p.Update(next)
			return err
		}))
		assert.Equal(t, Updated, m.State())

		stored := load(t, store, id)
		_, ok := stored.DataValue("extentItems")
		assert.False(t, ok)
		descs := stored.Relations(entity.Describes)
		require.Len(t, descs, 1)
		assert.Equal(t, "nl-r1-c1.nl", descs[0].ID())

		_, err := store.GetNode("nl-r1-c1.en")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("reorders dependents", func(t *testing.T) {
		require.NoError(t, run(t, store, func(p *Persister) error {
			_, err := p.Update(unit(description("en", "Fonds"), description("nl", "Archief")).WithID(id))
			return err
		}))
		var m Mutation[bundle.Bundle]
		require.NoError(t, run(t, store, func(p *Persister) error {
			var err error
			m, err = p.Update(unit(description("nl", "Archief"), description("en", "Fonds")).WithID(id))
			return err
		}))
		assert.Equal(t, Updated, m.State())

		descs := load(t, store, id).Relations(entity.Describes)
		require.Len(t, descs, 2)
		assert.Equal(t, "nl-r1-c1.nl", descs[0].ID())
		assert.Equal(t, "nl-r1-c1.en", descs[1].ID())
	})

	t.Run("referential labels synced when present", func(t *testing.T) {
		withoutHeldBy := bundle.NewBuilder(entity.DocumentaryUnit).
			String(entity.IdentifierKey, "c1").
			Number("extentItems", 12).
			Relation(entity.Describes, description("nl", "Archief"), description("en", "Fonds")).
			Build().WithID(id)
		var m Mutation[bundle.Bundle]
		require.NoError(t, run(t, store, func(p *Persister) error {
			var err error
			m, err = p.Update(withoutHeldBy)
			return err
		}))
		assert.Equal(t, Unchanged, m.State(), "absent referential label is left untouched")
		assert.Len(t, load(t, store, id).Relations(entity.HeldBy), 1)

		retargeted := withoutHeldBy.WithRelations(entity.HeldBy, []bundle.Bundle{bundle.NewWithID("nl", entity.Country)})
		require.NoError(t, run(t, store, func(p *Persister) error {
			var err error
			m, err = p.Update(retargeted)
			return err
		}))
		assert.Equal(t, Updated, m.State())
		held := load(t, store, id).Relations(entity.HeldBy)
		require.Len(t, held, 1)
		assert.Equal(t, "nl", held[0].ID())
	})
}

func TestPersister_MoveDependentBetweenLabels(t *testing.T) {
	store := newStore(t)
	when := datePeriod("1939").WithID("nl-r1-c1.en.when")
	upsert(t, store, unit(description("en", "Fonds", when)))

	moved := bundle.NewBuilder(entity.DocumentaryUnitDescription).
		String(entity.LanguageCodeKey, "en").
		String(entity.NameKey, "Fonds").
		Relation(entity.HasMaintenanceEvent, when).
		Build()
	m := upsert(t, store, unit(moved))
	assert.Equal(t, Updated, m.State())

	desc := load(t, store, "nl-r1-c1").Relations(entity.Describes)[0]
	assert.False(t, desc.HasRelations(entity.HasDate))
	require.Len(t, desc.Relations(entity.HasMaintenanceEvent), 1)
	assert.Equal(t, "nl-r1-c1.en.when", desc.Relations(entity.HasMaintenanceEvent)[0].ID())
}

func TestPersister_ManagedKeys(t *testing.T) {
	store := newStore(t)
	b := unit(description("en", "Fonds"))
	upsert(t, store, b.WithDataValue("_childCount", bundle.IntValue(99)))

	n, err := store.GetNode("nl-r1-c1")
	require.NoError(t, err)
	assert.NotContains(t, n.Properties, "_childCount", "managed keys are never written from a bundle")

	tx := store.BeginTransaction()
	n.Properties["_childCount"] = 3.0
	require.NoError(t, tx.UpdateNode(n))
	require.NoError(t, tx.Commit())

	assert.Equal(t, Unchanged, upsert(t, store, b).State())
	assert.Equal(t, Updated, upsert(t, store, b.WithDataValue("extentItems", bundle.IntValue(13))).State())

	n, err = store.GetNode("nl-r1-c1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, n.Properties["_childCount"])
	assert.Equal(t, 13.0, n.Properties["extentItems"])
}

func TestPersister_RollbackOnFailure(t *testing.T) {
	store := newStore(t)
	count := nodeCount(t, store)

	err := run(t, store, func(p *Persister) error {
		if _, err := p.Create(unit(description("en", "Fonds")), unitScope); err != nil {
			return err
		}
		_, err := p.Create(unit(), unitScope)
		return err
	})
	require.ErrorIs(t, err, ErrIDCollision)
	assert.Equal(t, count, nodeCount(t, store))
}

func TestPersister_ConcurrentCreateSurfacesCollision(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = New(tx1).Create(unit(), unitScope)
	require.NoError(t, err)
	_, err = New(tx2).Create(unit(), unitScope)
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())

	err = RunInTransaction(ctx, commitOnly{tx2}, func(storage.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrIDCollision)
}

// commitOnly hands out an already populated transaction.
type commitOnly struct{ tx storage.Tx }

func (c commitOnly) Begin(context.Context) (storage.Tx, error) { return c.tx, nil }
func (c commitOnly) Close() error                              { return nil }

func TestPersister_Metrics(t *testing.T) {
	store := newStore(t)
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg, "bundledb")
	require.NoError(t, err)

	b := unit(description("en", "Fonds", datePeriod("1939"), datePeriod("1945")))
	for range 2 {
		require.NoError(t, run(t, store, func(p *Persister) error {
			_, err := p.CreateOrUpdate(b, unitScope)
			return err
		}, WithMetrics(metrics)))
	}
	_ = run(t, store, func(p *Persister) error {
		_, err := p.Create(b, unitScope)
		return err
	}, WithMetrics(metrics))
	require.NoError(t, run(t, store, func(p *Persister) error {
		_, err := p.DeleteByID("nl-r1-c1")
		return err
	}, WithMetrics(metrics)))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.mutations.WithLabelValues("createOrUpdate", "CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.mutations.WithLabelValues("createOrUpdate", "UNCHANGED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errors.WithLabelValues("create", "id_collision")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.deleted))

	_, err = NewMetrics(reg, "bundledb")
	assert.Error(t, err, "collectors cannot be registered twice")
}

func TestMutation(t *testing.T) {
	m := NewMutation("x", Updated)
	assert.Equal(t, "x", m.Entity())
	assert.True(t, m.Updated())
	assert.True(t, m.HasChanged())
	assert.False(t, m.Created())
	assert.Equal(t, "UPDATED", m.State().String())
	assert.False(t, NewMutation(1, Unchanged).HasChanged())
}
