// Package importer loads batches of bundles into a permission scope.
//
// An import runs in a single transaction: either every item is written or,
// on a hard failure, nothing is. Items that already exist are merged with
// what is stored (see MergeWithPrevious) so that importing one language of a
// description set leaves the others in place, and re-importing the same file
// reports every item as unchanged.
//
// Example Usage:
//
//	m := importer.NewManager(store, "nl-r1", importer.WithLogger(log), importer.Tolerant(true))
//	f, _ := os.Open("units.json")
//	defer f.Close()
//	ilog, err := m.ImportStream(ctx, f)
//	if err != nil {
//		return err
//	}
//	fmt.Println(ilog)
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/idgen"
	"github.com/orneryd/bundledb/pkg/persistence"
	"github.com/orneryd/bundledb/pkg/scope"
	"github.com/orneryd/bundledb/pkg/storage"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithGenerator sets the id generator passed to the persister.
func WithGenerator(g idgen.Generator) Option {
	return func(m *Manager) { m.gen = g }
}

// WithScopeProvider replaces the store-backed scope lookup.
func WithScopeProvider(p scope.Provider) Option {
	return func(m *Manager) { m.scopes = p }
}

// WithMetrics records persister outcomes into pm.
func WithMetrics(pm *persistence.Metrics) Option {
	return func(m *Manager) { m.metrics = pm }
}

// Tolerant makes invalid items get logged and skipped instead of aborting
// the import.
func Tolerant(on bool) Option {
	return func(m *Manager) { m.tolerant = on }
}

// OnItem registers a callback run after each item is written.
func OnItem(fn func(persistence.Mutation[bundle.Bundle])) Option {
	return func(m *Manager) { m.onItem = append(m.onItem, fn) }
}

// OnError registers a callback run for each skipped item in tolerant mode.
func OnError(fn func(item bundle.Bundle, err error)) Option {
	return func(m *Manager) { m.onError = append(m.onError, fn) }
}

// Manager imports bundles as children of one scope entity.
type Manager struct {
	store    storage.Store
	scopeID  string
	gen      idgen.Generator
	scopes   scope.Provider
	metrics  *persistence.Metrics
	log      *zap.Logger
	tolerant bool
	onItem   []func(persistence.Mutation[bundle.Bundle])
	onError  []func(bundle.Bundle, error)
}

// NewManager returns a Manager importing into the entity scopeID.
func NewManager(store storage.Store, scopeID string, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		scopeID: scopeID,
		gen:     idgen.Default,
		scopes:  scope.Chain{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ImportStream decodes a JSON stream of bundles and imports them.
func (m *Manager) ImportStream(ctx context.Context, r io.Reader) (*ImportLog, error) {
	items, err := bundle.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	return m.ImportBundles(ctx, items)
}

// ImportBundles imports items in order within a single transaction.
func (m *Manager) ImportBundles(ctx context.Context, items []bundle.Bundle) (*ImportLog, error) {
	ilog := NewImportLog()
	err := persistence.RunInTransaction(ctx, m.store, func(tx storage.Tx) error {
		target, path, err := m.resolveScope(tx)
		if err != nil {
			return err
		}
		p := persistence.New(tx,
			persistence.WithGenerator(m.gen),
			persistence.WithLogger(m.log),
			persistence.WithMetrics(m.metrics),
		)
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			scoped := item.
				FilterRelations(func(label string, _ bundle.Bundle) bool { return label == entity.HasPermissionScope }).
				WithRelation(entity.HasPermissionScope, target)
			mut, err := m.importItem(p, scoped, path)
			if err != nil {
				if m.tolerant && errors.Is(err, persistence.ErrValidation) {
					key := itemKey(i, item)
					m.log.Warn("skipping invalid item", zap.String("item", key), zap.Error(err))
					ilog.AddError(i, key, err)
					for _, fn := range m.onError {
						fn(item, err)
					}
					continue
				}
				return fmt.Errorf("item %s: %w", itemKey(i, item), err)
			}
			ilog.Add(mut.State())
			for _, fn := range m.onItem {
				fn(mut)
			}
		}
		return nil
	})
	if err != nil {
		m.log.Error("import failed", zap.String("scope", m.scopeID), zap.Error(err))
		return nil, err
	}
	m.log.Info("import finished", zap.String("scope", m.scopeID), zap.Stringer("result", ilog))
	return ilog, nil
}

// resolveScope returns a reference to the scope entity and the scope path
// for its children.
func (m *Manager) resolveScope(tx storage.Tx) (bundle.Bundle, []string, error) {
	node, err := tx.GetNode(storage.NodeID(m.scopeID))
	if errors.Is(err, storage.ErrNotFound) {
		return bundle.Bundle{}, nil, &persistence.ItemNotFoundError{ID: m.scopeID}
	}
	if err != nil {
		return bundle.Bundle{}, nil, err
	}
	typ, err := entity.Parse(node.Type())
	if err != nil {
		return bundle.Bundle{}, nil, &persistence.IntegrityError{ID: m.scopeID, Err: err}
	}
	path, err := m.scopes.Path(tx, m.scopeID)
	if err != nil {
		return bundle.Bundle{}, nil, err
	}
	return bundle.NewWithID(m.scopeID, typ), path, nil
}

func (m *Manager) importItem(p *persistence.Persister, item bundle.Bundle, path []string) (persistence.Mutation[bundle.Bundle], error) {
	if err := (persistence.Validator{}).Validate(item); err != nil {
		return persistence.Mutation[bundle.Bundle]{}, err
	}
	fresh, err := item.GenerateIDsWith(m.gen, path)
	if err != nil {
		return persistence.Mutation[bundle.Bundle]{}, &persistence.ValidationError{
			Type: item.Type(),
			Err:  &persistence.FieldError{Field: entity.IdentifierKey, Message: err.Error()},
		}
	}
	stored, err := p.Load(fresh.ID())
	switch {
	case errors.Is(err, persistence.ErrItemNotFound):
		return p.Create(fresh, path)
	case err != nil:
		return persistence.Mutation[bundle.Bundle]{}, err
	}
	return p.Update(MergeWithPrevious(stored, fresh))
}

func itemKey(i int, b bundle.Bundle) string {
	if ident, err := b.DataString(entity.IdentifierKey); err == nil && ident != "" {
		return ident
	}
	return fmt.Sprintf("#%d", i)
}
