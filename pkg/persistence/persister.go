// Package persistence turns bundles into writes against a storage.Tx.
//
// The Persister offers four operations: Create, Update, CreateOrUpdate and
// Delete. Each validates its input, assigns ids, diffs against what is stored
// and issues only the writes that are needed. Results are reported as a
// Mutation carrying the persisted bundle and whether it was CREATED, UPDATED
// or left UNCHANGED.
//
// A Persister never begins or commits transactions. It works inside the Tx it
// was given and returns on the first error; the caller rolls back. See
// RunInTransaction for the usual wiring.
//
// Example Usage:
//
//	err := persistence.RunInTransaction(ctx, store, func(tx storage.Tx) error {
//		p := persistence.New(tx, persistence.WithLogger(log))
//		m, err := p.CreateOrUpdate(unit, []string{"nl", "r1"})
//		if err != nil {
//			return err
//		}
//		log.Info("saved", zap.String("id", m.Entity().ID()), zap.Stringer("state", m.State()))
//		return nil
//	})
package persistence

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/idgen"
	"github.com/orneryd/bundledb/pkg/storage"
)

// Option configures a Persister.
type Option func(*Persister)

// WithGenerator sets the id generator. Defaults to idgen.Default.
func WithGenerator(g idgen.Generator) Option {
	return func(p *Persister) { p.gen = g }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Persister) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics records operation outcomes into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Persister) { p.metrics = m }
}

// WithMaxDepth bounds the depth of stored trees read back during updates.
func WithMaxDepth(n int) Option {
	return func(p *Persister) { p.serializer.MaxDepth = n }
}

// Persister writes bundle trees into one transaction.
type Persister struct {
	tx         storage.Tx
	gen        idgen.Generator
	log        *zap.Logger
	metrics    *Metrics
	validator  Validator
	serializer Serializer
}

// New returns a Persister working inside tx.
func New(tx storage.Tx, opts ...Option) *Persister {
	p := &Persister{
		tx:  tx,
		gen: idgen.Default,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Serializer returns the serializer used to read stored trees.
func (p *Persister) Serializer() Serializer { return p.serializer }

// Load reads the stored bundle with the given id.
func (p *Persister) Load(id string) (bundle.Bundle, error) {
	return p.serializer.Load(p.tx, id)
}

// Create validates b, assigns ids below scope and writes the whole tree. Any
// id in the tree that is already taken fails the call with an
// IDCollisionError, and referential targets must exist.
func (p *Persister) Create(b bundle.Bundle, scope []string) (Mutation[bundle.Bundle], error) {
	start := time.Now()
	m, err := p.create(b, scope)
	p.done("create", start, m, err)
	return m, err
}

// Update writes b over the stored entity with the same id. Properties are
// replaced wholesale; dependent children are diffed by id. Nothing is
// written when the stored tree already matches.
func (p *Persister) Update(b bundle.Bundle) (Mutation[bundle.Bundle], error) {
	start := time.Now()
	m, err := p.update(b)
	p.done("update", start, m, err)
	return m, err
}

// CreateOrUpdate computes b's id below scope and updates the stored entity
// if there is one, otherwise creates it.
func (p *Persister) CreateOrUpdate(b bundle.Bundle, scope []string) (Mutation[bundle.Bundle], error) {
	start := time.Now()
	m, err := p.createOrUpdate(b, scope)
	p.done("createOrUpdate", start, m, err)
	return m, err
}

// Delete removes the entity b identifies. See DeleteByID.
func (p *Persister) Delete(b bundle.Bundle) (int, error) {
	if !b.HasID() {
		return 0, validationErr(b.Type(), "", bundle.IDKey, "delete requires an id")
	}
	return p.DeleteByID(b.ID())
}

// DeleteByID removes the entity and, depth first, every dependent descendant.
// Referential relations are unlinked and their targets left alone. It returns
// the number of nodes deleted.
func (p *Persister) DeleteByID(id string) (int, error) {
	start := time.Now()
	n, err := p.deleteByID(id)
	p.metrics.observeDelete(start, n, err)
	if err != nil {
		p.log.Debug("delete failed", zap.String("id", id), zap.Error(err))
		return 0, err
	}
	p.log.Info("deleted", zap.String("id", id), zap.Int("count", n))
	return n, nil
}

func (p *Persister) done(op string, start time.Time, m Mutation[bundle.Bundle], err error) {
	p.metrics.observe(op, start, m.State(), err)
	if err != nil {
		p.log.Debug(op+" failed", zap.Error(err))
		return
	}
	p.log.Info(op,
		zap.String("id", m.Entity().ID()),
		zap.Stringer("type", m.Entity().Type()),
		zap.Stringer("state", m.State()),
	)
}

func (p *Persister) create(b bundle.Bundle, scope []string) (Mutation[bundle.Bundle], error) {
	if err := p.validator.Validate(b); err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	identified, err := p.identify(b, scope)
	if err != nil {
		return Mutation[bundle.Bundle]{}, err
	}

	entries, err := treeIDs(identified, scope)
	if err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	for _, e := range entries {
		if err := p.checkFree(e); err != nil {
			return Mutation[bundle.Bundle]{}, err
		}
	}
	if err := p.checkReferences(identified, nil); err != nil {
		return Mutation[bundle.Bundle]{}, err
	}

	if err := p.createTree(identified); err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	return NewMutation(identified, Created), nil
}

func (p *Persister) update(b bundle.Bundle) (Mutation[bundle.Bundle], error) {
	if !b.HasID() {
		return Mutation[bundle.Bundle]{}, validationErr(b.Type(), "", bundle.IDKey, "update requires an id")
	}
	if err := p.validator.Validate(b); err != nil {
		return Mutation[bundle.Bundle]{}, err
	}

	stored, err := p.serializer.Load(p.tx, b.ID())
	if err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	if stored.Type() != b.Type() {
		return Mutation[bundle.Bundle]{}, &IntegrityError{
			ID:  b.ID(),
			Msg: fmt.Sprintf("stored entity is a %s, not a %s", stored.Type(), b.Type()),
		}
	}

	identified, err := p.identify(b, nil)
	if err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	entries, err := treeIDs(identified, nil)
	if err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	existing := make(map[string]struct{})
	collectDependentIDs(stored, existing)
	for _, e := range entries {
		if _, ok := existing[e.id]; ok {
			continue
		}
		if err := p.checkFree(e); err != nil {
			return Mutation[bundle.Bundle]{}, err
		}
	}
	if err := p.checkReferences(identified, existing); err != nil {
		return Mutation[bundle.Bundle]{}, err
	}

	changed, err := p.updateTree(stored, identified)
	if err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	if !changed {
		return NewMutation(identified, Unchanged), nil
	}
	return NewMutation(identified, Updated), nil
}

func (p *Persister) createOrUpdate(b bundle.Bundle, scope []string) (Mutation[bundle.Bundle], error) {
	if err := p.validator.Validate(b); err != nil {
		return Mutation[bundle.Bundle]{}, err
	}
	id := b.ID()
	if !b.HasID() {
		var err error
		if id, err = b.ComputeIDWith(p.gen, scope); err != nil {
			return Mutation[bundle.Bundle]{}, p.idError(b, err)
		}
	}
	exists, err := p.tx.Exists(storage.NodeID(id))
	if err != nil {
		return Mutation[bundle.Bundle]{}, &IntegrityError{ID: id, Msg: "checking existence", Err: err}
	}
	if exists {
		return p.update(b.WithID(id))
	}
	return p.create(b.WithID(id), scope)
}

func (p *Persister) deleteByID(id string) (int, error) {
	exists, err := p.tx.Exists(storage.NodeID(id))
	if err != nil {
		return 0, &IntegrityError{ID: id, Msg: "checking existence", Err: err}
	}
	if !exists {
		return 0, &ItemNotFoundError{ID: id}
	}
	return p.deleteTree(storage.NodeID(id), make(map[storage.NodeID]struct{}))
}

// identify assigns ids to b and its dependents.
func (p *Persister) identify(b bundle.Bundle, scope []string) (bundle.Bundle, error) {
	identified, err := b.GenerateIDsWith(p.gen, scope)
	if err != nil {
		return bundle.Bundle{}, p.idError(b, err)
	}
	return identified, nil
}

func (p *Persister) idError(b bundle.Bundle, err error) error {
	if errors.Is(err, idgen.ErrMissingIdentifier) || errors.Is(err, bundle.ErrTypeMismatch) {
		return &ValidationError{Type: b.Type(), Err: &FieldError{Field: entity.IdentifierKey, Message: err.Error()}}
	}
	return err
}

// idEntry is one id assigned within a tree, with what it was derived from.
type idEntry struct {
	id         string
	scope      []string
	identifier string
}

// treeIDs lists the ids of b and its dependent descendants, failing on the
// first id used twice within the tree.
func treeIDs(b bundle.Bundle, scope []string) ([]idEntry, error) {
	var entries []idEntry
	seen := make(map[string]struct{})
	var walk func(b bundle.Bundle, scope []string) error
	walk = func(b bundle.Bundle, scope []string) error {
		ident, _ := b.DataString(entity.IdentifierKey)
		e := idEntry{id: b.ID(), scope: scope, identifier: ident}
		if _, dup := seen[e.id]; dup {
			return &IDCollisionError{ID: e.id, Scope: scope, Identifier: ident, Err: errors.New("id used twice in one tree")}
		}
		seen[e.id] = struct{}{}
		entries = append(entries, e)

		childScope := append(slices.Clone(scope), b.ID())
		meta := b.TypeMetadata()
		rels := b.RelationMap()
		for _, label := range rels.Labels() {
			if !meta.IsDependent(label) {
				continue
			}
			for _, child := range rels.Get(label) {
				if err := walk(child, childScope); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return entries, walk(b, scope)
}

func collectDependentIDs(b bundle.Bundle, into map[string]struct{}) {
	into[b.ID()] = struct{}{}
	meta := b.TypeMetadata()
	b.RelationMap().Each(func(label string, child bundle.Bundle) {
		if meta.IsDependent(label) {
			collectDependentIDs(child, into)
		}
	})
}

func (p *Persister) checkFree(e idEntry) error {
	exists, err := p.tx.Exists(storage.NodeID(e.id))
	if err != nil {
		return &IntegrityError{ID: e.id, Msg: "checking existence", Err: err}
	}
	if exists {
		return &IDCollisionError{ID: e.id, Scope: e.scope, Identifier: e.identifier}
	}
	return nil
}

// checkReferences makes sure every referential target in the tree exists in
// the store or is created by the tree itself.
func (p *Persister) checkReferences(b bundle.Bundle, pending map[string]struct{}) error {
	inTree := make(map[string]struct{})
	collectDependentIDs(b, inTree)
	for id := range pending {
		inTree[id] = struct{}{}
	}

	var walk func(b bundle.Bundle) error
	walk = func(b bundle.Bundle) error {
		meta := b.TypeMetadata()
		rels := b.RelationMap()
		for _, label := range rels.Labels() {
			for _, child := range rels.Get(label) {
				if meta.IsDependent(label) {
					if err := walk(child); err != nil {
						return err
					}
					continue
				}
				if _, ok := inTree[child.ID()]; ok {
					continue
				}
				exists, err := p.tx.Exists(storage.NodeID(child.ID()))
				if err != nil {
					return &IntegrityError{ID: child.ID(), Msg: "checking existence", Err: err}
				}
				if !exists {
					return &ItemNotFoundError{ID: child.ID()}
				}
			}
		}
		return nil
	}
	return walk(b)
}

// properties converts b's data into store properties. Managed keys are
// never written from a bundle.
func properties(b bundle.Bundle) map[string]any {
	data := b.Data()
	props := make(map[string]any, len(data))
	for k, v := range data {
		if entity.IsManagedKey(k) {
			continue
		}
		props[k] = v.Interface()
	}
	return props
}

func nodeFor(b bundle.Bundle, props map[string]any) *storage.Node {
	return &storage.Node{
		ID:         storage.NodeID(b.ID()),
		Labels:     []string{string(b.Type())},
		Properties: props,
	}
}

// storeErr classifies an error returned by the store for id.
func storeErr(id string, err error) error {
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return &IDCollisionError{ID: id, Err: err}
	case errors.Is(err, storage.ErrNotFound):
		return &ItemNotFoundError{ID: id}
	}
	return &IntegrityError{ID: id, Msg: "store write failed", Err: err}
}

func (p *Persister) createTree(b bundle.Bundle) error {
	p.log.Debug("create node", zap.String("id", b.ID()), zap.Stringer("type", b.Type()))
	if err := p.tx.CreateNode(nodeFor(b, properties(b))); err != nil {
		return storeErr(b.ID(), err)
	}

	meta := b.TypeMetadata()
	rels := b.RelationMap()
	for _, label := range rels.Labels() {
		if !meta.IsDependent(label) {
			continue
		}
		for _, child := range rels.Get(label) {
			if err := p.createTree(child); err != nil {
				return err
			}
			if err := p.link(b.ID(), child.ID(), label); err != nil {
				return err
			}
		}
	}
	for _, label := range rels.Labels() {
		if meta.IsDependent(label) {
			continue
		}
		for _, target := range uniqueIDs(rels.Get(label)) {
			if err := p.link(b.ID(), target, label); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Persister) link(from, to, label string) error {
	p.log.Debug("create edge", zap.String("from", from), zap.String("to", to), zap.String("label", label))
	err := p.tx.CreateEdge(storage.NewEdge(storage.NodeID(from), storage.NodeID(to), label))
	if errors.Is(err, storage.ErrInvalidEdge) {
		return &ItemNotFoundError{ID: to}
	}
	if err != nil {
		return storeErr(from, err)
	}
	return nil
}

func (p *Persister) unlink(from, to, label string) error {
	p.log.Debug("delete edge", zap.String("from", from), zap.String("to", to), zap.String("label", label))
	if err := p.tx.DeleteEdge(storage.EdgeIDFor(storage.NodeID(from), storage.NodeID(to), label)); err != nil {
		return storeErr(from, err)
	}
	return nil
}

func uniqueIDs(children []bundle.Bundle) []string {
	ids := make([]string, 0, len(children))
	for _, c := range children {
		if !slices.Contains(ids, c.ID()) {
			ids = append(ids, c.ID())
		}
	}
	return ids
}

// updateTree brings the stored tree in line with incoming and reports
// whether anything was written.
func (p *Persister) updateTree(stored, incoming bundle.Bundle) (bool, error) {
	changed := false
	id := incoming.ID()

	if !stored.DataEqual(incoming) {
		props := properties(incoming)
		for k, v := range stored.Data() {
			if entity.IsManagedKey(k) {
				props[k] = v.Interface()
			}
		}
		p.log.Debug("update node", zap.String("id", id))
		if err := p.tx.UpdateNode(nodeFor(incoming, props)); err != nil {
			return false, storeErr(id, err)
		}
		changed = true
	}

	meta := incoming.TypeMetadata()

	// All removals go first so a child moved to another label is deleted
	// before it is created again.
	for _, label := range meta.Dependent {
		keep := make(map[string]struct{})
		for _, c := range incoming.Relations(label) {
			keep[c.ID()] = struct{}{}
		}
		for _, old := range stored.Relations(label) {
			if _, ok := keep[old.ID()]; ok {
				continue
			}
			if _, err := p.deleteTree(storage.NodeID(old.ID()), make(map[storage.NodeID]struct{})); err != nil {
				return false, err
			}
			changed = true
		}
	}

	for _, label := range meta.Dependent {
		storedByID := make(map[string]bundle.Bundle)
		var kept []string
		for _, old := range stored.Relations(label) {
			storedByID[old.ID()] = old
		}
		var created []string
		var desired []string
		for _, child := range incoming.Relations(label) {
			desired = append(desired, child.ID())
			old, ok := storedByID[child.ID()]
			if !ok {
				if err := p.createTree(child); err != nil {
					return false, err
				}
				if err := p.link(id, child.ID(), label); err != nil {
					return false, err
				}
				created = append(created, child.ID())
				changed = true
				continue
			}
			childChanged, err := p.updateTree(old, child)
			if err != nil {
				return false, err
			}
			changed = changed || childChanged
		}
		for _, old := range stored.Relations(label) {
			if slices.Contains(desired, old.ID()) {
				kept = append(kept, old.ID())
			}
		}
		reordered, err := p.reorder(id, label, append(kept, created...), desired)
		if err != nil {
			return false, err
		}
		changed = changed || reordered
	}

	rels := incoming.RelationMap()
	for _, label := range rels.Labels() {
		if meta.IsDependent(label) {
			continue
		}
		relinked, err := p.syncReferences(id, label, uniqueIDs(stored.Relations(label)), uniqueIDs(rels.Get(label)))
		if err != nil {
			return false, err
		}
		changed = changed || relinked
	}
	return changed, nil
}

// reorder rewrites the edges under label when their stored order differs
// from desired. Edges come back in creation order, so recreating them in
// the desired order is enough.
func (p *Persister) reorder(from, label string, actual, desired []string) (bool, error) {
	if slices.Equal(actual, desired) {
		return false, nil
	}
	for _, to := range desired {
		if err := p.unlink(from, to, label); err != nil {
			return false, err
		}
		if err := p.link(from, to, label); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (p *Persister) syncReferences(from, label string, current, desired []string) (bool, error) {
	changed := false
	var kept []string
	for _, to := range current {
		if slices.Contains(desired, to) {
			kept = append(kept, to)
			continue
		}
		if err := p.unlink(from, to, label); err != nil {
			return false, err
		}
		changed = true
	}
	var added []string
	for _, to := range desired {
		if slices.Contains(current, to) {
			continue
		}
		if err := p.link(from, to, label); err != nil {
			return false, err
		}
		added = append(added, to)
		changed = true
	}
	reordered, err := p.reorder(from, label, append(kept, added...), desired)
	if err != nil {
		return false, err
	}
	return changed || reordered, nil
}

// deleteTree removes id after its dependent descendants, depth first, and
// returns how many nodes were removed.
func (p *Persister) deleteTree(id storage.NodeID, visited map[storage.NodeID]struct{}) (int, error) {
	if _, seen := visited[id]; seen {
		return 0, &IntegrityError{ID: string(id), Msg: "dependent relation cycle"}
	}
	visited[id] = struct{}{}

	_, typ, err := readNode(p.tx, id)
	if err != nil {
		return 0, err
	}
	edges, err := p.tx.GetOutgoingEdges(id)
	if err != nil {
		return 0, &IntegrityError{ID: string(id), Msg: "reading relations", Err: err}
	}

	count := 0
	meta := typ.Metadata()
	for _, e := range edges {
		if !meta.IsDependent(e.Type) {
			continue
		}
		n, err := p.deleteTree(e.EndNode, visited)
		if err != nil {
			return 0, err
		}
		count += n
	}

	p.log.Debug("delete node", zap.String("id", string(id)))
	if err := p.tx.DeleteNode(id); err != nil {
		return 0, storeErr(string(id), err)
	}
	return count + 1, nil
}
