// Package bundle implements the Bundle: an immutable, typed tree holding one
// entity's properties plus its related sub-entities.
//
// A Bundle is a plain value. Every modifier returns a new Bundle and leaves
// the receiver untouched, so bundles can be shared between goroutines without
// locking. Whether a relation is dependent (owned children) or referential
// (pointers to independent entities) is not recorded on the bundle; it is
// looked up in the entity metadata for the bundle's type.
//
// Example Usage:
//
//	unit := bundle.New(entity.DocumentaryUnit).
//		WithDataValue("identifier", bundle.StringValue("c1")).
//		WithRelation(entity.Describes, bundle.New(entity.DocumentaryUnitDescription).
//			WithDataValue("languageCode", bundle.StringValue("en")).
//			WithDataValue("name", bundle.StringValue("Fonds 1")))
//
//	identified, err := unit.GenerateIDs([]string{"nl", "r1"})
//	// identified.ID() == "nl-r1-c1"
//	// identified.Relations("describes")[0].ID() == "nl-r1-c1.en"
//
// Equality:
//
// Two bundles are equal when they have the same type, the same data (ignoring
// null values and keys starting with the managed prefix) and the same
// relations. Children under a label are compared in order. Ids and metadata
// never take part in equality.
package bundle

import (
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/bundledb/pkg/entity"
)

// Bundle is an immutable typed tree value. Use New or a Builder to create
// one; the zero Bundle has no type and is only useful as a placeholder.
type Bundle struct {
	id        string
	typ       entity.Type
	data      map[string]Value
	relations Relations
	meta      map[string]Value
}

// New returns an empty, unidentified bundle of the given type.
func New(t entity.Type) Bundle {
	return Bundle{typ: t}
}

// NewWithID returns an empty bundle of the given type carrying id.
func NewWithID(id string, t entity.Type) Bundle {
	return Bundle{id: id, typ: t}
}

func (b Bundle) ID() string { return b.id }

// HasID reports whether the bundle has been identified.
func (b Bundle) HasID() bool { return b.id != "" }

// WithID returns a copy of b carrying id.
func (b Bundle) WithID(id string) Bundle {
	b.id = id
	return b
}

func (b Bundle) Type() entity.Type { return b.typ }

// TypeMetadata returns the static metadata of the bundle's type.
func (b Bundle) TypeMetadata() entity.Metadata { return b.typ.Metadata() }

// IsDependent reports whether children under label are owned by b.
func (b Bundle) IsDependent(label string) bool {
	return b.typ.Metadata().IsDependent(label)
}

// Data returns a copy of the property map without null values.
func (b Bundle) Data() map[string]Value {
	out := make(map[string]Value, len(b.data))
	for k, v := range b.data {
		if !v.IsNull() {
			out[k] = v
		}
	}
	return out
}

// rawData returns the property map including nulls. Callers must not modify
// the result.
func (b Bundle) rawData() map[string]Value { return b.data }

// DataValue returns the value stored under key. The second result is false
// when the key is absent or null.
func (b Bundle) DataValue(key string) (Value, bool) {
	v, ok := b.data[key]
	if !ok || v.IsNull() {
		return Null(), false
	}
	return v, true
}

// DataString returns the string stored under key. An absent or null key
// yields "" and no error; any other kind yields a TypeMismatchError.
func (b Bundle) DataString(key string) (string, error) {
	v, ok := b.DataValue(key)
	if !ok {
		return "", nil
	}
	s, err := v.AsString()
	return s, withKey(err, key)
}

func (b Bundle) DataNumber(key string) (float64, error) {
	v, ok := b.DataValue(key)
	if !ok {
		return 0, nil
	}
	n, err := v.AsNumber()
	return n, withKey(err, key)
}

func (b Bundle) DataBool(key string) (bool, error) {
	v, ok := b.DataValue(key)
	if !ok {
		return false, nil
	}
	x, err := v.AsBool()
	return x, withKey(err, key)
}

func (b Bundle) DataList(key string) ([]string, error) {
	v, ok := b.DataValue(key)
	if !ok {
		return nil, nil
	}
	l, err := v.AsList()
	return l, withKey(err, key)
}

func (b Bundle) DataMap(key string) (map[string]Value, error) {
	v, ok := b.DataValue(key)
	if !ok {
		return nil, nil
	}
	m, err := v.AsMap()
	return m, withKey(err, key)
}

func withKey(err error, key string) error {
	if tm, ok := err.(*TypeMismatchError); ok {
		tm.Key = key
		return tm
	}
	return err
}

// WithDataValue returns a copy of b with key set to v. Setting a null keeps
// the key as a tombstone so that MergeDataWith can remove it from a base.
func (b Bundle) WithDataValue(key string, v Value) Bundle {
	data := maps.Clone(b.data)
	if data == nil {
		data = make(map[string]Value, 1)
	}
	data[key] = v
	b.data = data
	return b
}

// RemoveDataValue returns a copy of b without key.
func (b Bundle) RemoveDataValue(key string) Bundle {
	if _, ok := b.data[key]; !ok {
		return b
	}
	data := maps.Clone(b.data)
	delete(data, key)
	b.data = data
	return b
}

// WithData returns a copy of b whose property map is replaced by data.
func (b Bundle) WithData(data map[string]Value) Bundle {
	b.data = maps.Clone(data)
	return b
}

// Meta returns a copy of the out-of-band metadata. Metadata is neither
// persisted nor compared.
func (b Bundle) Meta() map[string]Value { return maps.Clone(b.meta) }

func (b Bundle) WithMetaValue(key string, v Value) Bundle {
	meta := maps.Clone(b.meta)
	if meta == nil {
		meta = make(map[string]Value, 1)
	}
	meta[key] = v
	b.meta = meta
	return b
}

// WithRelation appends child under label.
func (b Bundle) WithRelation(label string, child Bundle) Bundle {
	b.relations = b.relations.Add(label, child)
	return b
}

// WithRelations replaces the children under label.
func (b Bundle) WithRelations(label string, children []Bundle) Bundle {
	b.relations = b.relations.Set(label, children)
	return b
}

// ReplaceRelations replaces the whole relation map.
func (b Bundle) ReplaceRelations(r Relations) Bundle {
	b.relations = r.clone()
	return b
}

// WithRelationsMap appends every child of r to b, label by label.
func (b Bundle) WithRelationsMap(r Relations) Bundle {
	rels := b.relations
	r.Each(func(label string, child Bundle) {
		rels = rels.Add(label, child)
	})
	b.relations = rels
	return b
}

// RemoveRelation drops the first child under label equal to child.
func (b Bundle) RemoveRelation(label string, child Bundle) Bundle {
	b.relations = b.relations.Remove(label, child)
	return b
}

func (b Bundle) HasRelations(label string) bool { return b.relations.Has(label) }

// Relations returns a copy of the children under label.
func (b Bundle) Relations(label string) []Bundle { return b.relations.Get(label) }

// RelationMap returns the complete relation map.
func (b Bundle) RelationMap() Relations { return b.relations.clone() }

// FilterRelations removes, at any depth, every child for which remove returns
// true. Children that are kept are filtered recursively.
func (b Bundle) FilterRelations(remove func(label string, child Bundle) bool) Bundle {
	var out Relations
	for _, label := range b.relations.Labels() {
		var kept []Bundle
		for _, child := range b.relations.items[label] {
			if remove(label, child) {
				continue
			}
			kept = append(kept, child.FilterRelations(remove))
		}
		out = out.Set(label, kept)
	}
	b.relations = out
	return b
}

// MergeDataWith applies patch's data to b: a null in the patch deletes the
// key, any other value overwrites it. Keys only present in b are kept and
// relations are not touched. Managed keys in the patch are ignored.
func (b Bundle) MergeDataWith(patch Bundle) Bundle {
	data := maps.Clone(b.data)
	if data == nil {
		data = make(map[string]Value, len(patch.data))
	}
	for k, v := range patch.data {
		if entity.IsManagedKey(k) {
			continue
		}
		if v.IsNull() {
			delete(data, k)
			continue
		}
		data[k] = v
	}
	b.data = data
	return b
}

// Depth is 0 for a bundle without children, otherwise one more than the
// deepest child.
func (b Bundle) Depth() int {
	depth := 0
	b.relations.Each(func(_ string, child Bundle) {
		if d := child.Depth() + 1; d > depth {
			depth = d
		}
	})
	return depth
}

// UniquePropertyKeys collects the non-managed property keys of b and all its
// dependent descendants, sorted.
func (b Bundle) UniquePropertyKeys() []string {
	seen := make(map[string]struct{})
	b.collectKeys(seen)
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b Bundle) collectKeys(seen map[string]struct{}) {
	for k, v := range b.data {
		if !v.IsNull() && !entity.IsManagedKey(k) {
			seen[k] = struct{}{}
		}
	}
	meta := b.TypeMetadata()
	b.relations.Each(func(label string, child Bundle) {
		if meta.IsDependent(label) {
			child.collectKeys(seen)
		}
	})
}

// filteredData returns the data that takes part in equality.
func (b Bundle) filteredData() map[string]Value {
	out := make(map[string]Value, len(b.data))
	for k, v := range b.data {
		if v.IsNull() || entity.IsManagedKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Equal reports structural equality. See the package documentation.
func (b Bundle) Equal(o Bundle) bool {
	if b.typ != o.typ {
		return false
	}
	if !maps.EqualFunc(b.filteredData(), o.filteredData(), Value.Equal) {
		return false
	}
	return b.relations.Equal(o.relations)
}

// DataEqual compares only the filtered data of two bundles.
func (b Bundle) DataEqual(o Bundle) bool {
	return maps.EqualFunc(b.filteredData(), o.filteredData(), Value.Equal)
}

// Digest returns a hex BLAKE2b-256 hash over the same fields Equal compares.
// Equal bundles have equal digests.
func (b Bundle) Digest() string {
	var w strings.Builder
	b.writeCanonical(&w)
	sum := blake2b.Sum256([]byte(w.String()))
	return hex.EncodeToString(sum[:])
}

func (b Bundle) writeCanonical(w *strings.Builder) {
	writeLenPrefixed(w, string(b.typ))
	data := b.filteredData()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.WriteByte('{')
	for _, k := range keys {
		writeLenPrefixed(w, k)
		data[k].writeCanonical(w)
	}
	w.WriteByte('}')
	labels := b.relations.Labels()
	slices.Sort(labels)
	w.WriteByte('[')
	for _, label := range labels {
		writeLenPrefixed(w, label)
		children := b.relations.items[label]
		fmt.Fprintf(w, "%d(", len(children))
		for _, child := range children {
			child.writeCanonical(w)
		}
		w.WriteByte(')')
	}
	w.WriteByte(']')
}

// String returns a short description such as <DocumentaryUnit: nl-r1-c1>.
func (b Bundle) String() string {
	id := b.id
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("<%s: %s>", b.typ, id)
}
