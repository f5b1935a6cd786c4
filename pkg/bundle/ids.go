package bundle

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/idgen"
)

// scopedDigestLen is the number of hex digest characters used in the ids of
// scoped entities.
const scopedDigestLen = 10

// GenerateIDs returns a copy of b in which b and every dependent descendant
// carries an id, using the default generator. See GenerateIDsWith.
func (b Bundle) GenerateIDs(scope []string) (Bundle, error) {
	return b.GenerateIDsWith(idgen.Default, scope)
}

// GenerateIDsWith computes b's id from scope and b's identifying data, then
// recursively identifies each dependent child using scope plus b's id as the
// child's scope. Ids that are already set are kept, which makes the call
// idempotent. Referential children are left as they are: they point at
// entities that already exist and must carry their own ids.
//
// Identical anonymous siblings (same type and content under the same parent)
// would compute the same digest-based id; the second and later ones get an
// occurrence suffix so that every id in the tree stays unique.
func (b Bundle) GenerateIDsWith(g idgen.Generator, scope []string) (Bundle, error) {
	return b.generateIDs(g, scope, 1)
}

func (b Bundle) generateIDs(g idgen.Generator, scope []string, occurrence int) (Bundle, error) {
	if !b.HasID() {
		id, err := b.computeID(g, scope)
		if err != nil {
			return Bundle{}, err
		}
		if occurrence > 1 {
			id += g.HierarchySeparator + strconv.Itoa(occurrence)
		}
		b.id = id
	}

	childScope := append(slices.Clone(scope), b.id)
	meta := b.TypeMetadata()
	seen := make(map[string]int)
	var rels Relations
	for _, label := range b.relations.Labels() {
		children := b.relations.items[label]
		if !meta.IsDependent(label) {
			rels = rels.Set(label, children)
			continue
		}
		out := make([]Bundle, len(children))
		for i, child := range children {
			occ := 1
			if !child.HasID() && child.TypeMetadata().Strategy == entity.ScopedStrategy {
				key := string(child.typ) + "/" + child.Digest()
				seen[key]++
				occ = seen[key]
			}
			identified, err := child.generateIDs(g, childScope, occ)
			if err != nil {
				return Bundle{}, fmt.Errorf("%s[%d]: %w", label, i, err)
			}
			out[i] = identified
		}
		rels = rels.Set(label, out)
	}
	b.relations = rels
	return b, nil
}

// ComputeID returns the id b would be given below scope, ignoring any id it
// already carries.
func (b Bundle) ComputeID(scope []string) (string, error) {
	return b.computeID(idgen.Default, scope)
}

// ComputeIDWith is ComputeID with an explicit generator.
func (b Bundle) ComputeIDWith(g idgen.Generator, scope []string) (string, error) {
	return b.computeID(g, scope)
}

func (b Bundle) computeID(g idgen.Generator, scope []string) (string, error) {
	meta, ok := entity.Lookup(b.typ)
	if !ok {
		return "", fmt.Errorf("%w: %q", entity.ErrUnknownType, string(b.typ))
	}
	switch meta.Strategy {
	case entity.IdentifierStrategy:
		ident, err := b.DataString(entity.IdentifierKey)
		if err != nil {
			return "", err
		}
		id, err := g.Generate(scope, ident)
		if err != nil {
			return "", fmt.Errorf("%s: %w", b.typ, err)
		}
		return id, nil
	case entity.DescriptionStrategy:
		lang, err := b.DataString(entity.LanguageCodeKey)
		if err != nil {
			return "", err
		}
		ident, err := b.DataString(entity.IdentifierKey)
		if err != nil {
			return "", err
		}
		source, err := b.DataString(entity.SourceFileIDKey)
		if err != nil {
			return "", err
		}
		id, err := g.Description(scope, lang, ident, source)
		if err != nil {
			return "", fmt.Errorf("%s: %w", b.typ, err)
		}
		return id, nil
	case entity.ScopedStrategy:
		return g.Scoped(scope, meta.Abbreviation, b.Digest()[:scopedDigestLen])
	}
	return "", fmt.Errorf("%s: unsupported id strategy %s", b.typ, meta.Strategy)
}
