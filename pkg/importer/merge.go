package importer

import (
	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
)

// MergeWithPrevious combines a freshly parsed bundle with what is already
// stored under the same id, so that importing one language or source file
// does not wipe out descriptions that came from another.
//
// Both bundles must carry ids. The result has fresh's data. Under every
// label, stored children are kept in their stored order except that a stored
// description is replaced in place by a fresh child of the same type,
// language and source file, and any stored child is replaced by a fresh child
// with the same id and source file. Fresh children that replaced nothing are
// appended; a fresh child reusing a stored id for another source file thus
// ends up next to it and the update fails with an id collision.
func MergeWithPrevious(stored, fresh bundle.Bundle) bundle.Bundle {
	freshRels := fresh.RelationMap()
	var out bundle.Relations

	used := make(map[string]map[int]bool)
	for _, label := range stored.RelationMap().Labels() {
		candidates := freshRels.Get(label)
		used[label] = make(map[int]bool)
		for _, old := range stored.Relations(label) {
			idx := replacementFor(old, candidates, used[label])
			if idx < 0 {
				out = out.Add(label, old)
				continue
			}
			used[label][idx] = true
			out = out.Add(label, candidates[idx])
		}
	}
	for _, label := range freshRels.Labels() {
		for i, child := range freshRels.Get(label) {
			if used[label][i] {
				continue
			}
			out = out.Add(label, child)
		}
	}
	return fresh.ReplaceRelations(out)
}

func replacementFor(old bundle.Bundle, candidates []bundle.Bundle, used map[int]bool) int {
	for i, c := range candidates {
		if used[i] {
			continue
		}
		if c.HasID() && c.ID() == old.ID() && sameSource(old, c) {
			return i
		}
		if sameDescription(old, c) {
			return i
		}
	}
	return -1
}

// sameDescription reports whether a and b are descriptions of the same type
// in the same language from the same source file. A missing source file
// marker only matches another missing one.
func sameDescription(a, b bundle.Bundle) bool {
	if a.Type() != b.Type() || a.TypeMetadata().Strategy != entity.DescriptionStrategy {
		return false
	}
	langA, _ := a.DataString(entity.LanguageCodeKey)
	langB, _ := b.DataString(entity.LanguageCodeKey)
	if langA == "" || langA != langB {
		return false
	}
	return sameSource(a, b)
}

// sameSource reports whether a and b carry the same source file marker.
func sameSource(a, b bundle.Bundle) bool {
	srcA, _ := a.DataString(entity.SourceFileIDKey)
	srcB, _ := b.DataString(entity.SourceFileIDKey)
	return srcA == srcB
}
