package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/persistence"
)

func desc(id, lang, source, name string) bundle.Bundle {
	bb := bundle.NewBuilder(entity.DocumentaryUnitDescription).
		String(entity.LanguageCodeKey, lang).
		String(entity.NameKey, name)
	if id != "" {
		bb = bb.ID(id)
	}
	if source != "" {
		bb = bb.String(entity.SourceFileIDKey, source)
	}
	return bb.Build()
}

func unitWith(name string, descs ...bundle.Bundle) bundle.Bundle {
	return bundle.NewBuilder(entity.DocumentaryUnit).
		ID("u").
		String(entity.IdentifierKey, "c1").
		String(entity.NameKey, name).
		Relation(entity.Describes, descs...).
		Build()
}

func names(children []bundle.Bundle) []string {
	out := make([]string, len(children))
	for i, c := range children {
		out[i], _ = c.DataString(entity.NameKey)
	}
	return out
}

func TestMergeWithPrevious(t *testing.T) {
	t.Run("replaces matching description in place", func(t *testing.T) {
		stored := unitWith("old",
			desc("u.en", "eng", "a.xml", "english"),
			desc("u.fr", "fra", "a.xml", "french"),
		)
		fresh := unitWith("new", desc("", "eng", "a.xml", "english v2"))

		merged := MergeWithPrevious(stored, fresh)

		name, _ := merged.DataString(entity.NameKey)
		assert.Equal(t, "new", name)
		assert.Equal(t, []string{"english v2", "french"}, names(merged.Relations(entity.Describes)))
	})

	t.Run("appends new language", func(t *testing.T) {
		stored := unitWith("u", desc("u.en", "eng", "a.xml", "english"))
		fresh := unitWith("u", desc("", "deu", "a.xml", "german"))

		merged := MergeWithPrevious(stored, fresh)
		assert.Equal(t, []string{"english", "german"}, names(merged.Relations(entity.Describes)))
	})

	t.Run("different source file is kept", func(t *testing.T) {
		stored := unitWith("u", desc("u.en", "eng", "a.xml", "from a"))
		fresh := unitWith("u", desc("", "eng", "b.xml", "from b"))

		merged := MergeWithPrevious(stored, fresh)
		assert.Equal(t, []string{"from a", "from b"}, names(merged.Relations(entity.Describes)))
	})

	t.Run("missing source file matches missing", func(t *testing.T) {
		stored := unitWith("u", desc("u.en", "eng", "", "before"))
		fresh := unitWith("u", desc("", "eng", "", "after"))

		merged := MergeWithPrevious(stored, fresh)
		assert.Equal(t, []string{"after"}, names(merged.Relations(entity.Describes)))
	})

	t.Run("same id replaces", func(t *testing.T) {
		stored := unitWith("u", desc("u.en", "eng", "a.xml", "before"))
		fresh := unitWith("u", desc("u.en", "eng", "a.xml", "after"))

		merged := MergeWithPrevious(stored, fresh)
		assert.Equal(t, []string{"after"}, names(merged.Relations(entity.Describes)))
	})

	t.Run("same id from another source does not replace", func(t *testing.T) {
		stored := unitWith("u", desc("u.en", "eng", "a.xml", "before"))
		fresh := unitWith("u", desc("u.en", "eng", "b.xml", "after"))

		merged := MergeWithPrevious(stored, fresh)
		assert.Equal(t, []string{"before", "after"}, names(merged.Relations(entity.Describes)))
	})

	t.Run("references deduplicated", func(t *testing.T) {
		repo := bundle.NewWithID("nl-r1", entity.Repository)
		stored := unitWith("u").WithRelation(entity.HasPermissionScope, repo)
		fresh := unitWith("u").WithRelation(entity.HasPermissionScope, repo)

		merged := MergeWithPrevious(stored, fresh)
		assert.Len(t, merged.Relations(entity.HasPermissionScope), 1)
	})

	t.Run("does not modify inputs", func(t *testing.T) {
		stored := unitWith("u", desc("u.en", "eng", "a.xml", "english"))
		fresh := unitWith("u", desc("", "fra", "a.xml", "french"))

		_ = MergeWithPrevious(stored, fresh)
		assert.Len(t, stored.Relations(entity.Describes), 1)
		assert.Len(t, fresh.Relations(entity.Describes), 1)
	})
}

func TestImportLog(t *testing.T) {
	l := NewImportLog()
	assert.False(t, l.HasDoneWork())

	l.Add(persistence.Created)
	l.Add(persistence.Unchanged)
	l.AddError(2, "c9", assert.AnError)
	l.AddError(3, "c9", assert.AnError)

	assert.True(t, l.HasDoneWork())
	assert.Equal(t, 1, l.Changed())
	assert.Equal(t, 2, l.Errored(), "same identifier counts per item")
	assert.Equal(t, "Created: 1, Updated: 0, Unchanged: 1, Errors: 2", l.String())
	assert.Equal(t, []ItemError{
		{Index: 2, Item: "c9", Message: assert.AnError.Error()},
		{Index: 3, Item: "c9", Message: assert.AnError.Error()},
	}, l.Errors())
}
