// Package idgen derives stable, human-readable hierarchical identifiers.
//
// Ids are built from a scope path (the identifiers of an entity's ancestors,
// outermost first) and the entity's own local identifier. Each element is
// slugified and the elements are joined with the hierarchy separator:
//
//	idgen.Generate([]string{"nl", "r1"}, "c1") // "nl-r1-c1"
//
// Redundant prefixes are removed, so a child identifier authored with its
// parent's code already in it does not repeat that code:
//
//	idgen.Generate([]string{"nl-r1-c1"}, "c1-c2") // "nl-r1-c1-c2"
//
// Everything in this package is pure. Collision detection needs the store and
// is left to the persistence layer.
package idgen

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrMissingIdentifier is returned when the local identifier is empty or blank.
var ErrMissingIdentifier = errors.New("missing identifier")

const (
	// DefaultHierarchySeparator joins path elements.
	DefaultHierarchySeparator = "-"
	// DefaultSlugSeparator replaces runs of non-alphanumeric characters inside
	// a single path element.
	DefaultSlugSeparator = "_"
	// DescriptionSeparator separates a parent id from a description or scoped
	// child suffix.
	DescriptionSeparator = "."
)

// Generator holds the separators used to build ids. The zero value is not
// usable; start from Default or New.
type Generator struct {
	HierarchySeparator string
	SlugSeparator      string
}

// Default is the generator used by the package-level functions.
var Default = Generator{
	HierarchySeparator: DefaultHierarchySeparator,
	SlugSeparator:      DefaultSlugSeparator,
}

// New returns a Generator with the given separators, falling back to the
// defaults for empty values.
func New(hierarchySep, slugSep string) (Generator, error) {
	g := Default
	if hierarchySep != "" {
		g.HierarchySeparator = hierarchySep
	}
	if slugSep != "" {
		g.SlugSeparator = slugSep
	}
	if g.HierarchySeparator == g.SlugSeparator {
		return Generator{}, fmt.Errorf("idgen: hierarchy and slug separators must differ (both %q)", g.HierarchySeparator)
	}
	return g, nil
}

// Slugify lowercases s, strips diacritics and collapses every run of
// characters outside [a-z0-9] into a single slug separator. Leading and
// trailing separators are trimmed.
func (g Generator) Slugify(s string) string {
	// transform chains are stateful and must not be shared between goroutines
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteString(g.SlugSeparator)
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// JoinPath de-duplicates prefixes, slugifies and joins path. The last element
// is treated as the local identifier; earlier elements are scope elements.
func (g Generator) JoinPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return g.join(path[:len(path)-1], path[len(path)-1])
}

// Generate builds the id of an entity with the given local identifier below
// scope. It fails with ErrMissingIdentifier when local is blank.
func (g Generator) Generate(scope []string, local string) (string, error) {
	if strings.TrimSpace(local) == "" {
		return "", fmt.Errorf("%w (scope: %v)", ErrMissingIdentifier, scope)
	}
	return g.join(scope, local), nil
}

// Description builds the id of a description: the immediate parent id, the
// description separator, then the language code joined with the non-blank
// qualifiers (identifier, source file). Without a scope the joined parts form
// the whole id.
func (g Generator) Description(scope []string, languageCode string, qualifiers ...string) (string, error) {
	if strings.TrimSpace(languageCode) == "" {
		return "", fmt.Errorf("%w: description has no language code (scope: %v)", ErrMissingIdentifier, scope)
	}
	parts := []string{languageCode}
	for _, q := range qualifiers {
		if strings.TrimSpace(q) != "" {
			parts = append(parts, q)
		}
	}
	suffix := g.JoinPath(parts)
	if len(scope) == 0 {
		return suffix, nil
	}
	return scope[len(scope)-1] + DescriptionSeparator + suffix, nil
}

// Scoped builds the id of an anonymous dependent from its parent id, the type
// abbreviation and a content digest.
func (g Generator) Scoped(scope []string, abbreviation, digest string) (string, error) {
	if strings.TrimSpace(digest) == "" {
		return "", fmt.Errorf("%w: empty content digest for %q", ErrMissingIdentifier, abbreviation)
	}
	local := abbreviation + g.HierarchySeparator + digest
	if len(scope) == 0 {
		return local, nil
	}
	return scope[len(scope)-1] + DescriptionSeparator + local, nil
}

func (g Generator) join(scope []string, local string) string {
	var out []string
	prev := ""
	emit := func(raw string, isScope bool) {
		if isScope && g.isGenerated(raw) && g.extends(raw, out) {
			// an already generated id that continues the path so far
			// carries that path itself
			out = append(out[:0], raw)
			prev = raw
			return
		}
		el := raw
		if prev != "" {
			el = stripPrefix(raw, prev)
			if el == raw {
				if i := strings.LastIndex(prev, g.HierarchySeparator); i >= 0 {
					el = stripPrefix(raw, prev[i+len(g.HierarchySeparator):])
				}
			}
		}
		prev = raw
		if slug := g.Slugify(el); slug != "" {
			out = append(out, slug)
		}
	}
	for _, s := range scope {
		emit(s, true)
	}
	emit(local, false)
	return strings.Join(out, g.HierarchySeparator)
}

// isGenerated reports whether s already looks like a hierarchical id: at least
// two non-empty segments made only of id-safe characters.
func (g Generator) isGenerated(s string) bool {
	segments := strings.Split(s, g.HierarchySeparator)
	if len(segments) < 2 {
		return false
	}
	for _, seg := range segments {
		if seg == "" {
			return false
		}
		for _, r := range seg {
			ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
				strings.ContainsRune(g.SlugSeparator, r) || strings.ContainsRune(DescriptionSeparator, r)
			if !ok {
				return false
			}
		}
	}
	return true
}

// extends reports whether id starts with the path built so far. With nothing
// built yet any generated id qualifies.
func (g Generator) extends(id string, path []string) bool {
	if len(path) == 0 {
		return true
	}
	return strings.HasPrefix(id, strings.Join(path, g.HierarchySeparator)+g.HierarchySeparator)
}

// stripPrefix removes prefix from s when s starts with it and something is
// left over. Comparison is case-sensitive.
func stripPrefix(s, prefix string) string {
	if prefix != "" && s != prefix && strings.HasPrefix(s, prefix) {
		return s[len(prefix):]
	}
	return s
}

// Slugify calls Default.Slugify.
func Slugify(s string) string { return Default.Slugify(s) }

// JoinPath calls Default.JoinPath.
func JoinPath(path []string) string { return Default.JoinPath(path) }

// Generate calls Default.Generate.
func Generate(scope []string, local string) (string, error) {
	return Default.Generate(scope, local)
}
