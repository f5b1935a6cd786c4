package persistence

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
)

// Validator checks a bundle tree against the entity metadata before anything
// is written: every type must be known, mandatory properties must be present
// and non-blank, identifying properties must be strings and referential
// children must already carry an id. Dependent children are checked
// recursively.
type Validator struct{}

// Validate returns nil or a *ValidationError holding every problem found.
func (Validator) Validate(b bundle.Bundle) error {
	var errs error
	validateTree(b, "", &errs)
	if errs == nil {
		return nil
	}
	return &ValidationError{Type: b.Type(), Err: errs}
}

func validateTree(b bundle.Bundle, path string, errs *error) {
	meta, ok := entity.Lookup(b.Type())
	if !ok {
		multierr.AppendInto(errs, &FieldError{
			Path:    path,
			Field:   bundle.TypeKey,
			Message: fmt.Sprintf("unknown entity type %q", b.Type()),
		})
		return
	}

	for _, key := range meta.Mandatory {
		v, present := b.DataValue(key)
		if !present || isBlank(v) {
			multierr.AppendInto(errs, &FieldError{Path: path, Field: key, Message: "missing mandatory property"})
		}
	}
	for _, key := range []string{entity.IdentifierKey, entity.LanguageCodeKey} {
		if v, present := b.DataValue(key); present && v.Kind() != bundle.KindString {
			multierr.AppendInto(errs, &FieldError{
				Path:    path,
				Field:   key,
				Message: fmt.Sprintf("must be a string, got %s", v.Kind()),
			})
		}
	}

	rels := b.RelationMap()
	for _, label := range rels.Labels() {
		for i, child := range rels.Get(label) {
			childPath := fmt.Sprintf("%s[%d]", label, i)
			if path != "" {
				childPath = path + "/" + childPath
			}
			if meta.IsDependent(label) {
				validateTree(child, childPath, errs)
				continue
			}
			if !child.HasID() {
				multierr.AppendInto(errs, &FieldError{
					Path:    childPath,
					Field:   bundle.IDKey,
					Message: "referenced item has no id",
				})
			}
		}
	}
}

func isBlank(v bundle.Value) bool {
	switch v.Kind() {
	case bundle.KindNull:
		return true
	case bundle.KindString:
		s, _ := v.AsString()
		return strings.TrimSpace(s) == ""
	case bundle.KindList:
		l, _ := v.AsList()
		return len(l) == 0
	}
	return false
}
