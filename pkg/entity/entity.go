// Package entity defines the closed set of entity types a bundle can carry and
// the static metadata attached to each of them.
//
// The metadata table replaces runtime annotation scanning: everything the
// persistence layer needs to know about a type (its id-generation strategy,
// which relations it owns, which properties must be present) is declared once
// here and looked up by type tag.
//
// Example Usage:
//
//	meta, ok := entity.Lookup(entity.DocumentaryUnit)
//	if !ok {
//		return entity.ErrUnknownType
//	}
//	if meta.IsDependent(entity.Describes) {
//		// descriptions are created and deleted with the unit
//	}
package entity

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ErrUnknownType is returned when a type tag is not part of the enumeration.
var ErrUnknownType = errors.New("unknown entity type")

// Type is the tag identifying the kind of an entity. The zero value is not a
// valid type.
type Type string

// Entity types.
const (
	Country                    Type = "Country"
	Repository                 Type = "Repository"
	RepositoryDescription      Type = "RepositoryDescription"
	DocumentaryUnit            Type = "DocumentaryUnit"
	DocumentaryUnitDescription Type = "DocumentaryUnitDescription"
	HistoricalAgent            Type = "HistoricalAgent"
	HistoricalAgentDescription Type = "HistoricalAgentDescription"
	CvocVocabulary             Type = "CvocVocabulary"
	CvocConcept                Type = "CvocConcept"
	CvocConceptDescription     Type = "CvocConceptDescription"
	DatePeriod                 Type = "DatePeriod"
	Address                    Type = "Address"
	AccessPoint                Type = "AccessPoint"
	MaintenanceEvent           Type = "MaintenanceEvent"
	UnknownProperty            Type = "UnknownProperty"
	Link                       Type = "Link"
)

// Relation labels.
const (
	Describes           = "describes"
	HasDate             = "hasDate"
	HasAccessPoint      = "hasAccessPoint"
	HasAddress          = "hasAddress"
	HasMaintenanceEvent = "hasMaintenanceEvent"
	HasUnknownProperty  = "hasUnknownProperty"
	HeldBy              = "heldBy"
	ChildOf             = "childOf"
	HasPermissionScope  = "hasPermissionScope"
	HasLinkTarget       = "hasLinkTarget"
	HasLinkBody         = "hasLinkBody"
)

// Well-known property keys.
const (
	IdentifierKey   = "identifier"
	LanguageCodeKey = "languageCode"
	NameKey         = "name"
	SourceFileIDKey = "sourceFileId"
	StartDateKey    = "startDate"
	EventTypeKey    = "eventType"
	TypeKey         = "type"

	// ManagedPrefix marks system-maintained keys (derived counts and the like).
	// Managed keys never take part in equality, merging or change detection.
	ManagedPrefix = "_"
)

// Strategy selects how an entity's id is derived.
type Strategy int

const (
	// IdentifierStrategy derives the id from the scope path plus the entity's
	// own "identifier" property.
	IdentifierStrategy Strategy = iota
	// DescriptionStrategy derives the id from the parent id, the language code
	// and an optional identifier.
	DescriptionStrategy
	// ScopedStrategy derives the id from the parent id and a digest of the
	// entity's content. Used for anonymous dependents such as date periods.
	ScopedStrategy
)

func (s Strategy) String() string {
	switch s {
	case IdentifierStrategy:
		return "identifier"
	case DescriptionStrategy:
		return "description"
	case ScopedStrategy:
		return "scoped"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Metadata is the static description of one entity type.
type Metadata struct {
	Abbreviation string
	Strategy     Strategy
	// Dependent lists the relation labels whose children are owned by this
	// type. All other labels are referential.
	Dependent []string
	// Mandatory lists property keys that must hold a non-blank value.
	Mandatory []string
}

// IsDependent reports whether children under label are owned by the parent.
func (m Metadata) IsDependent(label string) bool {
	return slices.Contains(m.Dependent, label)
}

var table = map[Type]Metadata{
	Country: {
		Abbreviation: "ct",
		Strategy:     IdentifierStrategy,
		Mandatory:    []string{IdentifierKey},
	},
	Repository: {
		Abbreviation: "r",
		Strategy:     IdentifierStrategy,
		Dependent:    []string{Describes},
		Mandatory:    []string{IdentifierKey},
	},
	RepositoryDescription: {
		Abbreviation: "rd",
		Strategy:     DescriptionStrategy,
		Dependent:    []string{HasAddress, HasMaintenanceEvent, HasUnknownProperty},
		Mandatory:    []string{LanguageCodeKey, NameKey},
	},
	DocumentaryUnit: {
		Abbreviation: "c",
		Strategy:     IdentifierStrategy,
		Dependent:    []string{Describes},
		Mandatory:    []string{IdentifierKey},
	},
	DocumentaryUnitDescription: {
		Abbreviation: "cd",
		Strategy:     DescriptionStrategy,
		Dependent:    []string{HasDate, HasAccessPoint, HasMaintenanceEvent, HasUnknownProperty},
		Mandatory:    []string{LanguageCodeKey, NameKey},
	},
	HistoricalAgent: {
		Abbreviation: "a",
		Strategy:     IdentifierStrategy,
		Dependent:    []string{Describes},
		Mandatory:    []string{IdentifierKey},
	},
	HistoricalAgentDescription: {
		Abbreviation: "ad",
		Strategy:     DescriptionStrategy,
		Dependent:    []string{HasDate, HasMaintenanceEvent},
		Mandatory:    []string{LanguageCodeKey, NameKey},
	},
	CvocVocabulary: {
		Abbreviation: "cvoc",
		Strategy:     IdentifierStrategy,
		Dependent:    []string{Describes},
		Mandatory:    []string{IdentifierKey},
	},
	CvocConcept: {
		Abbreviation: "cvc",
		Strategy:     IdentifierStrategy,
		Dependent:    []string{Describes},
		Mandatory:    []string{IdentifierKey},
	},
	CvocConceptDescription: {
		Abbreviation: "cvcd",
		Strategy:     DescriptionStrategy,
		Mandatory:    []string{LanguageCodeKey, NameKey},
	},
	DatePeriod: {
		Abbreviation: "dp",
		Strategy:     ScopedStrategy,
		Mandatory:    []string{StartDateKey},
	},
	Address: {
		Abbreviation: "adr",
		Strategy:     ScopedStrategy,
	},
	AccessPoint: {
		Abbreviation: "ap",
		Strategy:     ScopedStrategy,
		Mandatory:    []string{NameKey, TypeKey},
	},
	MaintenanceEvent: {
		Abbreviation: "me",
		Strategy:     ScopedStrategy,
		Mandatory:    []string{EventTypeKey},
	},
	UnknownProperty: {
		Abbreviation: "up",
		Strategy:     ScopedStrategy,
	},
	Link: {
		Abbreviation: "lnk",
		Strategy:     ScopedStrategy,
		Dependent:    []string{HasDate},
		Mandatory:    []string{TypeKey},
	},
}

// Lookup returns the metadata for t.
func Lookup(t Type) (Metadata, bool) {
	m, ok := table[t]
	return m, ok
}

// MustLookup is like Lookup but panics on an unknown type. Only use it with
// the constants declared in this package.
func MustLookup(t Type) Metadata {
	m, ok := table[t]
	if !ok {
		panic(fmt.Sprintf("entity: %q is not a registered type", string(t)))
	}
	return m
}

// Valid reports whether t is part of the enumeration.
func (t Type) Valid() bool {
	_, ok := table[t]
	return ok
}

// Metadata returns the static metadata of t, or the zero Metadata for an
// unknown type.
func (t Type) Metadata() Metadata {
	return table[t]
}

func (t Type) String() string { return string(t) }

// Parse converts a type name into a Type.
func Parse(name string) (Type, error) {
	t := Type(name)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

// All returns every registered type, sorted by name.
func All() []Type {
	types := make([]Type, 0, len(table))
	for t := range table {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsManagedKey reports whether key is system-maintained.
func IsManagedKey(key string) bool {
	return strings.HasPrefix(key, ManagedPrefix)
}
