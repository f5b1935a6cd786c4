package importer

import (
	"fmt"
	"slices"

	"github.com/orneryd/bundledb/pkg/persistence"
)

// ImportLog tallies the outcome of every item in one import run.
type ImportLog struct {
	created   int
	updated   int
	unchanged int
	errors    []ItemError
}

// ItemError describes one skipped item.
type ItemError struct {
	// Index is the position of the item in the import.
	Index int
	// Item names the item, by identifier when it has one.
	Item    string
	Message string
}

// NewImportLog returns an empty log.
func NewImportLog() *ImportLog {
	return &ImportLog{}
}

// Add counts one successful item.
func (l *ImportLog) Add(state persistence.MutationState) {
	switch state {
	case persistence.Created:
		l.created++
	case persistence.Updated:
		l.updated++
	case persistence.Unchanged:
		l.unchanged++
	}
}

// AddError records that the item at index was skipped.
func (l *ImportLog) AddError(index int, item string, err error) {
	l.errors = append(l.errors, ItemError{Index: index, Item: item, Message: err.Error()})
}

func (l *ImportLog) Created() int   { return l.created }
func (l *ImportLog) Updated() int   { return l.updated }
func (l *ImportLog) Unchanged() int { return l.unchanged }
func (l *ImportLog) Errored() int   { return len(l.errors) }

// Errors returns the skipped items in import order.
func (l *ImportLog) Errors() []ItemError { return slices.Clone(l.errors) }

// Changed is the number of items that were created or updated.
func (l *ImportLog) Changed() int { return l.created + l.updated }

// HasDoneWork reports whether the import wrote anything.
func (l *ImportLog) HasDoneWork() bool { return l.Changed() > 0 }

func (l *ImportLog) String() string {
	return fmt.Sprintf("Created: %d, Updated: %d, Unchanged: %d, Errors: %d",
		l.created, l.updated, l.unchanged, len(l.errors))
}
