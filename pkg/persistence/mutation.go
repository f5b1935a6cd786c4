package persistence

// MutationState is the outcome of a single persistence call.
type MutationState int

const (
	Created MutationState = iota
	Updated
	Unchanged
)

func (s MutationState) String() string {
	switch s {
	case Created:
		return "CREATED"
	case Updated:
		return "UPDATED"
	case Unchanged:
		return "UNCHANGED"
	}
	return "UNKNOWN"
}

// Mutation pairs the persisted entity with what happened to it. It is built
// once per call and never modified.
type Mutation[T any] struct {
	entity T
	state  MutationState
}

// NewMutation returns a Mutation for entity in the given state.
func NewMutation[T any](entity T, state MutationState) Mutation[T] {
	return Mutation[T]{entity: entity, state: state}
}

func (m Mutation[T]) Entity() T            { return m.entity }
func (m Mutation[T]) State() MutationState { return m.state }
func (m Mutation[T]) Created() bool        { return m.state == Created }
func (m Mutation[T]) Updated() bool        { return m.state == Updated }
func (m Mutation[T]) Unchanged() bool      { return m.state == Unchanged }

// HasChanged is true unless the call left the store untouched.
func (m Mutation[T]) HasChanged() bool { return m.state != Unchanged }
