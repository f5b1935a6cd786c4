// Package scope derives the scope path of stored entities.
//
// An entity's permission scope is the entity it belongs to: a documentary
// unit is scoped by its repository, which is scoped by its country. Scopes
// are stored as hasPermissionScope edges pointing from child to parent. The
// scope path is the list of identifiers met walking those edges, outermost
// first, and is the input to id generation for new children.
package scope

import (
	"errors"
	"fmt"
	"slices"

	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/storage"
)

var (
	ErrScopeCycle   = errors.New("permission scope cycle")
	ErrScopeTooDeep = errors.New("permission scope chain too deep")
)

// DefaultMaxDepth bounds the number of ancestors Chain will follow.
const DefaultMaxDepth = 16

// Provider returns the ordered ancestor identifiers of a stored entity.
type Provider interface {
	Scope(tx storage.Tx, id string) ([]string, error)
	Path(tx storage.Tx, id string) ([]string, error)
}

// Chain is the store-backed Provider.
type Chain struct {
	MaxDepth int
}

var _ Provider = Chain{}

// Scope returns the identifiers of id's ancestors, outermost first. id
// itself is not included.
func (c Chain) Scope(tx storage.Tx, id string) ([]string, error) {
	maxDepth := c.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	var path []string
	visited := map[storage.NodeID]struct{}{storage.NodeID(id): {}}
	current := storage.NodeID(id)
	for {
		parent, ok, err := parentOf(tx, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if _, seen := visited[parent]; seen {
			return nil, fmt.Errorf("%w at %q", ErrScopeCycle, parent)
		}
		if len(path) == maxDepth {
			return nil, fmt.Errorf("%w: more than %d ancestors above %q", ErrScopeTooDeep, maxDepth, id)
		}
		visited[parent] = struct{}{}

		ident, err := identifierOf(tx, parent)
		if err != nil {
			return nil, err
		}
		path = append(path, ident)
		current = parent
	}
	slices.Reverse(path)
	return path, nil
}

// Path returns the scope of id followed by id's own identifier: the scope
// to use for children of id.
func (c Chain) Path(tx storage.Tx, id string) ([]string, error) {
	ancestors, err := c.Scope(tx, id)
	if err != nil {
		return nil, err
	}
	ident, err := identifierOf(tx, storage.NodeID(id))
	if err != nil {
		return nil, err
	}
	return append(ancestors, ident), nil
}

func parentOf(tx storage.Tx, id storage.NodeID) (storage.NodeID, bool, error) {
	edges, err := tx.GetOutgoingEdges(id)
	if err != nil {
		return "", false, fmt.Errorf("scope of %q: %w", id, err)
	}
	for _, e := range edges {
		if e.Type == entity.HasPermissionScope {
			return e.EndNode, true, nil
		}
	}
	return "", false, nil
}

// identifierOf returns the node's identifier property, or its id when it has
// none.
func identifierOf(tx storage.Tx, id storage.NodeID) (string, error) {
	node, err := tx.GetNode(id)
	if err != nil {
		return "", fmt.Errorf("scope item %q: %w", id, err)
	}
	if ident, ok := node.Properties[entity.IdentifierKey].(string); ok && ident != "" {
		return ident, nil
	}
	return string(id), nil
}
