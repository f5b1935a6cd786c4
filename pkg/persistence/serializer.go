package persistence

import (
	"errors"
	"fmt"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/entity"
	"github.com/orneryd/bundledb/pkg/storage"
)

// DefaultMaxDepth bounds how deep the Serializer follows dependent relations.
const DefaultMaxDepth = 32

// Serializer reads stored entities back into bundles. Dependent relations
// are loaded in full; referential relations become shallow bundles carrying
// only the target's id and type.
type Serializer struct {
	MaxDepth int
}

// Load reads the entity stored under id.
func (s Serializer) Load(tx storage.Tx, id string) (bundle.Bundle, error) {
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	visited := make(map[storage.NodeID]struct{})
	return s.load(tx, storage.NodeID(id), 0, maxDepth, visited)
}

func (s Serializer) load(tx storage.Tx, id storage.NodeID, depth, maxDepth int, visited map[storage.NodeID]struct{}) (bundle.Bundle, error) {
	visited[id] = struct{}{}

	node, typ, err := readNode(tx, id)
	if err != nil {
		return bundle.Bundle{}, err
	}

	data := make(map[string]bundle.Value, len(node.Properties))
	for k, raw := range node.Properties {
		v, err := bundle.FromInterface(raw)
		if err != nil {
			return bundle.Bundle{}, &IntegrityError{ID: string(id), Msg: fmt.Sprintf("property %q", k), Err: err}
		}
		data[k] = v
	}
	b := bundle.NewWithID(string(id), typ).WithData(data)

	edges, err := tx.GetOutgoingEdges(id)
	if err != nil {
		return bundle.Bundle{}, &IntegrityError{ID: string(id), Msg: "reading relations", Err: err}
	}
	meta := typ.Metadata()
	for _, e := range edges {
		if !meta.IsDependent(e.Type) {
			_, targetType, err := readNode(tx, e.EndNode)
			if err != nil {
				return bundle.Bundle{}, err
			}
			b = b.WithRelation(e.Type, bundle.NewWithID(string(e.EndNode), targetType))
			continue
		}
		if _, seen := visited[e.EndNode]; seen {
			return bundle.Bundle{}, &IntegrityError{ID: string(e.EndNode), Msg: "dependent relation cycle"}
		}
		if depth+1 > maxDepth {
			return bundle.Bundle{}, &IntegrityError{ID: string(id), Msg: fmt.Sprintf("dependent tree deeper than %d", maxDepth)}
		}
		child, err := s.load(tx, e.EndNode, depth+1, maxDepth, visited)
		if err != nil {
			return bundle.Bundle{}, err
		}
		b = b.WithRelation(e.Type, child)
	}
	return b, nil
}

// readNode fetches a node and resolves its entity type.
func readNode(tx storage.Tx, id storage.NodeID) (*storage.Node, entity.Type, error) {
	node, err := tx.GetNode(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", &ItemNotFoundError{ID: string(id)}
	}
	if err != nil {
		return nil, "", &IntegrityError{ID: string(id), Msg: "reading node", Err: err}
	}
	typ, err := entity.Parse(node.Type())
	if err != nil {
		return nil, "", &IntegrityError{ID: string(id), Err: err}
	}
	return node, typ, nil
}
