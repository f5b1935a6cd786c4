package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// serializableNode is the JSON-serializable form of a Node.
type serializableNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
	CreatedAt  int64          `json:"createdAt"`
	UpdatedAt  int64          `json:"updatedAt"`
}

// serializableEdge is the JSON-serializable form of an Edge.
type serializableEdge struct {
	ID        string `json:"id"`
	StartNode string `json:"startNode"`
	EndNode   string `json:"endNode"`
	Type      string `json:"type"`
	Seq       uint64 `json:"seq"`
	CreatedAt int64  `json:"createdAt"`
}

// encodeNode serializes a Node to JSON.
func encodeNode(n *Node) ([]byte, error) {
	return json.Marshal(serializableNode{
		ID:         string(n.ID),
		Labels:     n.Labels,
		Properties: n.Properties,
		CreatedAt:  n.CreatedAt.UnixNano(),
		UpdatedAt:  n.UpdatedAt.UnixNano(),
	})
}

// decodeNode deserializes a Node from JSON.
func decodeNode(data []byte) (*Node, error) {
	var sn serializableNode
	if err := json.Unmarshal(data, &sn); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &Node{
		ID:         NodeID(sn.ID),
		Labels:     sn.Labels,
		Properties: sn.Properties,
		CreatedAt:  nanoToTime(sn.CreatedAt),
		UpdatedAt:  nanoToTime(sn.UpdatedAt),
	}, nil
}

// encodeEdge serializes an Edge to JSON.
func encodeEdge(e *Edge) ([]byte, error) {
	return json.Marshal(serializableEdge{
		ID:        string(e.ID),
		StartNode: string(e.StartNode),
		EndNode:   string(e.EndNode),
		Type:      e.Type,
		Seq:       e.Seq,
		CreatedAt: e.CreatedAt.UnixNano(),
	})
}

// decodeEdge deserializes an Edge from JSON.
func decodeEdge(data []byte) (*Edge, error) {
	var se serializableEdge
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("unmarshaling edge: %w", err)
	}
	return &Edge{
		ID:        EdgeID(se.ID),
		StartNode: NodeID(se.StartNode),
		EndNode:   NodeID(se.EndNode),
		Type:      se.Type,
		Seq:       se.Seq,
		CreatedAt: nanoToTime(se.CreatedAt),
	}, nil
}

func nanoToTime(nanos int64) time.Time {
	if nanos <= 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
