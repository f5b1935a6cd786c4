package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/orneryd/bundledb/pkg/entity"
)

// Reserved keys of the interchange document.
const (
	IDKey            = "id"
	TypeKey          = "type"
	DataKey          = "data"
	RelationshipsKey = "relationships"
	MetaKey          = "meta"
)

// document is the interchange form of a Bundle:
//
//	{
//	  "id": "nl-r1-c1",
//	  "type": "DocumentaryUnit",
//	  "data": {"identifier": "c1"},
//	  "relationships": {"describes": [{...}]},
//	  "meta": {}
//	}
type document struct {
	ID            string              `json:"id,omitempty"`
	Type          string              `json:"type"`
	Data          map[string]Value    `json:"data"`
	Relationships map[string][]Bundle `json:"relationships,omitempty"`
	Meta          map[string]Value    `json:"meta,omitempty"`
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	doc := document{
		ID:   b.id,
		Type: string(b.typ),
		Data: b.rawData(),
		Meta: b.meta,
	}
	if doc.Data == nil {
		doc.Data = map[string]Value{}
	}
	if labels := b.relations.Labels(); len(labels) > 0 {
		doc.Relationships = make(map[string][]Bundle, len(labels))
		for _, label := range labels {
			doc.Relationships[label] = b.relations.items[label]
		}
	}
	return json.Marshal(doc)
}

func (b *Bundle) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		var se *SerializationError
		if errors.As(err, &se) {
			return err
		}
		return serializationErr(err, "malformed bundle document")
	}
	if doc.Type == "" {
		return serializationErr(nil, "bundle document has no %q key", TypeKey)
	}
	t, err := entity.Parse(doc.Type)
	if err != nil {
		return serializationErr(err, "bundle %q", doc.ID)
	}
	out := Bundle{id: doc.ID, typ: t}
	if len(doc.Data) > 0 {
		out.data = doc.Data
	}
	if len(doc.Meta) > 0 {
		out.meta = doc.Meta
	}
	out.relations = NewRelations(doc.Relationships)
	*b = out
	return nil
}

// FromJSON parses one bundle document.
func FromJSON(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		var se *SerializationError
		if errors.As(err, &se) {
			return Bundle{}, err
		}
		return Bundle{}, serializationErr(err, "malformed bundle document")
	}
	return b, nil
}

// ToJSON serializes b as an interchange document.
func ToJSON(b Bundle) ([]byte, error) {
	return json.Marshal(b)
}

// ToJSONIndent is like ToJSON with indentation, for human consumption.
func ToJSONIndent(b Bundle) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// StreamDecoder reads bundles one at a time from a JSON array without
// loading the whole array into memory.
type StreamDecoder struct {
	dec     *json.Decoder
	started bool
	done    bool
	n       int
}

// NewStreamDecoder returns a decoder reading a JSON array of bundle documents
// from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{dec: json.NewDecoder(r)}
}

// Next returns the next bundle, or io.EOF after the closing bracket.
func (s *StreamDecoder) Next() (Bundle, error) {
	if s.done {
		return Bundle{}, io.EOF
	}
	if !s.started {
		tok, err := s.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Bundle{}, serializationErr(nil, "empty bundle stream")
			}
			return Bundle{}, serializationErr(err, "reading bundle stream")
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return Bundle{}, serializationErr(nil, "bundle stream must be a JSON array, got %v", tok)
		}
		s.started = true
	}
	if !s.dec.More() {
		if _, err := s.dec.Token(); err != nil {
			return Bundle{}, serializationErr(err, "reading end of bundle stream")
		}
		s.done = true
		return Bundle{}, io.EOF
	}
	var b Bundle
	if err := s.dec.Decode(&b); err != nil {
		var se *SerializationError
		if errors.As(err, &se) {
			return Bundle{}, fmt.Errorf("bundle %d: %w", s.n, err)
		}
		return Bundle{}, serializationErr(err, "bundle %d", s.n)
	}
	s.n++
	return b, nil
}

// DecodeAll reads every bundle of a JSON array.
func DecodeAll(r io.Reader) ([]Bundle, error) {
	s := NewStreamDecoder(r)
	var out []Bundle
	for {
		b, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

// EncodeAll writes bundles as a JSON array.
func EncodeAll(w io.Writer, bundles []Bundle) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, b := range bundles {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encoding bundle %d: %w", i, err)
		}
		buf.Write(data)
	}
	buf.WriteString("]\n")
	_, err := w.Write(buf.Bytes())
	return err
}
