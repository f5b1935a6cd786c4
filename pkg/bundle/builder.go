package bundle

import "github.com/orneryd/bundledb/pkg/entity"

// Builder assembles a Bundle step by step. It is a convenience over the
// copy-on-write modifiers for callers that build large trees.
//
//	b := bundle.NewBuilder(entity.DatePeriod).
//		String("startDate", "1939-09-01").
//		String("endDate", "1945-05-08").
//		Build()
type Builder struct {
	b Bundle
}

func NewBuilder(t entity.Type) *Builder {
	return &Builder{b: New(t)}
}

func (bb *Builder) ID(id string) *Builder {
	bb.b = bb.b.WithID(id)
	return bb
}

func (bb *Builder) Value(key string, v Value) *Builder {
	bb.b = bb.b.WithDataValue(key, v)
	return bb
}

func (bb *Builder) String(key, s string) *Builder {
	return bb.Value(key, StringValue(s))
}

func (bb *Builder) Number(key string, n float64) *Builder {
	return bb.Value(key, NumberValue(n))
}

func (bb *Builder) Bool(key string, v bool) *Builder {
	return bb.Value(key, BoolValue(v))
}

func (bb *Builder) List(key string, items ...string) *Builder {
	return bb.Value(key, ListValue(items...))
}

func (bb *Builder) Meta(key string, v Value) *Builder {
	bb.b = bb.b.WithMetaValue(key, v)
	return bb
}

func (bb *Builder) Relation(label string, children ...Bundle) *Builder {
	for _, c := range children {
		bb.b = bb.b.WithRelation(label, c)
	}
	return bb
}

func (bb *Builder) Build() Bundle { return bb.b }
