package bundle

import "slices"

// Relations is an ordered multimap from relation label to child bundles.
// Labels keep their insertion order and children keep their order within a
// label. The zero value is empty and ready to use. Like Bundle, Relations is
// copy-on-write: every modifier returns a new value.
type Relations struct {
	labels []string
	items  map[string][]Bundle
}

// NewRelations builds a Relations value from a plain map. Labels are added in
// sorted order since map iteration order is undefined.
func NewRelations(m map[string][]Bundle) Relations {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	var r Relations
	for _, label := range labels {
		r = r.Set(label, m[label])
	}
	return r
}

func (r Relations) clone() Relations {
	out := Relations{
		labels: slices.Clone(r.labels),
		items:  make(map[string][]Bundle, len(r.items)),
	}
	for label, children := range r.items {
		out.items[label] = slices.Clone(children)
	}
	return out
}

// Labels returns the labels that hold at least one child, in insertion order.
func (r Relations) Labels() []string {
	out := make([]string, 0, len(r.labels))
	for _, label := range r.labels {
		if len(r.items[label]) > 0 {
			out = append(out, label)
		}
	}
	return out
}

// Get returns a copy of the children under label.
func (r Relations) Get(label string) []Bundle {
	return slices.Clone(r.items[label])
}

// Has reports whether label holds any children.
func (r Relations) Has(label string) bool {
	return len(r.items[label]) > 0
}

// Len returns the total number of children across all labels.
func (r Relations) Len() int {
	n := 0
	for _, children := range r.items {
		n += len(children)
	}
	return n
}

// Add appends child under label.
func (r Relations) Add(label string, child Bundle) Relations {
	out := r.clone()
	if _, ok := out.items[label]; !ok {
		out.labels = append(out.labels, label)
	}
	out.items[label] = append(out.items[label], child)
	return out
}

// Set replaces the children under label. An empty list removes the label.
func (r Relations) Set(label string, children []Bundle) Relations {
	out := r.clone()
	if len(children) == 0 {
		delete(out.items, label)
		out.labels = slices.DeleteFunc(out.labels, func(l string) bool { return l == label })
		return out
	}
	if _, ok := out.items[label]; !ok {
		out.labels = append(out.labels, label)
	}
	out.items[label] = slices.Clone(children)
	return out
}

// Remove drops the first child under label that is structurally equal to
// child.
func (r Relations) Remove(label string, child Bundle) Relations {
	children := r.items[label]
	idx := slices.IndexFunc(children, func(c Bundle) bool { return c.Equal(child) })
	if idx < 0 {
		return r
	}
	return r.Set(label, slices.Delete(slices.Clone(children), idx, idx+1))
}

// Equal compares two relation maps. Label order is ignored, child order is
// significant and empty labels are treated as absent.
func (r Relations) Equal(o Relations) bool {
	a, b := r.Labels(), o.Labels()
	if len(a) != len(b) {
		return false
	}
	for _, label := range a {
		x, y := r.items[label], o.items[label]
		if !slices.EqualFunc(x, y, Bundle.Equal) {
			return false
		}
	}
	return true
}

// Each calls fn for every child in label order.
func (r Relations) Each(fn func(label string, child Bundle)) {
	for _, label := range r.labels {
		for _, child := range r.items[label] {
			fn(label, child)
		}
	}
}
