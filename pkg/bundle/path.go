package bundle

import (
	"strconv"
	"strings"
)

// Paths address nodes and values inside a bundle tree. A path is a list of
// "/"-separated steps. Every step except a trailing property key has the form
// label[index]:
//
//	describes[0]                 first description
//	describes[0]/hasDate[1]      second date of the first description
//	describes[0]/name            "name" property of the first description
//
// A negative index counts from the end. In SetBundle an index of -1 in the
// last step appends instead of replacing.

type step struct {
	label string
	index int
}

func parseStep(path, s string) (step, error) {
	open := strings.IndexByte(s, '[')
	if open <= 0 || !strings.HasSuffix(s, "]") {
		return step{}, &PathError{Path: path, Reason: "expected label[index] in " + strconv.Quote(s)}
	}
	idx, err := strconv.Atoi(s[open+1 : len(s)-1])
	if err != nil {
		return step{}, &PathError{Path: path, Reason: "bad index in " + strconv.Quote(s)}
	}
	return step{label: s[:open], index: idx}, nil
}

func parseSteps(path string, parts []string) ([]step, error) {
	steps := make([]step, 0, len(parts))
	for _, p := range parts {
		st, err := parseStep(path, p)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &PathError{Path: path, Reason: "empty path"}
	}
	return strings.Split(strings.Trim(path, "/"), "/"), nil
}

func resolveIndex(path string, children []Bundle, idx int) (int, error) {
	if idx < 0 {
		idx += len(children)
	}
	if idx < 0 || idx >= len(children) {
		return 0, &PathError{Path: path, Reason: "index out of range"}
	}
	return idx, nil
}

// GetBundle returns the sub-bundle at path.
func GetBundle(b Bundle, path string) (Bundle, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Bundle{}, err
	}
	steps, err := parseSteps(path, parts)
	if err != nil {
		return Bundle{}, err
	}
	cur := b
	for _, st := range steps {
		children := cur.relations.items[st.label]
		i, err := resolveIndex(path, children, st.index)
		if err != nil {
			return Bundle{}, err
		}
		cur = children[i]
	}
	return cur, nil
}

// GetValue returns the property at path, whose last step is a property key.
// A missing key yields a null Value.
func GetValue(b Bundle, path string) (Value, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Value{}, err
	}
	target := b
	if len(parts) > 1 {
		target, err = GetBundle(b, strings.Join(parts[:len(parts)-1], "/"))
		if err != nil {
			return Value{}, err
		}
	}
	v, _ := target.DataValue(parts[len(parts)-1])
	return v, nil
}

// SetValue returns a copy of b with the property at path set to v.
func SetValue(b Bundle, path string, v Value) (Bundle, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Bundle{}, err
	}
	steps, err := parseSteps(path, parts[:len(parts)-1])
	if err != nil {
		return Bundle{}, err
	}
	key := parts[len(parts)-1]
	return update(b, path, steps, func(target Bundle) (Bundle, error) {
		return target.WithDataValue(key, v), nil
	})
}

// SetBundle returns a copy of b with the sub-bundle at path replaced by
// child. An index of -1 in the last step appends child.
func SetBundle(b Bundle, path string, child Bundle) (Bundle, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Bundle{}, err
	}
	steps, err := parseSteps(path, parts)
	if err != nil {
		return Bundle{}, err
	}
	last := steps[len(steps)-1]
	return update(b, path, steps[:len(steps)-1], func(parent Bundle) (Bundle, error) {
		if last.index == -1 {
			return parent.WithRelation(last.label, child), nil
		}
		children := parent.Relations(last.label)
		i, err := resolveIndex(path, children, last.index)
		if err != nil {
			return Bundle{}, err
		}
		children[i] = child
		return parent.WithRelations(last.label, children), nil
	})
}

// DeleteBundle returns a copy of b without the sub-bundle at path.
func DeleteBundle(b Bundle, path string) (Bundle, error) {
	parts, err := splitPath(path)
	if err != nil {
		return Bundle{}, err
	}
	steps, err := parseSteps(path, parts)
	if err != nil {
		return Bundle{}, err
	}
	last := steps[len(steps)-1]
	return update(b, path, steps[:len(steps)-1], func(parent Bundle) (Bundle, error) {
		children := parent.Relations(last.label)
		i, err := resolveIndex(path, children, last.index)
		if err != nil {
			return Bundle{}, err
		}
		children = append(children[:i], children[i+1:]...)
		return parent.WithRelations(last.label, children), nil
	})
}

// update rebuilds the spine from b down to the node at steps, applying fn to
// that node.
func update(b Bundle, path string, steps []step, fn func(Bundle) (Bundle, error)) (Bundle, error) {
	if len(steps) == 0 {
		return fn(b)
	}
	st := steps[0]
	children := b.Relations(st.label)
	i, err := resolveIndex(path, children, st.index)
	if err != nil {
		return Bundle{}, err
	}
	updated, err := update(children[i], path, steps[1:], fn)
	if err != nil {
		return Bundle{}, err
	}
	children[i] = updated
	return b.WithRelations(st.label, children), nil
}
