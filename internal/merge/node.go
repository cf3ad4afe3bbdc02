package merge

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	strTag   = "!!str"
	mapTag   = "!!map"
	intTag   = "!!int"
	floatTag = "!!float"
	nullTag  = "!!null"
	mergeTag = "!!merge"
)

// Load decodes data and returns its top-level mapping with aliases
// expanded, merge keys (<<) applied and comments dropped. An empty
// document yields (nil, nil); any other non-mapping is an error.
func Load(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, nil
		}
		root = root.Content[0]
	}
	if root.Kind == 0 || IsNull(root) {
		return nil, nil
	}
	n, err := expand(root)
	if err != nil {
		return nil, err
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", kindName(n))
	}
	return n, nil
}

// expand copies n, resolving aliases and merge keys. Keys written in a
// mapping win over merged ones; among merged sources the first wins.
func expand(n *yaml.Node) (*yaml.Node, error) {
	if n.Kind == yaml.AliasNode {
		if n.Alias == nil {
			return nil, fmt.Errorf("line %d: unresolved alias *%s", n.Line, n.Value)
		}
		return expand(n.Alias)
	}
	if n.Kind != yaml.MappingNode && n.Kind != yaml.SequenceNode {
		return Copy(n), nil
	}

	out := &yaml.Node{Kind: n.Kind, Tag: n.Tag}
	if n.Kind == yaml.SequenceNode {
		for _, c := range n.Content {
			e, err := expand(c)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, e)
		}
		return out, nil
	}

	var sources []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		ev, err := expand(v)
		if err != nil {
			return nil, err
		}
		if k.Kind == yaml.ScalarNode && k.ShortTag() == mergeTag {
			srcs, err := mergeSources(k, ev)
			if err != nil {
				return nil, err
			}
			sources = append(sources, srcs...)
			continue
		}
		ek, err := expand(k)
		if err != nil {
			return nil, err
		}
		SetNode(out, ek, ev)
	}
	for _, src := range sources {
		for i := 0; i+1 < len(src.Content); i += 2 {
			if index(out, src.Content[i]) < 0 {
				out.Content = append(out.Content, src.Content[i], src.Content[i+1])
			}
		}
	}
	return out, nil
}

func mergeSources(key, v *yaml.Node) ([]*yaml.Node, error) {
	switch v.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{v}, nil
	case yaml.SequenceNode:
		for _, e := range v.Content {
			if e.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: merge key needs mappings, got %s", key.Line, kindName(e))
			}
		}
		return v.Content, nil
	}
	return nil, fmt.Errorf("line %d: merge key needs a mapping, got %s", key.Line, kindName(v))
}

// Marshal renders a mapping in block style with two-space indentation
// and sorted keys. Scalars are written with their original spelling. A
// nil mapping renders as {}.
func Marshal(n *yaml.Node) ([]byte, error) {
	out := Copy(n)
	if out == nil {
		out = NewMapping()
	}
	sortKeys(out)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortKeys(n *yaml.Node) {
	for _, c := range n.Content {
		sortKeys(c)
	}
	if n.Kind != yaml.MappingNode {
		return
	}
	pairs := make([][2]*yaml.Node, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, [2]*yaml.Node{n.Content[i], n.Content[i+1]})
	}
	slices.SortStableFunc(pairs, func(a, b [2]*yaml.Node) int {
		return compareKeys(a[0], b[0])
	})
	n.Content = n.Content[:0]
	for _, p := range pairs {
		n.Content = append(n.Content, p[0], p[1])
	}
}

// compareKeys orders numeric keys numerically and before all others,
// which sort by their text.
func compareKeys(a, b *yaml.Node) int {
	an, aNum := number(a)
	bn, bNum := number(b)
	switch {
	case aNum && bNum:
		if c := cmp.Compare(an, bn); c != 0 {
			return c
		}
	case aNum:
		return -1
	case bNum:
		return 1
	}
	if c := cmp.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	return cmp.Compare(a.ShortTag(), b.ShortTag())
}

func number(n *yaml.Node) (float64, bool) {
	if n.Kind != yaml.ScalarNode {
		return 0, false
	}
	if tag := n.ShortTag(); tag != intTag && tag != floatTag {
		return 0, false
	}
	f, err := cast.ToFloat64E(n.Value)
	return f, err == nil
}

// NewMapping returns an empty block mapping.
func NewMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: mapTag}
}

// NewString returns a plain string scalar.
func NewString(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: strTag, Value: s}
}

// IsNull reports whether n is a null scalar (~, null or empty).
func IsNull(n *yaml.Node) bool {
	return n != nil && n.Kind == yaml.ScalarNode && n.ShortTag() == nullTag
}

// Scalar returns the text of a non-null scalar.
func Scalar(n *yaml.Node) (string, bool) {
	if n == nil || n.Kind != yaml.ScalarNode || IsNull(n) {
		return "", false
	}
	return n.Value, true
}

// Get returns the value of the string key in mapping m, or nil.
func Get(m *yaml.Node, key string) *yaml.Node {
	if j := index(m, NewString(key)); j >= 0 {
		return m.Content[j+1]
	}
	return nil
}

// Lookup follows string keys through nested mappings.
func Lookup(m *yaml.Node, path ...string) *yaml.Node {
	n := m
	for _, key := range path {
		if n == nil || n.Kind != yaml.MappingNode {
			return nil
		}
		n = Get(n, key)
	}
	return n
}

// Set stores v under the string key in mapping m.
func Set(m *yaml.Node, key string, v *yaml.Node) {
	SetNode(m, NewString(key), v)
}

// SetNode stores v under the key node k, replacing an equal key.
func SetNode(m, k, v *yaml.Node) {
	if j := index(m, k); j >= 0 {
		m.Content[j+1] = v
		return
	}
	m.Content = append(m.Content, k, v)
}

// Delete removes the string key from mapping m.
func Delete(m *yaml.Node, key string) {
	if j := index(m, NewString(key)); j >= 0 {
		m.Content = slices.Delete(m.Content, j, j+2)
	}
}

// index returns the position of key k in mapping m, or -1. Keys are
// equal when their resolved tag and text match, so 1 and "1" differ.
func index(m, k *yaml.Node) int {
	if m == nil || m.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if sameKey(m.Content[i], k) {
			return i
		}
	}
	return -1
}

func sameKey(a, b *yaml.Node) bool {
	if a.Kind != yaml.ScalarNode || b.Kind != yaml.ScalarNode {
		return a == b
	}
	return a.Value == b.Value && a.ShortTag() == b.ShortTag()
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		return "a scalar (" + n.ShortTag() + ")"
	default:
		return "an empty document"
	}
}
