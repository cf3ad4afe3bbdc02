// Package merge combines YAML documents. Later documents win on key
// conflicts; nested mappings are merged key by key while lists and
// scalars are replaced wholesale.
//
// Documents stay yaml.Node trees from load to write, so every scalar
// keeps the tag and spelling it was written with. Salt reads the result
// as YAML 1.1, where "yes" is a boolean and 2020-01-01 a date.
package merge

import "gopkg.in/yaml.v3"

// Merge folds the mapping src into the mapping dst and returns dst. A
// nil dst is allocated. Nodes taken from src are copied, so later merges
// never modify a source document.
func Merge(dst, src *yaml.Node) *yaml.Node {
	if dst == nil {
		dst = NewMapping()
	}
	if src == nil {
		return dst
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		k, v := src.Content[i], src.Content[i+1]
		j := index(dst, k)
		switch {
		case j < 0:
			dst.Content = append(dst.Content, Copy(k), Copy(v))
		case dst.Content[j+1].Kind == yaml.MappingNode && v.Kind == yaml.MappingNode:
			dst.Content[j+1] = Merge(dst.Content[j+1], v)
		default:
			dst.Content[j+1] = Copy(v)
		}
	}
	return dst
}

// All merges docs in order into a fresh mapping.
func All(docs ...*yaml.Node) *yaml.Node {
	merged := NewMapping()
	for _, doc := range docs {
		merged = Merge(merged, doc)
	}
	return merged
}

// Copy returns a deep copy of n with aliases replaced by copies of their
// targets. Anchors and comments are dropped.
func Copy(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return Copy(n.Alias)
	}
	out := &yaml.Node{Kind: n.Kind, Tag: n.Tag, Value: n.Value}
	if n.Kind == yaml.ScalarNode {
		out.Style = n.Style
	}
	if len(n.Content) > 0 {
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = Copy(c)
		}
	}
	return out
}
