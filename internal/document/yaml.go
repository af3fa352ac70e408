package document

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a single YAML document keeping mapping key order.
// Anchors and aliases are expanded.
func ParseYAML(data []byte) (*Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if root.Kind == 0 {
		return NewNull(), nil
	}
	return fromYAML(&root, 0)
}

// Parse decodes JSON or YAML, picking JSON when the input starts with a
// JSON container.
func Parse(data []byte) (*Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if n, err := ParseJSON(trimmed); err == nil {
			return n, nil
		}
	}
	return ParseYAML(data)
}

const maxAliasDepth = 64

func fromYAML(y *yaml.Node, depth int) (*Node, error) {
	if depth > maxAliasDepth {
		return nil, fmt.Errorf("decode yaml: nesting too deep at line %d", y.Line)
	}
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return NewNull(), nil
		}
		return fromYAML(y.Content[0], depth+1)
	case yaml.AliasNode:
		return fromYAML(y.Alias, depth+1)
	case yaml.MappingNode:
		out := NewMapping()
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.ShortTag() == "!!merge" {
				if err := mergeInto(out, v, depth); err != nil {
					return nil, err
				}
				continue
			}
			child, err := fromYAML(v, depth+1)
			if err != nil {
				return nil, err
			}
			out.Set(k.Value, child)
		}
		return out, nil
	case yaml.SequenceNode:
		out := NewSequence()
		for _, it := range y.Content {
			child, err := fromYAML(it, depth+1)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, child)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalarFromYAML(y), nil
	}
	return nil, fmt.Errorf("decode yaml: unsupported node kind %d at line %d", y.Kind, y.Line)
}

func mergeInto(out *Node, v *yaml.Node, depth int) error {
	srcs := []*yaml.Node{v}
	if v.Kind == yaml.SequenceNode {
		srcs = v.Content
	}
	for _, s := range srcs {
		m, err := fromYAML(s, depth+1)
		if err != nil {
			return err
		}
		for _, e := range m.Entries {
			if _, exists := out.Get(e.Key); !exists {
				out.Set(e.Key, e.Value)
			}
		}
	}
	return nil
}

func scalarFromYAML(y *yaml.Node) *Node {
	switch y.ShortTag() {
	case "!!null":
		return NewNull()
	case "!!bool":
		var b bool
		if err := y.Decode(&b); err == nil {
			return NewBool(b)
		}
	case "!!int", "!!float":
		return NewNumber(y.Value)
	}
	return NewString(y.Value)
}

// ToYAML renders n as a YAML document. A non-empty header is written as a
// leading comment block.
func ToYAML(n *Node, header string) ([]byte, error) {
	root := toYAMLNode(n)
	if header != "" {
		root.HeadComment = header
	}
	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalYAML lets a Node be embedded in values passed to yaml.Marshal.
func (n *Node) MarshalYAML() (any, error) {
	return toYAMLNode(n), nil
}

func toYAMLNode(n *Node) *yaml.Node {
	if n == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	switch n.Kind {
	case Mapping:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, e := range n.Entries {
			out.Content = append(out.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key},
				toYAMLNode(e.Value))
		}
		return out
	case Sequence:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, it := range n.Items {
			out.Content = append(out.Content, toYAMLNode(it))
		}
		return out
	case Scalar:
		switch v := n.Value.(type) {
		case bool:
			val := "false"
			if v {
				val = "true"
			}
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: val}
		case Number:
			tag := "!!int"
			if strings.ContainsAny(string(v), ".eE") {
				tag = "!!float"
			}
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: string(v)}
		}
		out := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n.String()}
		if strings.Contains(out.Value, "\n") {
			out.Style = yaml.LiteralStyle
		}
		return out
	case Other:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: OtherText(n.Value)}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}
