package render

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"go-cube-explorer/internal/document"
)

func mustJSON(t *testing.T, src string) *document.Node {
	t.Helper()
	n, err := document.ParseJSON([]byte(src))
	require.NoError(t, err)
	return n
}

func sequenceOf(n int) *document.Node {
	items := make([]*document.Node, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, document.NewNumber(fmt.Sprint(i)))
	}
	return document.NewSequence(items...)
}

func TestBuild_CollapseBoundary(t *testing.T) {
	ctx := NewContext(nil, 0)

	inline := Build(sequenceOf(20), ctx)
	require.False(t, inline.Collapsed)
	require.Len(t, inline.Children, 20)
	require.NotContains(t, string(inline.HTML()), "<details")

	collapsed := Build(sequenceOf(21), ctx)
	require.True(t, collapsed.Collapsed)
	require.Equal(t, 21, collapsed.Count)
	require.Len(t, collapsed.Children, 21)
	out := string(collapsed.HTML())
	require.True(t, strings.HasPrefix(out, `<details class="doc-collapsed"><summary>21 items</summary>`), out)
}

func TestBuild_CustomThreshold(t *testing.T) {
	require.True(t, Build(sequenceOf(4), NewContext(nil, 3)).Collapsed)
	require.False(t, Build(sequenceOf(3), NewContext(nil, 3)).Collapsed)
}

// shape reduces a document and an element tree to the same comparable form.
type shape struct {
	Kind     string
	Key      string
	Children []shape
}

func docShape(n *document.Node, key string) shape {
	s := shape{Key: key}
	switch n.Kind {
	case document.Mapping:
		s.Kind = "map"
		for _, e := range n.Entries {
			s.Children = append(s.Children, docShape(e.Value, e.Key))
		}
	case document.Sequence:
		s.Kind = "list"
		for _, it := range n.Items {
			s.Children = append(s.Children, docShape(it, ""))
		}
	default:
		s.Kind = "leaf"
	}
	return s
}

func elementShape(e *Element) shape {
	s := shape{Key: e.Key}
	switch e.Kind {
	case MapElement:
		s.Kind = "map"
	case ListElement:
		s.Kind = "list"
	default:
		s.Kind = "leaf"
	}
	for _, c := range e.Children {
		s.Children = append(s.Children, elementShape(c))
	}
	return s
}

func TestBuild_IsomorphicToDocument(t *testing.T) {
	docs := []string{
		`{}`,
		`[]`,
		`"text"`,
		`null`,
		`{"id": "abc", "properties": {"eo:platform": "landsat-8", "bands": [1, 2, {"x": null}]}, "empty": {}, "list": []}`,
		`[[[]], {"a": [{"b": {"c": [1]}}]}]`,
	}
	for _, src := range docs {
		doc := mustJSON(t, src)
		if diff := cmp.Diff(docShape(doc, ""), elementShape(Build(doc, NewContext(nil, 0)))); diff != "" {
			t.Fatalf("shape mismatch for %s (-doc +element):\n%s", src, diff)
		}
	}
}

func TestRender_Idempotent(t *testing.T) {
	doc := mustJSON(t, `{"b": [1, 2, 3], "a": {"z": "<tag>", "y": null}}`)
	ctx := NewContext(map[string]string{"a.z": "Zed"}, 0)
	first := Render(doc, ctx)
	second := Render(doc, ctx)
	require.Equal(t, first, second)
}

func TestRender_MappingClassesDescriptionsAndEscaping(t *testing.T) {
	doc := mustJSON(t, `{"properties": {"eo:platform": "<landsat>"}, "nothing": null}`)
	out := string(Render(doc, NewContext(map[string]string{"properties.eo:platform": "Platform code"}, 0)))

	require.Contains(t, out, `class="doc-entry key-properties"`)
	require.Contains(t, out, `class="doc-entry key-properties-eo_platform"`)
	require.Contains(t, out, `title="Platform code"`)
	require.Contains(t, out, `&lt;landsat&gt;`)
	require.NotContains(t, out, `<landsat>`)
	require.Contains(t, out, `<span class="doc-key">nothing:</span> <span class="doc-value null"></span>`)
	require.Less(t, strings.Index(out, "properties"), strings.Index(out, "nothing"))
}

func TestRender_EmptyContainers(t *testing.T) {
	ctx := NewContext(nil, 0)
	require.Equal(t, `<div class="doc-map"></div>`, string(Render(document.NewMapping(), ctx)))
	require.Equal(t, `<ul class="doc-list"></ul>`, string(Render(document.NewSequence(), ctx)))
}

func TestRender_OtherFallsBackToText(t *testing.T) {
	type point struct{ X, Y int }
	ctx := NewContext(nil, 0)
	out := string(Render(document.FromValue(point{1, 2}), ctx))
	require.Equal(t, `<span class="doc-value doc-other">{&#34;X&#34;:1,&#34;Y&#34;:2}</span>`, out)

	ch := make(chan int)
	out = string(Render(document.NewOther(ch), ctx))
	require.Contains(t, out, "0x")
}

func TestRender_DoesNotModifyInput(t *testing.T) {
	doc := mustJSON(t, `{"a": [1, {"b": null}], "c": "d"}`)
	before := doc.Clone()
	_ = Render(doc, NewContext(nil, 1))
	if diff := cmp.Diff(before, doc); diff != "" {
		t.Fatalf("input modified (-before +after):\n%s", diff)
	}
}

func TestContext_ChildDoesNotAlias(t *testing.T) {
	root := NewContext(nil, 0).Child("a")
	left := root.Child("b")
	right := root.Child("c")
	require.Equal(t, []string{"a", "b"}, left.Path())
	require.Equal(t, []string{"a", "c"}, right.Path())
	require.Equal(t, "key-a-b", left.KeyClass())
}
