package document

import "sort"

// propertyOrder is the conventional key order of eo and eo3 metadata
// documents. Keys listed twice take their first position.
var propertyOrder = []string{
	"$schema",
	"name",
	"license",
	"metadata_type",
	"description",
	"metadata",
	"id",
	"label",
	"product",
	"locations",
	"crs",
	"geometry",
	"grids",
	"properties",
	"measurements",
	"accessories",
	"ga_label",
	"name",
	"description",
	"product_type",
	"metadata_type",
	"product_level",
	"product_doi",
	"creation_dt",
	"size_bytes",
	"checksum_path",
	"platform",
	"instrument",
	"format",
	"usgs",
	"rms_string",
	"acquisition",
	"extent",
	"grid_spatial",
	"gqa",
	"browse",
	"image",
	"lineage",
	"product_flags",
}

var lineageOrder = []string{
	"algorithm",
	"machine",
	"ancillary_quality",
	"ancillary",
	"source_datasets",
}

const unknownKeyPriority = 999

func priorities(order []string) map[string]int {
	out := make(map[string]int, len(order))
	for i, k := range order {
		if _, ok := out[k]; !ok {
			out[k] = i
		}
	}
	return out
}

var (
	propertyPriority = priorities(propertyOrder)
	lineagePriority  = priorities(lineageOrder)
)

// Ordered returns a copy of a metadata document with its keys in the
// conventional display order. Unknown keys keep their relative order after
// the known ones. Lineage sections and the documents of source datasets
// are ordered recursively. Non-mapping input is returned unchanged.
func Ordered(doc *Node) *Node {
	if doc == nil || doc.Kind != Mapping {
		return doc
	}
	out := sortedMapping(doc, propertyPriority)
	if md, ok := out.Get("metadata"); ok && md.Kind == Mapping {
		out.Set("metadata", Ordered(md))
	}
	if lineage, ok := out.Get("lineage"); ok && lineage.Kind == Mapping {
		ordered := sortedMapping(lineage, lineagePriority)
		if sources, ok := ordered.Get("source_datasets"); ok && sources.Kind == Mapping {
			srcs := NewMapping()
			for _, e := range sources.Entries {
				srcs.Entries = append(srcs.Entries, Entry{Key: e.Key, Value: Ordered(e.Value)})
			}
			ordered.Set("source_datasets", srcs)
		}
		out.Set("lineage", ordered)
	}
	return out
}

func sortedMapping(n *Node, prio map[string]int) *Node {
	entries := make([]Entry, len(n.Entries))
	copy(entries, n.Entries)
	rank := func(k string) int {
		if p, ok := prio[k]; ok {
			return p
		}
		return unknownKeyPriority
	}
	sort.SliceStable(entries, func(i, k int) bool {
		return rank(entries[i].Key) < rank(entries[k].Key)
	})
	return NewMapping(entries...)
}
