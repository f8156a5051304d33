package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// VertexType is the closed set of vertex types.
type VertexType uint8

const (
	// AnyType matches every type in filters. It is never stored.
	AnyType VertexType = iota
	Tag
	Path
	Http
)

// TagnameProperty is the property carrying a tag's text.
const TagnameProperty = "Tagname"

func (t VertexType) String() string {
	switch t {
	case Tag:
		return "Tag"
	case Path:
		return "Path"
	case Http:
		return "Http"
	case AnyType:
		return "Any"
	default:
		return fmt.Sprintf("VertexType(%d)", uint8(t))
	}
}

// IsItem reports whether t is a taggable item type.
func (t VertexType) IsItem() bool {
	return t == Path || t == Http
}

// ParseVertexType parses a type name case-insensitively.
// The empty string and "any" parse to AnyType.
func ParseVertexType(s string) (VertexType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tag":
		return Tag, nil
	case "path":
		return Path, nil
	case "http":
		return Http, nil
	case "", "any":
		return AnyType, nil
	}
	return AnyType, fmt.Errorf("%w: unknown vertex type %q", ErrInvalidArgument, s)
}

// EdgeKind is the closed set of edge kinds.
type EdgeKind uint8

const (
	// AnyKind matches every kind in filters. It is never stored.
	AnyKind EdgeKind = iota
	// Tags links a Tag vertex to the item it labels.
	Tags
)

func (k EdgeKind) String() string {
	switch k {
	case Tags:
		return "tags"
	case AnyKind:
		return "any"
	default:
		return fmt.Sprintf("EdgeKind(%d)", uint8(k))
	}
}

// ParseEdgeKind parses the stored form of an edge kind.
func ParseEdgeKind(s string) (EdgeKind, error) {
	switch s {
	case "tags":
		return Tags, nil
	}
	return AnyKind, fmt.Errorf("%w: unknown edge kind %q", ErrInvalidArgument, s)
}

// Direction selects which adjacency list a query walks.
type Direction uint8

const (
	Outbound Direction = iota + 1
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Inbound {
		return Outbound
	}
	return Inbound
}

// Property is one name/value pair of a vertex.
type Property struct {
	Name  string
	Value string
}

// Properties keeps insertion order.
type Properties []Property

// Get returns the first value stored under name.
func (p Properties) Get(name string) (string, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Value, true
		}
	}
	return "", false
}

// Map returns the properties keyed by name. Later duplicates are ignored.
func (p Properties) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, prop := range p {
		if _, ok := m[prop.Name]; !ok {
			m[prop.Name] = prop.Value
		}
	}
	return m
}

// Vertex is a stored vertex.
type Vertex struct {
	ID   uuid.UUID
	Type VertexType
	// Label is the tag type given when a tag was first created. It is not
	// part of the vertex identity and is empty for items.
	Label      string
	Properties Properties
}

// Value returns the vertex's first property value, the string it is known by.
func (v Vertex) Value() string {
	if len(v.Properties) == 0 {
		return ""
	}
	return v.Properties[0].Value
}

// Edge is a directed typed edge.
type Edge struct {
	From uuid.UUID
	To   uuid.UUID
	Kind EdgeKind
}

// Row is one tag/item association as returned by the query operations.
type Row struct {
	Tag      string
	Item     string
	ItemType VertexType
}

// Level holds the values reached at one traversal depth.
type Level struct {
	Depth  int
	Values []string
}

// Start identifies the vertex a traversal begins from.
type Start struct {
	// Type restricts the match. AnyType accepts every type.
	Type     VertexType
	Property string
	Value    string
}

// TraversalLimits bounds NeighborsAtDepth.
type TraversalLimits struct {
	MaxHops     int
	MaxFrontier int
}

// DefaultTraversalLimits returns the limits used when none are configured.
func DefaultTraversalLimits() TraversalLimits {
	return TraversalLimits{MaxHops: 8, MaxFrontier: 10000}
}
