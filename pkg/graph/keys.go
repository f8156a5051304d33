package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key layout:
//
//	v:<id>                          vertex record (JSON)
//	idx:<name>:<sha256(value)>:<id> secondary index, value = type name
//	rel:<from>:<to>:<kind>          outbound adjacency
//	rev:<to>:<from>:<kind>          inbound adjacency
const (
	prefixVertex = "v:"
	prefixIndex  = "idx:"
	prefixRel    = "rel:"
	prefixRev    = "rev:"

	idLen = 36
)

func vertexKey(id uuid.UUID) []byte {
	return []byte(prefixVertex + id.String())
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func indexPrefix(name, value string) []byte {
	return []byte(prefixIndex + name + ":" + hashValue(value) + ":")
}

func indexKey(name, value string, id uuid.UUID) []byte {
	return append(indexPrefix(name, value), id.String()...)
}

func adjacencyPrefix(id uuid.UUID, dir Direction) []byte {
	if dir == Inbound {
		return []byte(prefixRev + id.String() + ":")
	}
	return []byte(prefixRel + id.String() + ":")
}

func relKey(from, to uuid.UUID, kind EdgeKind) []byte {
	return []byte(prefixRel + from.String() + ":" + to.String() + ":" + kind.String())
}

func revKey(to, from uuid.UUID, kind EdgeKind) []byte {
	return []byte(prefixRev + to.String() + ":" + from.String() + ":" + kind.String())
}

// parseAdjacency splits the "<other>:<kind>" tail of an adjacency key.
func parseAdjacency(key, prefix []byte) (uuid.UUID, EdgeKind, error) {
	tail := string(key[len(prefix):])
	if len(tail) < idLen+2 || tail[idLen] != ':' {
		return uuid.Nil, AnyKind, fmt.Errorf("malformed adjacency key %q", key)
	}
	other, err := uuid.Parse(tail[:idLen])
	if err != nil {
		return uuid.Nil, AnyKind, fmt.Errorf("malformed adjacency key %q: %w", key, err)
	}
	kind, err := ParseEdgeKind(tail[idLen+1:])
	if err != nil {
		return uuid.Nil, AnyKind, err
	}
	return other, kind, nil
}

// parseIndexID extracts the vertex id from an index key.
func parseIndexID(key []byte) (uuid.UUID, error) {
	if len(key) < idLen {
		return uuid.Nil, fmt.Errorf("malformed index key %q", key)
	}
	return uuid.Parse(string(key[len(key)-idLen:]))
}

func validPropertyName(name string) bool {
	return name != "" && !strings.Contains(name, ":")
}

// vertexRecord is the stored form of a vertex.
type vertexRecord struct {
	Type  string      `json:"t"`
	Label string      `json:"l"`
	Props [][2]string `json:"p"`
}

func encodeVertex(v Vertex) ([]byte, error) {
	rec := vertexRecord{
		Type:  v.Type.String(),
		Label: v.Label,
		Props: make([][2]string, len(v.Properties)),
	}
	for i, p := range v.Properties {
		rec.Props[i] = [2]string{p.Name, p.Value}
	}
	return json.Marshal(rec)
}

func decodeVertex(id uuid.UUID, data []byte) (Vertex, error) {
	var rec vertexRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Vertex{}, fmt.Errorf("decode vertex %s: %w", id, err)
	}
	typ, err := ParseVertexType(rec.Type)
	if err != nil || typ == AnyType {
		return Vertex{}, fmt.Errorf("decode vertex %s: bad type %q", id, rec.Type)
	}
	v := Vertex{ID: id, Type: typ, Label: rec.Label, Properties: make(Properties, len(rec.Props))}
	for i, p := range rec.Props {
		v.Properties[i] = Property{Name: p[0], Value: p[1]}
	}
	return v, nil
}
