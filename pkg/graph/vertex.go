package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/tagdb/pkg/kv"
)

// --- Transaction-level helpers ---

func (t *tx) getVertex(id uuid.UUID) (Vertex, error) {
	data, err := t.Get(vertexKey(id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return Vertex{}, &Error{Kind: ErrNotFound, Value: id.String(), IDs: []uuid.UUID{id}}
	}
	if err != nil {
		return Vertex{}, err
	}
	return decodeVertex(id, data)
}

func (t *tx) exists(id uuid.UUID) (bool, error) {
	_, err := t.Get(vertexKey(id))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *tx) putVertex(v Vertex) error {
	data, err := encodeVertex(v)
	if err != nil {
		return err
	}
	if err := t.Set(vertexKey(v.ID), data); err != nil {
		return err
	}
	for _, p := range v.Properties {
		if err := t.Set(indexKey(p.Name, p.Value, v.ID), []byte(v.Type.String())); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) createVertex(typ VertexType, label, name, value string) (uuid.UUID, error) {
	if !typ.IsItem() && typ != Tag {
		return uuid.Nil, &Error{Kind: ErrInvalidArgument, Value: typ.String()}
	}
	if !validPropertyName(name) {
		return uuid.Nil, &Error{Kind: ErrInvalidArgument, Value: name}
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, err
	}
	v := Vertex{ID: id, Type: typ, Label: label, Properties: Properties{{Name: name, Value: value}}}
	if err := t.putVertex(v); err != nil {
		return uuid.Nil, err
	}
	t.vertices = append(t.vertices, typ)
	return id, nil
}

// findByProperty walks the secondary index and confirms every hit against
// the vertex record. typ restricts the result unless it is AnyType.
func (t *tx) findByProperty(typ VertexType, name, value string) ([]uuid.UUID, error) {
	if !validPropertyName(name) {
		return nil, &Error{Kind: ErrInvalidArgument, Value: name}
	}
	var ids []uuid.UUID
	err := t.Iterate(indexPrefix(name, value), func(key, typeName []byte) error {
		if typ != AnyType && string(typeName) != typ.String() {
			return nil
		}
		id, err := parseIndexID(key)
		if err != nil {
			return err
		}
		v, err := t.getVertex(id)
		if err != nil {
			// A dangling index entry is skipped; Reindex removes it.
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if matches(v, typ, name, value) {
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// scanByProperty is the linear counterpart of findByProperty.
func (t *tx) scanByProperty(typ VertexType, name, value string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := t.eachVertex(func(v Vertex) error {
		if matches(v, typ, name, value) {
			ids = append(ids, v.ID)
		}
		return nil
	})
	return ids, err
}

func matches(v Vertex, typ VertexType, name, value string) bool {
	if typ != AnyType && v.Type != typ {
		return false
	}
	for _, p := range v.Properties {
		if p.Name == name && p.Value == value {
			return true
		}
	}
	return false
}

func (t *tx) eachVertex(fn func(Vertex) error) error {
	return t.Iterate([]byte(prefixVertex), func(key, data []byte) error {
		id, err := uuid.Parse(strings.TrimPrefix(string(key), prefixVertex))
		if err != nil {
			return err
		}
		v, err := decodeVertex(id, data)
		if err != nil {
			return err
		}
		return fn(v)
	})
}

// findOrCreate returns the single vertex of typ carrying name=value,
// creating it (with label) when there is none.
func (t *tx) findOrCreate(typ VertexType, label, name, value string) (uuid.UUID, error) {
	ids, err := t.findByProperty(typ, name, value)
	if err != nil {
		return uuid.Nil, err
	}
	switch len(ids) {
	case 0:
		return t.createVertex(typ, label, name, value)
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, &Error{Kind: ErrAmbiguousMatch, Value: value, IDs: ids}
	}
}

// deleteVertex removes id, its index entries and every incident edge.
func (t *tx) deleteVertex(id uuid.UUID) error {
	v, err := t.getVertex(id)
	if err != nil {
		return err
	}

	var doomed [][]byte
	for _, dir := range []Direction{Outbound, Inbound} {
		prefix := adjacencyPrefix(id, dir)
		err := t.Iterate(prefix, func(key, _ []byte) error {
			other, kind, err := parseAdjacency(key, prefix)
			if err != nil {
				return err
			}
			doomed = append(doomed, key)
			if dir == Outbound {
				doomed = append(doomed, revKey(other, id, kind))
			} else {
				doomed = append(doomed, relKey(other, id, kind))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, p := range v.Properties {
		doomed = append(doomed, indexKey(p.Name, p.Value, id))
	}
	doomed = append(doomed, vertexKey(id))

	for _, key := range doomed {
		if err := t.Delete(key); err != nil {
			return err
		}
	}
	t.deleted++
	return nil
}

// --- Public API ---

// CreateVertex stores a new vertex of typ with one property and returns its id.
// It never deduplicates; use FindOrCreate for that.
func (s *Store) CreateVertex(ctx context.Context, typ VertexType, name, value string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.update(ctx, "CreateVertex", func(t *tx) error {
		var err error
		id, err = t.createVertex(typ, "", name, value)
		return err
	})
	return id, err
}

// FindByProperty returns the ids of every vertex with a property name equal
// to value, in key order.
func (s *Store) FindByProperty(ctx context.Context, name, value string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(ctx, "FindByProperty", func(t *tx) error {
		var err error
		ids, err = t.findByProperty(AnyType, name, value)
		return err
	})
	return ids, err
}

// ScanByProperty answers the same question as FindByProperty by reading every
// vertex record. Its cost is linear in the number of vertices.
func (s *Store) ScanByProperty(ctx context.Context, name, value string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(ctx, "ScanByProperty", func(t *tx) error {
		var err error
		ids, err = t.scanByProperty(AnyType, name, value)
		return err
	})
	return ids, err
}

// FindOrCreate returns the vertex of typ whose property name equals value,
// creating it if absent. Calling it twice yields the same id.
func (s *Store) FindOrCreate(ctx context.Context, typ VertexType, name, value string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.update(ctx, "FindOrCreate", func(t *tx) error {
		var err error
		id, err = t.findOrCreate(typ, "", name, value)
		return err
	})
	return id, err
}

// GetVertex loads a vertex by id.
func (s *Store) GetVertex(ctx context.Context, id uuid.UUID) (Vertex, error) {
	var v Vertex
	err := s.view(ctx, "GetVertex", func(t *tx) error {
		var err error
		v, err = t.getVertex(id)
		return err
	})
	return v, err
}

// GetProperties returns the properties of a vertex keyed by name.
func (s *Store) GetProperties(ctx context.Context, id uuid.UUID) (map[string]string, error) {
	v, err := s.GetVertex(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.Properties.Map(), nil
}

// DeleteByProperty deletes every vertex whose property name equals value,
// with its incident edges, and returns how many were removed.
func (s *Store) DeleteByProperty(ctx context.Context, name, value string) (int, error) {
	var n int
	err := s.update(ctx, "DeleteByProperty", func(t *tx) error {
		ids, err := t.findByProperty(AnyType, name, value)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := t.deleteVertex(id); err != nil {
				return err
			}
		}
		n = len(ids)
		return nil
	})
	if err == nil && n > 0 {
		s.logger.Debug("vertices deleted", "property", name, "value", value, "count", n)
	}
	return n, err
}

// DeleteVertex deletes one vertex and its incident edges.
func (s *Store) DeleteVertex(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, "DeleteVertex", func(t *tx) error {
		return t.deleteVertex(id)
	})
}

// CountVertices returns the total number of vertices.
func (s *Store) CountVertices(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, "CountVertices", func(t *tx) error {
		n = 0
		return t.Iterate([]byte(prefixVertex), func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// ListVertices returns every vertex of typ (AnyType for all), ordered by id.
func (s *Store) ListVertices(ctx context.Context, typ VertexType) ([]Vertex, error) {
	var out []Vertex
	err := s.view(ctx, "ListVertices", func(t *tx) error {
		out = out[:0]
		return t.eachVertex(func(v Vertex) error {
			if typ == AnyType || v.Type == typ {
				out = append(out, v)
			}
			return nil
		})
	})
	return out, err
}

// Reindex rebuilds the secondary index from the vertex records and removes
// entries that no longer match a record. It returns the number of index
// entries written.
//
// The work is split into transactions of at most Options.ReindexBatchSize
// writes, so it is not atomic: readers may see stale entries until the last
// batch commits, which lookups already tolerate. Writers wait until the
// rebuild is done.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	const op = "Reindex"
	start := time.Now()

	s.writeMu.Lock()
	n, err := s.reindex(ctx)
	s.writeMu.Unlock()

	err = wrapError(op, err)
	s.observe(op, start, err)
	if err == nil {
		s.logger.Info("secondary index rebuilt", "entries", n)
	}
	return n, err
}

type indexEntry struct {
	key   []byte
	value []byte
}

func (s *Store) reindex(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var (
		want  []indexEntry
		stale [][]byte
	)
	err := s.backend.View(ctx, func(txn kv.Txn) error {
		t := &tx{Txn: txn}
		expected := make(map[string]struct{})
		if err := t.eachVertex(func(v Vertex) error {
			for _, p := range v.Properties {
				key := indexKey(p.Name, p.Value, v.ID)
				expected[string(key)] = struct{}{}
				want = append(want, indexEntry{key: key, value: []byte(v.Type.String())})
			}
			return nil
		}); err != nil {
			return err
		}
		return t.Iterate([]byte(prefixIndex), func(key, _ []byte) error {
			if _, ok := expected[string(key)]; !ok {
				stale = append(stale, key)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	// Correct entries go in before stale ones go out, so a lookup never
	// misses a live vertex mid-rebuild.
	size := s.opts.ReindexBatchSize
	for lo := 0; lo < len(want); lo += size {
		batch := want[lo:min(lo+size, len(want))]
		if err := s.backend.Update(ctx, func(txn kv.Txn) error {
			for _, e := range batch {
				if err := txn.Set(e.key, e.value); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}
	for lo := 0; lo < len(stale); lo += size {
		batch := stale[lo:min(lo+size, len(stale))]
		if err := s.backend.Update(ctx, func(txn kv.Txn) error {
			for _, key := range batch {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}
	if len(stale) > 0 {
		s.logger.Debug("stale index entries removed", "entries", len(stale))
	}
	return len(want), nil
}
