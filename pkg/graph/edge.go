package graph

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/sanonone/tagdb/pkg/kv"
)

func (t *tx) hasKey(key []byte) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// edgesBetween counts edges from -> to present in both adjacency lists.
func (t *tx) edgesBetween(from, to uuid.UUID) (int, error) {
	prefix := []byte(prefixRel + from.String() + ":" + to.String() + ":")
	n := 0
	err := t.Iterate(prefix, func(key, _ []byte) error {
		kind, err := ParseEdgeKind(string(bytes.TrimPrefix(key, prefix)))
		if err != nil {
			return err
		}
		ok, err := t.hasKey(revKey(to, from, kind))
		if err != nil {
			return err
		}
		if ok {
			n++
		}
		return nil
	})
	return n, err
}

func (t *tx) countShared(a, b uuid.UUID) (int, error) {
	n, err := t.edgesBetween(a, b)
	if err != nil || a == b {
		return n, err
	}
	m, err := t.edgesBetween(b, a)
	return n + m, err
}

func (t *tx) createEdge(from, to uuid.UUID, kind EdgeKind) error {
	if kind == AnyKind {
		return &Error{Kind: ErrInvalidArgument, Value: kind.String()}
	}
	for _, id := range []uuid.UUID{from, to} {
		ok, err := t.exists(id)
		if err != nil {
			return err
		}
		if !ok {
			return &Error{Kind: ErrNotFound, Value: id.String(), IDs: []uuid.UUID{id}}
		}
	}
	if err := t.Set(relKey(from, to, kind), nil); err != nil {
		return err
	}
	if err := t.Set(revKey(to, from, kind), nil); err != nil {
		return err
	}
	t.edges = append(t.edges, kind)
	return nil
}

// eachAdjacent calls fn for every edge of id in dir matching kind.
func (t *tx) eachAdjacent(id uuid.UUID, kind EdgeKind, dir Direction, fn func(other uuid.UUID, kind EdgeKind) error) error {
	if dir != Outbound && dir != Inbound {
		return &Error{Kind: ErrInvalidArgument, Value: dir.String()}
	}
	prefix := adjacencyPrefix(id, dir)
	return t.Iterate(prefix, func(key, _ []byte) error {
		other, k, err := parseAdjacency(key, prefix)
		if err != nil {
			return err
		}
		if kind != AnyKind && k != kind {
			return nil
		}
		return fn(other, k)
	})
}

// neighbors returns the distinct vertices adjacent to id, sorted by id.
func (t *tx) neighbors(id uuid.UUID, kind EdgeKind, dir Direction) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	err := t.eachAdjacent(id, kind, dir, func(other uuid.UUID, _ EdgeKind) error {
		if _, dup := seen[other]; !dup {
			seen[other] = struct{}{}
			out = append(out, other)
		}
		return nil
	})
	sortIDs(out)
	return out, err
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

// CountShared returns the number of edges connecting a and b in either
// direction. Only edges recorded in both adjacency lists count.
func (s *Store) CountShared(ctx context.Context, a, b uuid.UUID) (int, error) {
	var n int
	err := s.view(ctx, "CountShared", func(t *tx) error {
		var err error
		n, err = t.countShared(a, b)
		return err
	})
	return n, err
}

// CreateEdge adds a directed edge. Both endpoints must exist. Creating an
// edge that already exists is a no-op.
func (s *Store) CreateEdge(ctx context.Context, from, to uuid.UUID, kind EdgeKind) error {
	return s.update(ctx, "CreateEdge", func(t *tx) error {
		return t.createEdge(from, to, kind)
	})
}

// CountEdges returns the number of edges leaving (Outbound) or entering
// (Inbound) id. AnyKind counts every kind.
func (s *Store) CountEdges(ctx context.Context, id uuid.UUID, kind EdgeKind, dir Direction) (int, error) {
	var n int
	err := s.view(ctx, "CountEdges", func(t *tx) error {
		n = 0
		return t.eachAdjacent(id, kind, dir, func(uuid.UUID, EdgeKind) error {
			n++
			return nil
		})
	})
	return n, err
}

// Neighbors returns the distinct vertices one edge away from id in dir.
func (s *Store) Neighbors(ctx context.Context, id uuid.UUID, kind EdgeKind, dir Direction) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(ctx, "Neighbors", func(t *tx) error {
		var err error
		ids, err = t.neighbors(id, kind, dir)
		return err
	})
	return ids, err
}
